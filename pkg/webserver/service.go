// Read-only web surface over the live stream: latest reading per device
// and a websocket fan-out of every accepted reading. The dashboard
// proper lives elsewhere; this process only feeds it.
package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NotCoffee418/ct6_collector/pkg/types"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // LAN-only deployment
	},
}

const (
	// clientSendBuffer absorbs bursts before a consumer counts as slow.
	clientSendBuffer = 32
	writeWait        = 5 * time.Second
)

// client pairs a websocket connection with its outbound buffer. The
// writer goroutine is the connection's only writer; everything else
// goes through send.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Server struct {
	BindAddress   string
	BindPort      int
	AccessLogPath string

	mu        sync.RWMutex
	latest    map[string]types.Reading
	clients   map[*client]bool
	accessLog *os.File
}

func New(bindAddress string, bindPort int, accessLogPath string) *Server {
	return &Server{
		BindAddress:   bindAddress,
		BindPort:      bindPort,
		AccessLogPath: accessLogPath,
		latest:        make(map[string]types.Reading),
		clients:       make(map[*client]bool),
	}
}

// Publish feeds one accepted reading to the web surface. Called from the
// session goroutines; safe for concurrent use and never blocks on
// client I/O. A client whose buffer is full is dropped on the spot so a
// stalled dashboard cannot back up ingestion.
func (s *Server) Publish(r types.Reading) {
	data, err := json.Marshal(readingView(r))
	if err != nil {
		log.Printf("Error marshaling reading: %v", err)
		return
	}

	s.mu.Lock()
	s.latest[r.DeviceID] = r
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			delete(s.clients, c)
			close(c.send)
			log.Printf("Dropping slow websocket client %s", c.conn.RemoteAddr())
		}
	}
	s.mu.Unlock()
}

// writePump is the single writer for one client connection.
func (s *Server) writePump(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(c)
			return
		}
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.AccessLogPath != "" {
		f, err := os.OpenFile(s.AccessLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open access log: %w", err)
		}
		s.accessLog = f
		defer f.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.BindAddress, s.BindPort),
		Handler: s.logAccess(mux),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Web surface listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) logAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.accessLog != nil {
			fmt.Fprintf(s.accessLog, "%s %s %s %s\n",
				time.Now().UTC().Format(time.RFC3339), r.RemoteAddr, r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "CT6 collector",
		"status":  "running",
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ids)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")

	s.mu.RLock()
	reading, ok := s.latest[device]
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "no readings for device",
		})
		return
	}
	json.NewEncoder(w).Encode(readingView(reading))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	go s.writePump(c)

	// Drain client messages to detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.removeClient(c)
			break
		}
	}
}

// removeClient unregisters and closes a client. The map membership
// check keeps the send channel from being closed twice when the read
// and write sides fail around the same time.
func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// view is the JSON shape served to clients. Float fields are pointers
// because NaN survives decode on the Reading but has no JSON rendering;
// it serialises as null here.
type view struct {
	ReceiveTime  string     `json:"receive_time"`
	DeviceID     string     `json:"device_id"`
	DeviceName   string     `json:"device_name"`
	RSSI         int        `json:"rssi"`
	TemperatureC *float64   `json:"temperature_c"`
	Ports        []portView `json:"ports"`
}

type portView struct {
	Name        string   `json:"name"`
	ActiveW     *float64 `json:"active_w"`
	ReactiveW   *float64 `json:"reactive_w"`
	ApparentW   *float64 `json:"apparent_w"`
	PowerFactor *float64 `json:"power_factor"`
	VoltsRMS    *float64 `json:"v_rms"`
	FreqHz      *float64 `json:"freq"`
}

func readingView(r types.Reading) view {
	v := view{
		ReceiveTime:  r.ReceiveTime.UTC().Format(types.TimestampLayout),
		DeviceID:     r.DeviceID,
		DeviceName:   r.DeviceName,
		RSSI:         r.RSSI,
		TemperatureC: jsonFloat(r.TemperatureC),
	}
	for _, p := range r.Ports {
		v.Ports = append(v.Ports, portView{
			Name:        p.Name,
			ActiveW:     jsonFloat(p.ActiveW),
			ReactiveW:   jsonFloat(p.ReactiveW),
			ApparentW:   jsonFloat(p.ApparentW),
			PowerFactor: jsonFloat(p.PowerFactor),
			VoltsRMS:    jsonFloat(p.VoltsRMS),
			FreqHz:      jsonFloat(p.FreqHz),
		})
	}
	return v
}

func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
