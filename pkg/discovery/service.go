// Discovery broadcasts the are-you-there probe and listens for meter
// announcements on the same UDP port. Best-effort: malformed datagrams
// are logged and dropped, and the next probe is never more than a
// second away.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// aytProbe is the fixed probe payload the meter firmware answers to.
// The token is an opaque nonce baked into the firmware; it must be sent
// byte-exact.
const aytProbe = `{"AYT":"-!#;4wXtzR:mY?8[Q+Vr)GpbD&yEk~2K$q@Ze%c7"}`

const broadcastPeriod = time.Second

// Listener owns the discovery socket. One per process.
type Listener struct {
	// InterfaceAddr is the local address to bind, e.g. "0.0.0.0".
	InterfaceAddr string
	Port          int
}

// Run broadcasts the probe at 1 Hz and forwards announcements to out
// until ctx is cancelled.
func (l *Listener) Run(ctx context.Context, out chan<- DeviceSeen) error {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf("%s:%d", l.InterfaceAddr, l.Port))
	if err != nil {
		return fmt.Errorf("discovery listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go l.broadcastLoop(ctx, conn)

	log.Printf("Discovery listening on %s", conn.LocalAddr())
	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("discovery read: %w", err)
			}
		}

		seen, ok := parseAnnouncement(buf[:n])
		if !ok {
			continue
		}
		select {
		case out <- seen:
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Listener) broadcastLoop(ctx context.Context, conn net.PacketConn) {
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: l.Port}
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()
	for {
		if _, err := conn.WriteTo([]byte(aytProbe), dst); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("Discovery broadcast failed: %v", err)
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// parseAnnouncement decodes one datagram. Our own probe echoes back on
// the shared port and is skipped; payloads without IP_ADDRESS and
// UNIT_NAME are not announcements.
func parseAnnouncement(payload []byte) (DeviceSeen, bool) {
	if bytes.Contains(payload, []byte(`"AYT"`)) {
		return DeviceSeen{}, false
	}
	var a announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		log.WithError(err).Debug("Dropping malformed discovery datagram")
		return DeviceSeen{}, false
	}
	if a.IPAddress == "" || a.UnitName == "" {
		return DeviceSeen{}, false
	}
	return DeviceSeen{DeviceID: a.Assembly, Addr: a.IPAddress, UnitName: a.UnitName}, true
}
