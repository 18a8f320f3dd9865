// Session workers own the per-meter TCP connections. Each worker reads
// line-delimited JSON records at ~1 Hz, stamps the receive time at
// socket-read return, applies the active flag and operator filters, and
// enqueues accepted readings. Sessions hold a reference to the queue
// only; nothing holds a reference back to a session.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/NotCoffee418/ct6_collector/pkg/discovery"
	"github.com/NotCoffee418/ct6_collector/pkg/types"
	probing "github.com/prometheus-community/pro-bing"
	log "github.com/sirupsen/logrus"
)

const (
	dialTimeout    = 5 * time.Second
	readDeadline   = 10 * time.Second
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second

	pingTimeout = time.Second
	pingBudget  = 60 * time.Second
)

var errNotReachable = errors.New("meter not reachable")

// Run consumes DeviceSeen events and spawns one session worker per
// unseen address. Duplicate announcements for a running session are
// ignored.
func (m *Manager) Run(ctx context.Context, seen <-chan discovery.DeviceSeen) {
	m.running = make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-seen:
			if _, ok := m.running[ev.Addr]; ok {
				continue
			}
			m.running[ev.Addr] = struct{}{}
			log.WithFields(log.Fields{"addr": ev.Addr, "unit": ev.UnitName}).Info("Meter discovered")
			go m.runSession(ctx, ev.Addr)
		}
	}
}

// runSession keeps one meter's stream alive until ctx is cancelled,
// reconnecting with capped exponential backoff on every failure.
func (m *Manager) runSession(ctx context.Context, addr string) {
	retryCount := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if retryCount > 0 {
			retryDelay := time.Duration(1<<retryCount) * baseRetryDelay
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return
			}
		}

		err := m.streamOnce(ctx, addr)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("addr", addr).Warn("Meter session ended, will retry")
		}
		if retryCount < 5 {
			retryCount++
		}
		if err == nil {
			retryCount = 0
		}
	}
}

func (m *Manager) streamOnce(ctx context.Context, addr string) error {
	if m.PingCheck {
		if !reachable(addr) {
			return errNotReachable
		}
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", addr, m.MeterPort), dialTimeout)
	if err != nil {
		return fmt.Errorf("dial meter: %w", err)
	}
	defer conn.Close()

	// The watcher must die with this connection, not with the process:
	// reconnect cycles would otherwise leak one goroutine each.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.WithField("addr", addr).Info("Meter session connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		if !scanner.Scan() {
			if ctx.Err() != nil {
				return nil
			}
			if serr := scanner.Err(); serr != nil {
				return fmt.Errorf("read meter stream: %w", serr)
			}
			return errors.New("meter closed stream")
		}

		// Stamp before any parsing to keep scheduling jitter out of
		// the stored timestamps.
		receiveTime := time.Now()
		line := scanner.Bytes()

		if m.Echo != nil {
			m.Echo(line)
		}

		r, err := types.DecodeReading(line, receiveTime)
		if err != nil {
			log.WithError(err).WithField("addr", addr).Warn("Dropping reading")
			continue
		}
		r.Addr = addr

		// The meter asked not to be recorded.
		if !r.Active {
			continue
		}
		if !m.Filter.Accept(addr) {
			continue
		}

		if m.Queue.Enqueue(r) && m.OnAccept != nil {
			m.OnAccept(r)
		}
	}
}

// reachable pings the meter once per second within the total budget.
// Best-effort: meters park their radio between samples, so a few lost
// pings are normal.
func reachable(addr string) bool {
	deadline := time.Now().Add(pingBudget)
	for time.Now().Before(deadline) {
		pinger, err := probing.NewPinger(addr)
		if err != nil {
			return false
		}
		pinger.Count = 1
		pinger.Timeout = pingTimeout
		pinger.SetPrivileged(false) // UDP-based, no root needed

		if err := pinger.Run(); err == nil && pinger.Statistics().PacketsRecv > 0 {
			return true
		}
	}
	return false
}
