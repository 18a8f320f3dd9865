package session

import (
	"github.com/NotCoffee418/ct6_collector/pkg/ingest"
	"github.com/NotCoffee418/ct6_collector/pkg/types"
)

// Filter holds the advisory operator include/exclude sets, keyed by IP
// address. Not a security boundary.
type Filter struct {
	Include map[string]struct{}
	Exclude map[string]struct{}
}

// NewFilter builds a Filter from flag value slices.
func NewFilter(include, exclude []string) Filter {
	f := Filter{
		Include: make(map[string]struct{}),
		Exclude: make(map[string]struct{}),
	}
	for _, ip := range include {
		f.Include[ip] = struct{}{}
	}
	for _, ip := range exclude {
		f.Exclude[ip] = struct{}{}
	}
	return f
}

// Accept reports whether readings from addr pass the operator filters.
// A non-empty include set admits only its members; the exclude set
// rejects its members. Both drops are silent.
func (f Filter) Accept(addr string) bool {
	if len(f.Include) > 0 {
		if _, ok := f.Include[addr]; !ok {
			return false
		}
	}
	_, excluded := f.Exclude[addr]
	return !excluded
}

// Manager tracks one running session per discovered meter address.
type Manager struct {
	Queue  *ingest.Queue
	Filter Filter

	// MeterPort is the TCP port the meter pushes readings on.
	MeterPort int

	// PingCheck gates each dial behind an ICMP reachability probe.
	PingCheck bool

	// Echo, when set, receives every raw line (--show) before decoding.
	Echo func(line []byte)

	// OnAccept, when set, observes every enqueued reading. Used by the
	// web surface to fan readings out to websocket clients.
	OnAccept func(r types.Reading)

	running map[string]struct{}
}
