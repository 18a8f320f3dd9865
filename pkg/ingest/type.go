package ingest

import (
	"time"

	"github.com/NotCoffee418/ct6_collector/pkg/meterstore"
	"github.com/NotCoffee418/ct6_collector/pkg/rollup"
	"github.com/NotCoffee418/ct6_collector/pkg/types"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultQueueCapacity absorbs network jitter between the session
	// goroutines and the storage goroutine. Readings arrive at ~1 Hz
	// per meter, so this covers minutes of stalled storage.
	DefaultQueueCapacity = 512

	// metaUpdateInterval throttles meta-row rewrites per device.
	metaUpdateInterval = 60 * time.Second

	// drainPoll bounds shutdown latency while draining the queue.
	drainPoll = 250 * time.Millisecond
)

// Queue is the bounded FIFO between meter sessions and the storage
// goroutine — the sole back-pressure point of the pipeline. Safe for
// many producers, one consumer.
type Queue struct {
	ch chan types.Reading
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan types.Reading, capacity)}
}

// Enqueue offers a reading without blocking. On a full queue the reading
// is dropped and logged; meters are best-effort emitters and the next
// sample arrives within a second.
func (q *Queue) Enqueue(r types.Reading) bool {
	select {
	case q.ch <- r:
		return true
	default:
		log.WithField("device", r.DeviceID).Warn("Ingest queue full, dropping reading")
		return false
	}
}

// TryDequeue takes one reading without blocking. The storage goroutine
// uses channel receive directly; this exists for tests.
func (q *Queue) TryDequeue() (types.Reading, bool) {
	select {
	case r := <-q.ch:
		return r, true
	default:
		return types.Reading{}, false
	}
}

// deviceState is everything the storage goroutine tracks per meter.
// Owned exclusively by the storage goroutine; no locking.
type deviceState struct {
	store        *meterstore.Store
	metaDeadline time.Time
	roll         *rollup.State
}
