// Ingest drains the reading queue on a single storage goroutine that
// owns every store handle and all per-device state. Sessions never see
// stores; the queue is the only object shared across goroutines.
package ingest

import (
	"context"
	"time"

	"github.com/NotCoffee418/ct6_collector/pkg/meterstore"
	"github.com/NotCoffee418/ct6_collector/pkg/rollup"
	"github.com/NotCoffee418/ct6_collector/pkg/types"
	log "github.com/sirupsen/logrus"
)

// Processor routes each reading to its per-device store: meta upsert,
// raw append, rollup engine step, in that order on the same goroutine.
type Processor struct {
	storageDir string
	devices    map[string]*deviceState

	// DrainTimeout bounds how long shutdown keeps draining the queue.
	DrainTimeout time.Duration
}

func NewProcessor(storageDir string) *Processor {
	return &Processor{
		storageDir:   storageDir,
		devices:      make(map[string]*deviceState),
		DrainTimeout: 5 * time.Second,
	}
}

// Run consumes the queue until ctx is cancelled, then drains what is
// left up to DrainTimeout and closes every store.
func (p *Processor) Run(ctx context.Context, q *Queue) {
	defer p.closeAll()

	for {
		select {
		case <-ctx.Done():
			p.drain(q)
			return
		case r := <-q.ch:
			p.Handle(r)
		}
	}
}

func (p *Processor) drain(q *Queue) {
	deadline := time.Now().Add(p.DrainTimeout)
	for time.Now().Before(deadline) {
		select {
		case r := <-q.ch:
			p.Handle(r)
		case <-time.After(drainPoll):
			return
		}
	}
}

func (p *Processor) closeAll() {
	for id, st := range p.devices {
		if err := st.store.Close(); err != nil {
			log.Printf("Error closing store for %s: %v", id, err)
		}
	}
}

// Handle processes one accepted reading. Exported for the bulk importer,
// which replays legacy rows through the same path.
func (p *Processor) Handle(r types.Reading) {
	st, err := p.stateFor(r.DeviceID)
	if err != nil {
		// Disk full or permissions; drop and retry on the next arrival.
		log.WithError(err).WithField("device", r.DeviceID).Error("Store unavailable, dropping reading")
		return
	}

	// Meta upsert first, so a fresh store carries names before data.
	// Throttled to once per minute per device; the display name still
	// converges after a rename.
	if r.DeviceName != "" && !r.ReceiveTime.Before(st.metaDeadline) {
		meta := meterstore.MetaRow{
			DeviceID:   r.DeviceID,
			DeviceName: r.DeviceName,
			PortNames:  r.PortNames(),
		}
		if err := st.store.UpsertMeta(meta); err != nil {
			log.WithError(err).WithField("device", r.DeviceID).Error("Meta upsert failed")
		} else {
			st.metaDeadline = r.ReceiveTime.Add(metaUpdateInterval)
		}
	}

	if err := st.store.InsertRaw(r); err != nil {
		log.WithError(err).WithField("device", r.DeviceID).Error("Raw insert failed, reconnecting store")
		if rerr := st.store.Reconnect(); rerr != nil {
			log.WithError(rerr).WithField("device", r.DeviceID).Error("Store reconnect failed")
			delete(p.devices, r.DeviceID)
		}
		return
	}

	st.roll.Push(
		rollup.Sample{Time: r.ReceiveTime, Values: r.NumericValues()},
		func(res rollup.Resolution, row rollup.Sample) error {
			if err := st.store.InsertRollup(res, row); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"device":     r.DeviceID,
					"resolution": res.String(),
				}).Error("Rollup insert failed, row lost")
				return err
			}
			return nil
		})
}

// stateFor returns the device state, opening the store on first sight.
func (p *Processor) stateFor(deviceID string) (*deviceState, error) {
	if st, ok := p.devices[deviceID]; ok {
		return st, nil
	}
	store, err := meterstore.Open(p.storageDir, deviceID)
	if err != nil {
		return nil, err
	}
	log.WithField("device", deviceID).Info("Opened store")
	st := &deviceState{store: store, roll: rollup.NewState()}
	p.devices[deviceID] = st
	return st, nil
}

// StoreFor exposes a device's store for tests and the importer.
// Must only be called from the goroutine running the processor.
func (p *Processor) StoreFor(deviceID string) *meterstore.Store {
	if st, ok := p.devices[deviceID]; ok {
		return st.store
	}
	return nil
}
