// Backfill rebuilds the minute/hour/day tables of existing stores from
// the raw table, walking each source in one-day windows so memory stays
// bounded and query time stays predictable. Must hold the single-writer
// lock: running against live ingest would race on the same tables.
package backfill

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NotCoffee418/ct6_collector/pkg/meterstore"
	"github.com/NotCoffee418/ct6_collector/pkg/pathing"
	"github.com/NotCoffee418/ct6_collector/pkg/rollup"
	log "github.com/sirupsen/logrus"
)

const window = 24 * time.Hour

// stage is one source→dest rebuild pass.
type stage struct {
	src        string
	dst        string
	res        rollup.Resolution
	minSamples int
}

func stages() []stage {
	return []stage{
		{meterstore.TableRaw, meterstore.TableMinute, rollup.Minute, rollup.MinMinuteSamples},
		{meterstore.TableMinute, meterstore.TableHour, rollup.Hour, 1},
		{meterstore.TableHour, meterstore.TableDay, rollup.Day, 1},
	}
}

// Rebuild runs the backfill over every store in the storage dir.
// A failing store aborts only its own rebuild; the others continue.
func Rebuild(ctx context.Context, storageDir string) error {
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return fmt.Errorf("list storage dir: %w", err)
	}

	var failures int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), pathing.StoreExtension) {
			continue
		}
		deviceID := strings.TrimSuffix(entry.Name(), pathing.StoreExtension)
		if err := rebuildOne(ctx, storageDir, deviceID); err != nil {
			log.WithError(err).WithField("device", deviceID).Error("Backfill failed for store")
			failures++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failures > 0 {
		return fmt.Errorf("backfill failed for %d store(s)", failures)
	}
	return nil
}

func rebuildOne(ctx context.Context, storageDir, deviceID string) error {
	store, err := meterstore.Open(storageDir, deviceID)
	if err != nil {
		return err
	}
	defer store.Close()
	log.WithField("device", deviceID).Info("Rebuilding rollup tables")
	return RebuildStore(ctx, store)
}

// RebuildStore drops and repopulates the derived tables of one store.
func RebuildStore(ctx context.Context, store *meterstore.Store) error {
	if err := store.RecreateDerived(); err != nil {
		return fmt.Errorf("recreate derived tables: %w", err)
	}
	for _, st := range stages() {
		if err := rebuildStage(ctx, store, st); err != nil {
			return fmt.Errorf("rebuild %s: %w", st.dst, err)
		}
	}
	if err := store.RecreateIndexes(); err != nil {
		return fmt.Errorf("recreate indexes: %w", err)
	}
	return nil
}

func rebuildStage(ctx context.Context, store *meterstore.Store, st stage) error {
	first, last, found, err := store.TimeBounds(st.src)
	if err != nil || !found {
		return err
	}

	// The bucket holding the last source row is still open in live
	// terms: the live engine only closes a bucket when a later sample
	// arrives. Skipping it keeps backfill output identical to live.
	openBucket := last.UTC().Truncate(st.res.Width())

	var batch []rollup.Sample
	for cursor := first.UTC().Truncate(window); !cursor.After(last); cursor = cursor.Add(window) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		samples, err := store.ReadWindow(st.src, cursor, cursor.Add(window))
		if err != nil {
			return err
		}
		batch = appendBucketMeans(batch, samples, st, openBucket)
	}
	return store.BatchInsertRollup(st.dst, batch)
}

// appendBucketMeans groups one window's rows by wall-clock bucket and
// appends the qualifying bucket means. Rows arrive ordered by timestamp,
// so buckets are contiguous runs.
func appendBucketMeans(out []rollup.Sample, samples []rollup.Sample, st stage, openBucket time.Time) []rollup.Sample {
	flush := func(bucket []rollup.Sample, bucketStart time.Time) []rollup.Sample {
		if len(bucket) < st.minSamples || bucketStart.Equal(openBucket) {
			return out
		}
		if row, ok := rollup.MeanSample(bucket); ok {
			out = append(out, row)
		}
		return out
	}

	var bucket []rollup.Sample
	var bucketStart time.Time
	for _, s := range samples {
		start := s.Time.UTC().Truncate(st.res.Width())
		if len(bucket) > 0 && !start.Equal(bucketStart) {
			out = flush(bucket, bucketStart)
			bucket = bucket[:0]
		}
		bucketStart = start
		bucket = append(bucket, s)
	}
	return flush(bucket, bucketStart)
}
