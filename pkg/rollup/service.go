// Multi-resolution downsampling engine. Maintains the minute/hour/day
// rollups as a continuous function of the live raw stream: no timer
// thread, buckets align to the UTC wall clock, and each new reading is
// the only trigger. State is per device, so a stalled meter never blocks
// another's rollups.
package rollup

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// MinMinuteSamples is the minimum raw sample count for a minute bucket
// to publish. Fewer samples usually means a transient reconnection burst;
// publishing those points is noise, so the bucket is silently dropped.
const MinMinuteSamples = 3

// State holds one device's open buckets. The minute bucket accumulates
// raw readings; the hour bucket accumulates emitted minute rows; the day
// bucket accumulates emitted hour rows. Owned exclusively by the storage
// goroutine.
type State struct {
	minute []Sample
	hour   []Sample
	day    []Sample
}

func NewState() *State {
	return &State{}
}

// Push feeds one raw reading into the engine, evaluated against the
// close rule: the minute bucket closes when the wall-clock minute of r
// differs from the bucket head. A closed minute bucket with enough
// samples emits its column-wise mean and cascades the emitted row into
// the hour bucket; an emitted hour row cascades into the day bucket.
func (s *State) Push(r Sample, emit EmitFunc) {
	if len(s.minute) > 0 && !sameBucket(s.minute[0].Time, r.Time, Minute) {
		if len(s.minute) >= MinMinuteSamples {
			if row, ok := meanSample(s.minute); ok {
				if err := emit(Minute, row); err == nil {
					s.cascade(row, Hour, emit)
				}
			}
		}
		s.minute = s.minute[:0]
	}
	s.minute = append(s.minute, r)
}

// cascade pushes an emitted row into the next coarser bucket. The hour
// and day stages have no minimum count beyond non-empty.
func (s *State) cascade(row Sample, res Resolution, emit EmitFunc) {
	buf := &s.hour
	if res == Day {
		buf = &s.day
	}
	if len(*buf) > 0 && !sameBucket((*buf)[0].Time, row.Time, res) {
		if closed, ok := meanSample(*buf); ok {
			if err := emit(res, closed); err == nil && res == Hour {
				s.cascade(closed, Day, emit)
			}
		}
		*buf = (*buf)[:0]
	}
	*buf = append(*buf, row)
}

// sameBucket reports whether two instants fall in the same wall-clock
// bucket of the given resolution, on the UTC clock.
func sameBucket(a, b time.Time, res Resolution) bool {
	return a.UTC().Truncate(res.Width()).Equal(b.UTC().Truncate(res.Width()))
}

// MeanSample computes the column-wise arithmetic mean of a bucket.
// The timestamp is the mean of the sample times (integer microseconds,
// truncated), matching a plain column-mean over the timestamp column.
// NaN propagates through the value means; a candidate row carrying any
// NaN column is rejected so a partial-reading gap never poisons
// downstream means. Returns false when the row must not be published.
func MeanSample(bucket []Sample) (Sample, bool) {
	return meanSample(bucket)
}

func meanSample(bucket []Sample) (Sample, bool) {
	if len(bucket) == 0 {
		return Sample{}, false
	}

	var tsSum int64
	for _, s := range bucket {
		tsSum += s.Time.UnixMicro()
	}
	row := Sample{
		Time:   time.UnixMicro(tsSum / int64(len(bucket))).UTC(),
		Values: make([]float64, len(bucket[0].Values)),
	}

	col := make([]float64, len(bucket))
	for i := range row.Values {
		for j, s := range bucket {
			col[j] = s.Values[i]
		}
		row.Values[i] = stat.Mean(col, nil)
		if math.IsNaN(row.Values[i]) {
			return Sample{}, false
		}
	}
	return row, true
}
