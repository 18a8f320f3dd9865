package rollup

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records every emitted row in order.
type collector struct {
	rows map[Resolution][]Sample
}

func newCollector() *collector {
	return &collector{rows: make(map[Resolution][]Sample)}
}

func (c *collector) emit(res Resolution, row Sample) error {
	c.rows[res] = append(c.rows[res], row)
	return nil
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

// feed pushes one sample per second starting at start.
func feed(state *State, start time.Time, count int, value float64, emit EmitFunc) {
	for i := 0; i < count; i++ {
		state.Push(Sample{
			Time:   start.Add(time.Duration(i) * time.Second),
			Values: []float64{value},
		}, emit)
	}
}

func TestMinuteRollupSteadyStream(t *testing.T) {
	// 180 one-second samples starting mid-minute span four wall-clock
	// minutes; the three fully closed ones each publish a row.
	state := NewState()
	c := newCollector()
	feed(state, at(t, "2024-05-01T10:00:30Z"), 180, 1000, c.emit)

	require.Len(t, c.rows[Minute], 3)
	for _, row := range c.rows[Minute] {
		assert.InDelta(t, 1000.0, row.Values[0], 1e-9)
	}
	assert.Empty(t, c.rows[Hour])
	assert.Empty(t, c.rows[Day])
}

func TestMinuteTimestampIsMeanOfSampleTimes(t *testing.T) {
	state := NewState()
	c := newCollector()
	start := at(t, "2024-05-01T10:00:00Z")
	// Three samples at :00, :10, :20, closed by a sample in the next
	// minute. Mean of sample times is :10.
	for _, off := range []time.Duration{0, 10 * time.Second, 20 * time.Second} {
		state.Push(Sample{Time: start.Add(off), Values: []float64{1}}, c.emit)
	}
	state.Push(Sample{Time: start.Add(time.Minute), Values: []float64{1}}, c.emit)

	require.Len(t, c.rows[Minute], 1)
	assert.True(t, c.rows[Minute][0].Time.Equal(start.Add(10*time.Second)),
		"got %v", c.rows[Minute][0].Time)
}

func TestMinuteBucketMinimumSamples(t *testing.T) {
	// Two samples in minute A, sixty in minute B, then one to close B.
	// Only B publishes.
	state := NewState()
	c := newCollector()
	feed(state, at(t, "2024-05-01T10:00:58Z"), 2, 500, c.emit)
	feed(state, at(t, "2024-05-01T10:01:00Z"), 60, 700, c.emit)
	state.Push(Sample{Time: at(t, "2024-05-01T10:02:00Z"), Values: []float64{700}}, c.emit)

	require.Len(t, c.rows[Minute], 1)
	assert.InDelta(t, 700.0, c.rows[Minute][0].Values[0], 1e-9)
}

func TestNaNSamplePoisonsBucket(t *testing.T) {
	// One NaN column among 59 clean samples drops the whole minute row.
	state := NewState()
	c := newCollector()
	start := at(t, "2024-05-01T10:00:00Z")
	for i := 0; i < 60; i++ {
		v := 1000.0
		if i == 30 {
			v = math.NaN()
		}
		state.Push(Sample{Time: start.Add(time.Duration(i) * time.Second), Values: []float64{v, 50}}, c.emit)
	}
	state.Push(Sample{Time: start.Add(time.Minute), Values: []float64{1000, 50}}, c.emit)

	assert.Empty(t, c.rows[Minute])
	assert.Empty(t, c.rows[Hour])
}

func TestHourCascadeOnMinuteEdge(t *testing.T) {
	// Sixty-two minutes of samples at 3/min. The arrival in minute 61
	// closes minute 60, whose row crosses the hour edge and closes the
	// hour bucket holding minutes 0..59.
	state := NewState()
	c := newCollector()
	start := at(t, "2024-05-01T10:00:00Z")
	for min := 0; min < 62; min++ {
		for s := 0; s < 3; s++ {
			state.Push(Sample{
				Time:   start.Add(time.Duration(min)*time.Minute + time.Duration(s*20)*time.Second),
				Values: []float64{float64(min)},
			}, c.emit)
		}
	}

	require.Len(t, c.rows[Minute], 61)
	require.Len(t, c.rows[Hour], 1)
	assert.Empty(t, c.rows[Day])

	// Hour mean over minute rows 0..59.
	assert.InDelta(t, 29.5, c.rows[Hour][0].Values[0], 1e-9)
}

func TestHourRowEqualsMeanOfMinuteRows(t *testing.T) {
	state := NewState()
	c := newCollector()
	start := at(t, "2024-05-01T08:00:00Z")
	// Varying per-minute values across a bit more than an hour.
	for min := 0; min < 62; min++ {
		for s := 0; s < 4; s++ {
			state.Push(Sample{
				Time:   start.Add(time.Duration(min)*time.Minute + time.Duration(s*15)*time.Second),
				Values: []float64{float64(min*7%13) + 0.25},
			}, c.emit)
		}
	}
	require.Len(t, c.rows[Hour], 1)

	var sum float64
	var n int
	for _, row := range c.rows[Minute] {
		if row.Time.UTC().Truncate(time.Hour).Equal(start) {
			sum += row.Values[0]
			n++
		}
	}
	require.NotZero(t, n)
	assert.InEpsilon(t, sum/float64(n), c.rows[Hour][0].Values[0], 1e-9)
}

func TestDayCascade(t *testing.T) {
	// One sample every 20 seconds across 27 hours. The first hour row
	// of day two closes the day bucket holding day one's hour rows.
	state := NewState()
	c := newCollector()
	start := at(t, "2024-05-01T00:00:00Z")
	for i := 0; i < 27*180; i++ {
		state.Push(Sample{
			Time:   start.Add(time.Duration(i) * 20 * time.Second),
			Values: []float64{42},
		}, c.emit)
	}

	require.Len(t, c.rows[Day], 1)
	assert.InDelta(t, 42.0, c.rows[Day][0].Values[0], 1e-9)
}

func TestDeterministicForIdenticalStreams(t *testing.T) {
	run := func() *collector {
		state := NewState()
		c := newCollector()
		start := at(t, "2024-05-01T10:00:30Z")
		for i := 0; i < 3700; i++ {
			state.Push(Sample{
				Time:   start.Add(time.Duration(i) * time.Second),
				Values: []float64{float64(i%17) * 3.5, float64(i % 5)},
			}, c.emit)
		}
		return c
	}

	a, b := run(), run()
	for _, res := range []Resolution{Minute, Hour, Day} {
		require.Equal(t, len(a.rows[res]), len(b.rows[res]))
		for i := range a.rows[res] {
			assert.True(t, a.rows[res][i].Time.Equal(b.rows[res][i].Time))
			assert.Equal(t, a.rows[res][i].Values, b.rows[res][i].Values)
		}
	}
}

func TestEmitFailureSkipsCascade(t *testing.T) {
	// A failed minute insert must not feed the hour bucket.
	state := NewState()
	var hourRows int
	emit := func(res Resolution, row Sample) error {
		if res == Minute {
			return assert.AnError
		}
		hourRows++
		return nil
	}
	feed(state, at(t, "2024-05-01T10:00:00Z"), 3700, 1, emit)
	assert.Zero(t, hourRows)
}

func TestMeanSampleRejectsNaN(t *testing.T) {
	_, ok := MeanSample([]Sample{
		{Time: time.Unix(0, 0), Values: []float64{1, math.NaN()}},
		{Time: time.Unix(1, 0), Values: []float64{2, 3}},
	})
	assert.False(t, ok)
}

func TestMeanSampleEmpty(t *testing.T) {
	_, ok := MeanSample(nil)
	assert.False(t, ok)
}
