package meterstore

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/NotCoffee418/ct6_collector/pkg/pathing"
	"github.com/NotCoffee418/ct6_collector/pkg/rollup"
	"github.com/NotCoffee418/ct6_collector/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReading(deviceID, name string, ts time.Time, watt float64) types.Reading {
	r := types.Reading{
		ReceiveTime:  ts,
		DeviceID:     deviceID,
		DeviceName:   name,
		Active:       true,
		RSSI:         -50,
		TemperatureC: 28,
	}
	for i := range r.Ports {
		r.Ports[i] = types.PortReading{
			Name: "port", ActiveW: watt, ReactiveW: 1, ApparentW: 2,
			PowerFactor: 0.95, VoltsRMS: 240, FreqHz: 50,
		}
	}
	return r
}

func TestOpenCreatesStoreNamedByDeviceID(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "ASY0398_V03.2000_SN00001834")
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(pathing.StorePath(dir, "ASY0398_V03.2000_SN00001834"))
	assert.NoError(t, err)

	for _, table := range append([]string{TableMeta}, SensorTables...) {
		count, err := store.CountRows(table)
		require.NoError(t, err, table)
		assert.Zero(t, count, table)
	}
}

func TestOpenIsIdempotentOverRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "ASY0001")
	require.NoError(t, err)
	require.NoError(t, store.InsertRaw(testReading("ASY0001", "hall", time.Now(), 100)))
	require.NoError(t, store.Close())

	store, err = Open(dir, "ASY0001")
	require.NoError(t, err)
	defer store.Close()
	count, err := store.CountRows(TableRaw)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetaSingleRowInvariant(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "ASY0001")
	require.NoError(t, err)
	defer store.Close()

	for _, name := range []string{"hall", "hall_v2", "kitchen"} {
		require.NoError(t, store.UpsertMeta(MetaRow{DeviceID: "ASY0001", DeviceName: name}))
	}

	count, err := store.CountRows(TableMeta)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	meta, found, err := store.ReadMeta()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "kitchen", meta.DeviceName)
	assert.Equal(t, "ASY0001", meta.DeviceID)
}

func TestReadMetaEmptyStore(t *testing.T) {
	store, err := Open(t.TempDir(), "ASY0001")
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.ReadMeta()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRawTimestampRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "ASY0001")
	require.NoError(t, err)
	defer store.Close()

	// Nanosecond precision must be truncated, not rounded, on insert.
	ts := time.Date(2024, 5, 1, 10, 0, 0, 123456999, time.UTC)
	require.NoError(t, store.InsertRaw(testReading("ASY0001", "hall", ts, 100)))

	rows, err := store.ReadWindow(TableRaw, ts.Add(-time.Second), ts.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Time.Equal(time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)))
}

func TestRawStoresNaNVerbatim(t *testing.T) {
	store, err := Open(t.TempDir(), "ASY0001")
	require.NoError(t, err)
	defer store.Close()

	r := testReading("ASY0001", "hall", time.Now().UTC(), 100)
	r.Ports[2].ActiveW = math.NaN()
	require.NoError(t, store.InsertRaw(r))

	count, err := store.CountRows(TableRaw)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBatchInsertRollupChunks(t *testing.T) {
	store, err := Open(t.TempDir(), "ASY0001")
	require.NoError(t, err)
	defer store.Close()

	// More rows than one batch statement holds.
	n := BatchSize*2 + 17
	rows := make([]rollup.Sample, n)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	vals := len(types.NumericColumns())
	for i := range rows {
		rows[i] = rollup.Sample{Time: base.Add(time.Duration(i) * time.Minute), Values: make([]float64, vals)}
	}
	require.NoError(t, store.BatchInsertRollup(TableMinute, rows))

	count, err := store.CountRows(TableMinute)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestReadWindowOrdersByTimestamp(t *testing.T) {
	store, err := Open(t.TempDir(), "ASY0001")
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, off := range []time.Duration{5 * time.Second, time.Second, 3 * time.Second} {
		require.NoError(t, store.InsertRaw(testReading("ASY0001", "hall", base.Add(off), 100)))
	}

	rows, err := store.ReadWindow(TableRaw, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Time.After(rows[i-1].Time))
	}
}

func TestRecreateDerivedDropsRows(t *testing.T) {
	store, err := Open(t.TempDir(), "ASY0001")
	require.NoError(t, err)
	defer store.Close()

	row := rollup.Sample{
		Time:   time.Date(2024, 5, 1, 0, 0, 30, 0, time.UTC),
		Values: make([]float64, len(types.NumericColumns())),
	}
	require.NoError(t, store.InsertRollup(rollup.Minute, row))
	require.NoError(t, store.RecreateDerived())
	require.NoError(t, store.RecreateIndexes())

	count, err := store.CountRows(TableMinute)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTimeBounds(t *testing.T) {
	store, err := Open(t.TempDir(), "ASY0001")
	require.NoError(t, err)
	defer store.Close()

	_, _, found, err := store.TimeBounds(TableRaw)
	require.NoError(t, err)
	assert.False(t, found)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertRaw(testReading("ASY0001", "hall", base, 100)))
	require.NoError(t, store.InsertRaw(testReading("ASY0001", "hall", base.Add(time.Hour), 100)))

	first, last, found, err := store.TimeBounds(TableRaw)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, first.Equal(base))
	assert.True(t, last.Equal(base.Add(time.Hour)))
}
