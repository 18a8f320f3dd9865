package meterstore

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/NotCoffee418/ct6_collector/pkg/rollup"
	"github.com/NotCoffee418/ct6_collector/pkg/types"
)

// BatchSize is the rollup row count per INSERT statement in bulk mode.
const BatchSize = 150

// UpsertMeta replaces the single meta row. Keyed on the constant primary
// key, so the table never holds more than one row.
func (s *Store) UpsertMeta(meta MetaRow) error {
	cols := []string{"ID", "DEVICE_ID", "DEVICE_NAME"}
	args := []any{1, meta.DeviceID, meta.DeviceName}
	for i, name := range meta.PortNames {
		cols = append(cols, fmt.Sprintf("CT%d_NAME", i+1))
		args = append(args, name)
	}
	query := "INSERT OR REPLACE INTO " + TableMeta +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"
	_, err := s.db.Exec(query, args...)
	return err
}

// ReadMeta returns the meta row, or found=false when none exists yet.
func (s *Store) ReadMeta() (meta MetaRow, found bool, err error) {
	cols := []string{"DEVICE_ID", "DEVICE_NAME"}
	for i := 1; i <= types.PortCount; i++ {
		cols = append(cols, fmt.Sprintf("CT%d_NAME", i))
	}
	row := s.db.QueryRow("SELECT " + strings.Join(cols, ", ") + " FROM " + TableMeta + " WHERE ID = 1")

	dest := []any{&meta.DeviceID, &meta.DeviceName}
	for i := range meta.PortNames {
		dest = append(dest, &meta.PortNames[i])
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MetaRow{}, false, nil
		}
		return MetaRow{}, false, err
	}
	return meta, true, nil
}

// InsertRaw appends one accepted reading to the raw table. Numeric
// columns are stored verbatim; NaN sanitisation applies only to the
// derived tables.
func (s *Store) InsertRaw(r types.Reading) error {
	args := []any{FormatTimestamp(r.ReceiveTime), r.DeviceID}
	for _, v := range r.NumericValues() {
		args = append(args, v)
	}
	_, err := s.db.Exec(sensorInsertSQL(TableRaw), args...)
	return err
}

// InsertRollup writes one closed bucket row. The live engine writes one
// row at a time; rates are low enough that batching buys nothing.
func (s *Store) InsertRollup(res rollup.Resolution, row rollup.Sample) error {
	args := []any{FormatTimestamp(row.Time), s.deviceID}
	for _, v := range row.Values {
		args = append(args, v)
	}
	_, err := s.db.Exec(sensorInsertSQL(RollupTable(res)), args...)
	return err
}

// BatchInsertRollup writes bulk-backfill rows, BatchSize rows per
// statement to bound statement size and round trips.
func (s *Store) BatchInsertRollup(table string, rows []rollup.Sample) error {
	for start := 0; start < len(rows); start += BatchSize {
		end := start + BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		rowPlaceholder := "(" + placeholders(2+len(numericColumns)) + ")"
		valuesClauses := make([]string, len(chunk))
		var args []any
		for i, row := range chunk {
			valuesClauses[i] = rowPlaceholder
			args = append(args, FormatTimestamp(row.Time), s.deviceID)
			for _, v := range row.Values {
				args = append(args, v)
			}
		}

		query := "INSERT INTO " + table +
			" (TIMESTAMP, DEVICE_ID, " + strings.Join(numericColumns, ", ") + ") VALUES " +
			strings.Join(valuesClauses, ", ")
		if _, err := s.db.Exec(query, args...); err != nil {
			return err
		}
	}
	return nil
}

// ReadWindow returns the rows of a sensor table in [from, to), ordered
// by timestamp, as engine samples.
func (s *Store) ReadWindow(table string, from, to time.Time) ([]rollup.Sample, error) {
	query := "SELECT TIMESTAMP, " + strings.Join(numericColumns, ", ") +
		" FROM " + table + " WHERE TIMESTAMP >= ? AND TIMESTAMP < ? ORDER BY TIMESTAMP"
	rows, err := s.db.Query(query, FormatTimestamp(from), FormatTimestamp(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []rollup.Sample
	for rows.Next() {
		var ts string
		// SQLite stores a bound NaN as NULL; map it back so the NaN
		// policy sees the original gap.
		scanned := make([]sql.NullFloat64, len(numericColumns))
		dest := make([]any, 0, len(numericColumns)+1)
		dest = append(dest, &ts)
		for i := range scanned {
			dest = append(dest, &scanned[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		vals := make([]float64, len(scanned))
		for i, v := range scanned {
			if v.Valid {
				vals[i] = v.Float64
			} else {
				vals[i] = math.NaN()
			}
		}
		t, err := ParseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q in %s: %w", ts, table, err)
		}
		samples = append(samples, rollup.Sample{Time: t, Values: vals})
	}
	return samples, rows.Err()
}

// TimeBounds returns the first and last timestamps of a sensor table.
// found is false for an empty table.
func (s *Store) TimeBounds(table string) (first, last time.Time, found bool, err error) {
	var minTS, maxTS *string
	row := s.db.QueryRow("SELECT MIN(TIMESTAMP), MAX(TIMESTAMP) FROM " + table)
	if err := row.Scan(&minTS, &maxTS); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if minTS == nil || maxTS == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	if first, err = ParseTimestamp(*minTS); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if last, err = ParseTimestamp(*maxTS); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return first, last, true, nil
}

// CountRows returns the row count of any table in the store.
func (s *Store) CountRows(table string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	return n, err
}

func sensorInsertSQL(table string) string {
	return "INSERT INTO " + table +
		" (TIMESTAMP, DEVICE_ID, " + strings.Join(numericColumns, ", ") +
		") VALUES (" + placeholders(2+len(numericColumns)) + ")"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
