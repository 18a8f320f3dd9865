// MeterStore manages the per-device SQLite files. One store per meter,
// keyed by the immutable assembly label; display-name renames only ever
// touch the meta row. Handles are owned by the storage goroutine and
// never shared across goroutines.
package meterstore

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/NotCoffee418/dbmigrator"

	"github.com/NotCoffee418/ct6_collector/pkg/pathing"
	"github.com/NotCoffee418/ct6_collector/pkg/types"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var numericColumns = types.NumericColumns()

// Open opens or creates the store for a device and runs the schema
// migrations. Reopening an existing store over a restart is the same
// call; already-applied migrations are skipped.
func Open(storageDir, deviceID string) (*Store, error) {
	path := pathing.StorePath(storageDir, deviceID)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")

	s := &Store{db: db, path: path, deviceID: deviceID}
	if err := s.verifySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema for %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Path() string     { return s.path }
func (s *Store) DeviceID() string { return s.deviceID }

func (s *Store) Close() error {
	return s.db.Close()
}

// Reconnect closes and reopens the underlying handle after a mid-stream
// insert failure. The reading that hit the failure is lost.
func (s *Store) Reconnect() error {
	s.db.Close()
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("reopen store %s: %w", s.path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("reopen store %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

// verifySchema probes every table the migrations declare. The migration
// runner reports through its own log, so a failed run surfaces here.
func (s *Store) verifySchema() error {
	tables := append([]string{TableMeta}, SensorTables...)
	for _, table := range tables {
		if _, err := s.db.Exec("SELECT 1 FROM " + table + " LIMIT 1"); err != nil {
			return err
		}
	}
	return nil
}

// RecreateDerived drops and recreates the minute/hour/day tables.
// Used by the bulk backfill before repopulating.
func (s *Store) RecreateDerived() error {
	for _, table := range DerivedTables {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return err
		}
		if _, err := s.db.Exec(sensorTableDDL(table)); err != nil {
			return err
		}
	}
	return nil
}

// RecreateIndexes rebuilds the timestamp indexes on the derived tables
// after a bulk population.
func (s *Store) RecreateIndexes() error {
	for _, table := range DerivedTables {
		if _, err := s.db.Exec(timestampIndexDDL(table)); err != nil {
			return err
		}
	}
	return nil
}

// sensorTableDDL matches the migration schema for the sensor tables.
// The backfill recreates derived tables outside the migration history,
// so the column set here and in migrations/ must stay in lock-step.
func sensorTableDDL(table string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS " + table + " (\n")
	b.WriteString("    ID INTEGER PRIMARY KEY AUTOINCREMENT,\n")
	b.WriteString("    TIMESTAMP TEXT NOT NULL,\n")
	b.WriteString("    DEVICE_ID TEXT NOT NULL")
	for _, col := range numericColumns {
		b.WriteString(",\n    " + col + " REAL")
	}
	b.WriteString("\n)")
	return b.String()
}

func timestampIndexDDL(table string) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s_TIMESTAMP_INDEX ON %s (TIMESTAMP)",
		table, table)
}

// FormatTimestamp renders a timestamp the way every table stores it:
// ISO-8601 UTC truncated to microseconds. Higher precision is cut off so
// readback always parses to the exact stored instant.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(types.TimestampLayout)
}

// ParseTimestamp is the readback inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(types.TimestampLayout, s)
}
