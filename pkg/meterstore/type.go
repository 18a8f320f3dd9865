package meterstore

import (
	"database/sql"

	"github.com/NotCoffee418/ct6_collector/pkg/rollup"
	"github.com/NotCoffee418/ct6_collector/pkg/types"
)

const (
	TableMeta   = "CT6_META"
	TableRaw    = "CT6_SENSOR"
	TableMinute = "CT6_SENSOR_MINUTE"
	TableHour   = "CT6_SENSOR_HOUR"
	TableDay    = "CT6_SENSOR_DAY"
)

// DerivedTables in cascade order.
var DerivedTables = []string{TableMinute, TableHour, TableDay}

// SensorTables is every table carrying a TIMESTAMP column.
var SensorTables = []string{TableRaw, TableMinute, TableHour, TableDay}

// Store is the persistent container for one meter. The file is named
// from the assembly label; the handle must only be touched from the
// storage goroutine.
type Store struct {
	db       *sql.DB
	path     string
	deviceID string
}

// MetaRow is the single-row meta record (primary key = constant 1).
type MetaRow struct {
	DeviceID   string
	DeviceName string
	PortNames  [types.PortCount]string
}

// RollupTable maps an engine resolution to its table name.
func RollupTable(res rollup.Resolution) string {
	switch res {
	case rollup.Minute:
		return TableMinute
	case rollup.Hour:
		return TableHour
	default:
		return TableDay
	}
}
