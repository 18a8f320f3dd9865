// One-shot importer for the legacy single-database relational store
// (--conv_dbs). The legacy schema kept every device's raw rows in one
// MySQL CT6_SENSOR table; this walks it per device, replays the rows
// into fresh per-device stores and rebuilds the rollup tables.
package legacyimport

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/NotCoffee418/ct6_collector/pkg/backfill"
	"github.com/NotCoffee418/ct6_collector/pkg/config"
	"github.com/NotCoffee418/ct6_collector/pkg/meterstore"
	"github.com/NotCoffee418/ct6_collector/pkg/rollup"
	"github.com/NotCoffee418/ct6_collector/pkg/types"
	log "github.com/sirupsen/logrus"

	_ "github.com/go-sql-driver/mysql"
)

// Run imports every device found in the legacy database into the
// storage dir, then backfills the new stores.
func Run(ctx context.Context, cfg config.MySQLConfig, storageDir string) error {
	if cfg.Host == "" || cfg.Database == "" {
		return fmt.Errorf("mysql import is not configured")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=false",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open legacy database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("reach legacy database: %w", err)
	}

	devices, err := listDevices(ctx, db)
	if err != nil {
		return err
	}
	log.Printf("Importing %d device(s) from legacy store", len(devices))

	for _, deviceID := range devices {
		if err := importDevice(ctx, db, deviceID, storageDir); err != nil {
			return fmt.Errorf("import %s: %w", deviceID, err)
		}
	}
	return backfill.Rebuild(ctx, storageDir)
}

func listDevices(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT DEVICE_ID FROM "+meterstore.TableRaw+" ORDER BY DEVICE_ID")
	if err != nil {
		return nil, fmt.Errorf("list legacy devices: %w", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		devices = append(devices, id)
	}
	return devices, rows.Err()
}

func importDevice(ctx context.Context, db *sql.DB, deviceID, storageDir string) error {
	store, err := meterstore.Open(storageDir, deviceID)
	if err != nil {
		return err
	}
	defer store.Close()

	cols := types.NumericColumns()
	query := "SELECT TIMESTAMP, " + strings.Join(cols, ", ") +
		" FROM " + meterstore.TableRaw + " WHERE DEVICE_ID = ? ORDER BY TIMESTAMP"
	rows, err := db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var batch []rollup.Sample
	count := 0
	for rows.Next() {
		var ts string
		scanned := make([]sql.NullFloat64, len(cols))
		dest := make([]any, 0, len(cols)+1)
		dest = append(dest, &ts)
		for i := range scanned {
			dest = append(dest, &scanned[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		vals := make([]float64, len(scanned))
		for i, v := range scanned {
			if v.Valid {
				vals[i] = v.Float64
			} else {
				vals[i] = math.NaN()
			}
		}
		t, err := parseLegacyTimestamp(ts)
		if err != nil {
			log.WithField("device", deviceID).Warnf("Skipping row with bad timestamp %q", ts)
			continue
		}
		batch = append(batch, rollup.Sample{Time: t, Values: vals})
		count++

		if len(batch) >= meterstore.BatchSize {
			if err := store.BatchInsertRollup(meterstore.TableRaw, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := store.BatchInsertRollup(meterstore.TableRaw, batch); err != nil {
			return err
		}
	}
	log.WithField("device", deviceID).Printf("Imported %d raw rows", count)
	return nil
}

// parseLegacyTimestamp accepts both the native layout and the legacy
// space-separated rendering.
func parseLegacyTimestamp(s string) (time.Time, error) {
	if t, err := meterstore.ParseTimestamp(s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05.000000", s)
}
