// Report prints operator summaries of the on-disk stores.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/NotCoffee418/ct6_collector/pkg/meterstore"
	"github.com/NotCoffee418/ct6_collector/pkg/pathing"
	"github.com/olekukonko/tablewriter"
)

// ShowTables writes a per-store table/row-count summary (--show_tables).
func ShowTables(storageDir string, out io.Writer) error {
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return fmt.Errorf("list storage dir: %w", err)
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Device", "Table", "Rows", "First", "Last"})

	stores := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), pathing.StoreExtension) {
			continue
		}
		stores++
		deviceID := strings.TrimSuffix(entry.Name(), pathing.StoreExtension)
		if err := appendStoreRows(table, storageDir, deviceID); err != nil {
			return err
		}
	}
	if stores == 0 {
		fmt.Fprintf(out, "No stores found in %s\n", storageDir)
		return nil
	}
	table.Render()
	return nil
}

func appendStoreRows(table *tablewriter.Table, storageDir, deviceID string) error {
	store, err := meterstore.Open(storageDir, deviceID)
	if err != nil {
		return err
	}
	defer store.Close()

	metaCount, err := store.CountRows(meterstore.TableMeta)
	if err != nil {
		return err
	}
	table.Append([]string{deviceID, meterstore.TableMeta, strconv.Itoa(metaCount), "", ""})

	for _, name := range meterstore.SensorTables {
		count, err := store.CountRows(name)
		if err != nil {
			return err
		}
		first, last, found, err := store.TimeBounds(name)
		if err != nil {
			return err
		}
		firstStr, lastStr := "", ""
		if found {
			firstStr = meterstore.FormatTimestamp(first)
			lastStr = meterstore.FormatTimestamp(last)
		}
		table.Append([]string{deviceID, name, strconv.Itoa(count), firstStr, lastStr})
	}
	return nil
}
