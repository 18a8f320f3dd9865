package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// PortCount is the number of CT channels on every meter assembly.
	PortCount = 6

	// TimestampLayout is the storage rendering of timestamps: ISO-8601 in
	// UTC, truncated to microseconds so readback parses symmetrically.
	TimestampLayout = "2006-01-02T15:04:05.000000Z"
)

var (
	ErrMissingAssembly = errors.New("reading has no ASSY field")
	ErrMissingUnitName = errors.New("reading has empty YDEV_UNIT_NAME")
)

// PortReading holds the derived power quantities for one CT channel.
type PortReading struct {
	Name        string
	ActiveW     float64
	ReactiveW   float64
	ApparentW   float64
	PowerFactor float64
	VoltsRMS    float64
	FreqHz      float64
}

// Reading is one decoded status message from one meter at one instant.
// The wire format is open-ended JSON; everything past DecodeReading works
// on this fixed record and unknown wire keys are never propagated.
type Reading struct {
	// ReceiveTime is stamped at socket-read return, before parsing.
	ReceiveTime time.Time

	// DeviceID is the immutable factory assembly label,
	// e.g. ASY0398_V03.2000_SN00001834. It names the store file.
	DeviceID string

	// DeviceName is the user-assigned display name. May change at any time.
	DeviceName string

	// Addr is the source IP the reading arrived from.
	Addr string

	Active       bool
	RSSI         int
	TemperatureC float64
	Ports        [PortCount]PortReading
}

type wirePort struct {
	PRMS      *float64 `json:"PRMS"`
	PREACT    *float64 `json:"PREACT"`
	PAPPARENT *float64 `json:"PAPPARENT"`
	PF        *float64 `json:"PF"`
	VRMS      *float64 `json:"VRMS"`
	FREQ      *float64 `json:"FREQ"`
	NAME      string   `json:"NAME"`
}

type wireReading struct {
	ASSY        string   `json:"ASSY"`
	UnitName    string   `json:"YDEV_UNIT_NAME"`
	Active      *bool    `json:"ACTIVE"`
	RSSI        int      `json:"RSSI"`
	Temperature *float64 `json:"TEMPERATURE"`
	CT1         wirePort `json:"CT1"`
	CT2         wirePort `json:"CT2"`
	CT3         wirePort `json:"CT3"`
	CT4         wirePort `json:"CT4"`
	CT5         wirePort `json:"CT5"`
	CT6         wirePort `json:"CT6"`
}

// The meter firmware serialises float NaN as a bare NaN token, which
// encoding/json rejects. Map it to null before decoding; null numeric
// fields come back as NaN on the Reading.
var nanToken = []byte("NaN")
var nullToken = []byte("null")

// sanitizeNaN rewrites bare NaN tokens to null, leaving string values
// untouched. Outside a string, NaN can only be the firmware's float
// rendering; inside one it is data (a unit could be named "NaN").
func sanitizeNaN(line []byte) []byte {
	out := make([]byte, 0, len(line))
	inString := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if inString {
			out = append(out, c)
			if c == '\\' && i+1 < len(line) {
				i++
				out = append(out, line[i])
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		if c == 'N' && bytes.HasPrefix(line[i:], nanToken) {
			out = append(out, nullToken...)
			i += len(nanToken) - 1
			continue
		}
		out = append(out, c)
	}
	return out
}

// DecodeReading parses one wire JSON record into a Reading, stamping it
// with receiveTime. Records missing the assembly label or the unit name
// are rejected; no store may be created for them.
func DecodeReading(line []byte, receiveTime time.Time) (Reading, error) {
	var w wireReading
	if err := json.Unmarshal(sanitizeNaN(line), &w); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	if w.ASSY == "" {
		return Reading{}, ErrMissingAssembly
	}
	if w.UnitName == "" {
		return Reading{}, ErrMissingUnitName
	}

	r := Reading{
		ReceiveTime:  receiveTime.Truncate(time.Microsecond),
		DeviceID:     w.ASSY,
		DeviceName:   w.UnitName,
		Active:       w.Active == nil || *w.Active,
		RSSI:         w.RSSI,
		TemperatureC: floatOrNaN(w.Temperature),
	}
	for i, p := range []wirePort{w.CT1, w.CT2, w.CT3, w.CT4, w.CT5, w.CT6} {
		r.Ports[i] = PortReading{
			Name:        p.NAME,
			ActiveW:     floatOrNaN(p.PRMS),
			ReactiveW:   floatOrNaN(p.PREACT),
			ApparentW:   floatOrNaN(p.PAPPARENT),
			PowerFactor: floatOrNaN(p.PF),
			VoltsRMS:    floatOrNaN(p.VRMS),
			FreqHz:      floatOrNaN(p.FREQ),
		}
	}
	return r, nil
}

func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// NumericColumns is the canonical order of the numeric columns shared by
// the raw and rollup tables. NumericValues must stay in lock-step with it.
func NumericColumns() []string {
	cols := []string{"RSSI", "TEMPERATURE"}
	for i := 1; i <= PortCount; i++ {
		cols = append(cols,
			fmt.Sprintf("CT%d_ACTIVE_W", i),
			fmt.Sprintf("CT%d_REACTIVE_W", i),
			fmt.Sprintf("CT%d_APPARENT_W", i),
			fmt.Sprintf("CT%d_PF", i),
			fmt.Sprintf("CT%d_VRMS", i),
			fmt.Sprintf("CT%d_FREQ", i),
		)
	}
	return cols
}

// NumericValues renders the reading in NumericColumns order.
func (r Reading) NumericValues() []float64 {
	vals := make([]float64, 0, 2+PortCount*6)
	vals = append(vals, float64(r.RSSI), r.TemperatureC)
	for _, p := range r.Ports {
		vals = append(vals, p.ActiveW, p.ReactiveW, p.ApparentW, p.PowerFactor, p.VoltsRMS, p.FreqHz)
	}
	return vals
}

// PortNames returns the six user-assigned channel labels.
func (r Reading) PortNames() [PortCount]string {
	var names [PortCount]string
	for i, p := range r.Ports {
		names[i] = p.Name
	}
	return names
}
