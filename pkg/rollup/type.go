package rollup

import "time"

// Resolution identifies one of the three derived tables.
type Resolution int

const (
	Minute Resolution = iota
	Hour
	Day
)

func (r Resolution) String() string {
	switch r {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

// Width is the bucket width of the resolution on the UTC wall clock.
func (r Resolution) Width() time.Duration {
	switch r {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Sample is one row flowing through the engine: either a raw reading
// (minute stage) or an emitted rollup row (hour and day stages).
// Values are in types.NumericColumns order.
type Sample struct {
	Time   time.Time
	Values []float64
}

// EmitFunc receives each closed rollup row. An error aborts nothing:
// the row is simply lost and the next bucket will publish.
type EmitFunc func(res Resolution, row Sample) error
