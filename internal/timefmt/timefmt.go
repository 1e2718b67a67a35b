package timefmt

import (
	"fmt"
	"time"
)

// Twitter timestamps arrive in one of two shapes: with millisecond precision
// or with whole seconds only. Anything else is an upstream format change and
// must surface as an error rather than be dropped quietly.
const (
	layoutFractional = "2006-01-02T15:04:05.000Z"
	layoutWhole      = "2006-01-02T15:04:05Z"

	displayLayout = "2006-01-02 15:04:05 MST"
)

// EAT is East Africa Time, a fixed UTC+3 offset with no daylight saving.
var EAT = time.FixedZone("EAT", 3*60*60)

// Normalize parses a provider timestamp and returns the UTC instant together
// with a human-readable string in East Africa Time. The fractional-seconds
// layout is attempted first, then the whole-second layout.
func Normalize(raw string) (time.Time, string, error) {
	ts, err := time.Parse(layoutFractional, raw)
	if err != nil {
		ts, err = time.Parse(layoutWhole, raw)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("timestamp %q matches no known format: %w", raw, err)
		}
	}

	utc := ts.UTC()
	return utc, utc.In(EAT).Format(displayLayout), nil
}
