package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDatetime flags session dates that do not form a calendar date.
var ErrInvalidDatetime = errors.New("invalid datetime format")

// ParseDate reads a dd/mm/yyyy string by reversing it into ISO yyyy-mm-dd and returns
// midnight UTC of that day.
func ParseDate(value string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(value), "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDatetime, value)
	}
	day, month, year := parts[0], parts[1], parts[2]
	if len(day) == 1 {
		day = "0" + day
	}
	if len(month) == 1 {
		month = "0" + month
	}
	ts, err := time.Parse(time.DateOnly, year+"-"+month+"-"+day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDatetime, value)
	}
	return ts, nil
}

// Window is the historical lookback used to derive thresholds. A zero End means "now".
type Window struct {
	Start time.Time
	End   time.Time
}

// Bounds resolves the window against now.
func (w Window) Bounds(now time.Time) (time.Time, time.Time) {
	end := w.End
	if end.IsZero() || end.After(now) {
		end = now
	}
	return w.Start, end
}
