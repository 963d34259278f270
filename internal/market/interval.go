// Package market holds the venue-neutral market data types exchanged between the
// price oracle adapters and the trading loop.
package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInterval is returned for interval names outside the supported set.
var ErrInvalidInterval = errors.New("invalid interval")

// Interval is a candle sampling interval in venue notation ("1m", "30m", "1w").
type Interval string

type intervalDef struct {
	code     Interval
	duration time.Duration
}

var intervals = map[string]intervalDef{
	"1MINUTE":  {"1m", time.Minute},
	"3MINUTE":  {"3m", 3 * time.Minute},
	"5MINUTE":  {"5m", 5 * time.Minute},
	"15MINUTE": {"15m", 15 * time.Minute},
	"30MINUTE": {"30m", 30 * time.Minute},
	"1HOUR":    {"1h", time.Hour},
	"2HOUR":    {"2h", 2 * time.Hour},
	"4HOUR":    {"4h", 4 * time.Hour},
	"6HOUR":    {"6h", 6 * time.Hour},
	"8HOUR":    {"8h", 8 * time.Hour},
	"12HOUR":   {"12h", 12 * time.Hour},
	"1DAY":     {"1d", 24 * time.Hour},
	"3DAY":     {"3d", 72 * time.Hour},
	"1WEEK":    {"1w", 7 * 24 * time.Hour},
	"1MONTH":   {"1M", 30 * 24 * time.Hour},
}

// ParseInterval maps an enumerator such as "30MINUTE" onto its venue code.
func ParseInterval(name string) (Interval, error) {
	def, ok := intervals[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, name)
	}
	return def.code, nil
}

// Duration approximates the candle length; months count as 30 days.
func (i Interval) Duration() time.Duration {
	for _, def := range intervals {
		if def.code == i {
			return def.duration
		}
	}
	return 0
}

func (i Interval) String() string { return string(i) }
