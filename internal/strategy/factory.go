// Package strategy contains the pluggable signal sources the trading loop can consult.
package strategy

import (
	"fmt"
	"strings"

	"github.com/singatoshi/bnb-trading-agent/internal/signal"
)

// Params expresses tunable knobs required by source constructors.
type Params struct {
	Threshold float64
}

// Build returns the source matching mode. The "none" mode returns a nil source, which the
// loop reads as "thresholds alone decide".
func Build(mode string, params Params) (signal.Source, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "none", "off":
		return nil, nil
	case "volatility", "model":
		return NewVolatilityModel(params.Threshold), nil
	case "trend", "trend_follow", "trend_follower":
		return NewTrendFollower(params.Threshold), nil
	default:
		return nil, fmt.Errorf("unknown signal mode %q", mode)
	}
}
