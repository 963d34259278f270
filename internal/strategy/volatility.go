package strategy

import (
	"context"

	"github.com/singatoshi/bnb-trading-agent/internal/signal"
)

// DefaultVolatilityScale is the per-poll return stddev (10 bps) that maps to a score of 0.5.
const DefaultVolatilityScale = 0.001

// VolatilityModel is the baseline model. It squashes windowed volatility into a score in [0,1)
// as vol/(vol+scale) and calls BUY when the score exceeds the threshold, SELL otherwise.
type VolatilityModel struct {
	threshold float64
	scale     float64
}

// NewVolatilityModel falls back to a 0.5 threshold when none (or one outside (0,1)) is given.
func NewVolatilityModel(threshold float64) *VolatilityModel {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}
	return &VolatilityModel{threshold: threshold, scale: DefaultVolatilityScale}
}

// Name returns the identifier for logging.
func (m *VolatilityModel) Name() string { return "VolatilityModel" }

// Score maps a raw volatility onto [0,1).
func (m *VolatilityModel) Score(volatility float64) float64 {
	if volatility <= 0 {
		return 0
	}
	return volatility / (volatility + m.scale)
}

// Predict labels the features.
func (m *VolatilityModel) Predict(ctx context.Context, f signal.Features) (signal.Label, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Score(f.Volatility) > m.threshold {
		return signal.Buy, nil
	}
	return signal.Sell, nil
}
