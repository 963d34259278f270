package strategy

import (
	"context"
	"sync"

	"github.com/singatoshi/bnb-trading-agent/internal/signal"
)

// TrendFollower labels BUY once windowed momentum reaches +threshold and SELL once it reaches
// -threshold. Inside the dead band it repeats its previous label for the symbol.
type TrendFollower struct {
	threshold float64
	mu        sync.Mutex
	last      map[string]signal.Label
}

// NewTrendFollower builds a trend follower; threshold is a fraction (0.01 = 1%).
func NewTrendFollower(threshold float64) *TrendFollower {
	if threshold <= 0 {
		threshold = 0.002
	}
	return &TrendFollower{
		threshold: threshold,
		last:      make(map[string]signal.Label),
	}
}

// Name returns the configured identifier for logging.
func (t *TrendFollower) Name() string { return "TrendFollower" }

// Predict evaluates momentum against the dead band.
func (t *TrendFollower) Predict(ctx context.Context, f signal.Features) (signal.Label, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	label, ok := t.last[f.Symbol]
	if !ok {
		label = signal.Sell
	}
	switch {
	case f.Momentum >= t.threshold:
		label = signal.Buy
	case f.Momentum <= -t.threshold:
		label = signal.Sell
	}
	t.last[f.Symbol] = label
	return label, nil
}
