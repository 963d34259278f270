package signal

import (
	"math"
	"time"
)

// Window keeps the ticks of a single symbol that fall inside a trailing duration.
// It is not safe for concurrent use; the trading loop owns it.
type Window struct {
	span  time.Duration
	ticks []Tick
}

// NewWindow builds a window covering span; non-positive spans default to one minute.
func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = time.Minute
	}
	return &Window{span: span}
}

// Observe appends a tick and drops ticks older than the span relative to it.
func (w *Window) Observe(t Tick) {
	w.ticks = append(w.ticks, t)
	cutoff := t.Ts.Add(-w.span)
	idx := 0
	for i, tk := range w.ticks {
		if tk.Ts.After(cutoff) {
			idx = i
			break
		}
		idx = i + 1
	}
	if idx > 0 && idx <= len(w.ticks) {
		w.ticks = w.ticks[idx:]
	}
}

// Len reports the number of ticks currently retained.
func (w *Window) Len() int { return len(w.ticks) }

// Features computes the feature vector for the latest tick.
func (w *Window) Features() Features {
	if len(w.ticks) == 0 {
		return Features{}
	}
	latest := w.ticks[len(w.ticks)-1]
	f := Features{
		Symbol:  latest.Symbol,
		Price:   latest.Price,
		Samples: len(w.ticks),
		Ts:      latest.Ts,
	}

	anchor := w.ticks[0].Price
	if anchor > 0 {
		f.Momentum = (latest.Price - anchor) / anchor
	}

	if len(w.ticks) < 2 {
		return f
	}
	returns := make([]float64, 0, len(w.ticks)-1)
	for i := 1; i < len(w.ticks); i++ {
		prev := w.ticks[i-1].Price
		if prev <= 0 {
			continue
		}
		returns = append(returns, (w.ticks[i].Price-prev)/prev)
	}
	if len(returns) == 0 {
		return f
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	f.Volatility = math.Sqrt(variance / float64(len(returns)))
	return f
}
