// Package signal standardizes payloads shared between data ingestion, signal sources and the
// trading loop.
package signal

import (
	"context"
	"time"
)

// Tick models one observed price for a symbol.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Side   int // +1 buy, -1 sell (aggressor), 0 when unknown (polled quotes)
	Ts     time.Time
}

// Label is the directional output of a signal source.
type Label string

const (
	// Buy favours accumulating the symbol.
	Buy Label = "BUY"
	// Sell favours disposing of the symbol.
	Sell Label = "SELL"
)

// Features summarises the recent market for a signal source.
type Features struct {
	Symbol     string
	Price      float64
	Volatility float64 // stddev of tick-to-tick returns over the window
	Momentum   float64 // relative change from oldest to latest tick in the window
	Samples    int
	Ts         time.Time
}

// Source produces exactly one label per call. Implementations may block (remote models) and
// must honour ctx.
type Source interface {
	Predict(ctx context.Context, features Features) (Label, error)
	Name() string
}
