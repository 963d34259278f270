package market

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData reports that the venue returned nothing usable for the request.
var ErrNoData = errors.New("no market data")

// Kline is one OHLC candle.
type Kline struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// Stats are the mean thresholds for a session.
type Stats struct {
	MinMean decimal.Decimal // average low
	MaxMean decimal.Decimal // average high
	Samples int
}

// MeanStats averages lows and highs across candles.
func MeanStats(klines []Kline) (Stats, error) {
	if len(klines) == 0 {
		return Stats{}, ErrNoData
	}
	lows, highs := decimal.Zero, decimal.Zero
	for _, k := range klines {
		lows = lows.Add(k.Low)
		highs = highs.Add(k.High)
	}
	n := decimal.NewFromInt(int64(len(klines)))
	return Stats{
		MinMean: lows.Div(n),
		MaxMean: highs.Div(n),
		Samples: len(klines),
	}, nil
}

// LotConstraint is the venue quantisation rule for order quantities.
type LotConstraint struct {
	MinQty   decimal.Decimal
	StepSize decimal.Decimal
}

// DefaultLotConstraint keeps the session alive when the venue metadata is missing.
func DefaultLotConstraint() LotConstraint {
	return LotConstraint{
		MinQty:   decimal.RequireFromString("0.001"),
		StepSize: decimal.RequireFromString("0.001"),
	}
}

// Valid reports whether both fields are positive.
func (l LotConstraint) Valid() bool {
	return l.MinQty.IsPositive() && l.StepSize.IsPositive()
}
