package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/market"
)

// StreamOracle answers current-price queries from the feed cache and falls back to REST when
// the cache is cold or stale. Historical data and lot rules always come from REST.
type StreamOracle struct {
	rest   *Client
	feed   *Feed
	maxAge time.Duration
	now    func() time.Time
}

// NewStreamOracle pairs a REST client with a feed; maxAge <= 0 defaults to 10s.
func NewStreamOracle(rest *Client, feed *Feed, maxAge time.Duration) *StreamOracle {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &StreamOracle{rest: rest, feed: feed, maxAge: maxAge, now: time.Now}
}

// Start runs the feed in the background until ctx is canceled.
func (o *StreamOracle) Start(ctx context.Context) {
	go func() {
		if err := o.feed.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			o.rest.log.Error().Err(err).Msg("price stream stopped")
		}
	}()
}

// CurrentPrice prefers a fresh streamed quote.
func (o *StreamOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if q, ok := o.feed.LastPrice(symbol); ok && q.Price.IsPositive() && o.now().Sub(q.Ts) <= o.maxAge {
		return q.Price, nil
	}
	return o.rest.CurrentPrice(ctx, symbol)
}

// HistoricalStats delegates to REST.
func (o *StreamOracle) HistoricalStats(ctx context.Context, symbol string, window market.Window, interval market.Interval) (market.Stats, error) {
	return o.rest.HistoricalStats(ctx, symbol, window, interval)
}

// LotConstraint delegates to REST.
func (o *StreamOracle) LotConstraint(ctx context.Context, symbol string) market.LotConstraint {
	return o.rest.LotConstraint(ctx, symbol)
}
