// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/metrics"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy acquires the base asset.
	Buy Side = "BUY"
	// Sell disposes of the base asset.
	Sell Side = "SELL"
)

// Protection is the stamp an order guard leaves on an order.
type Protection struct {
	Fingerprint string    `json:"fingerprint"`
	Signature   string    `json:"signature,omitempty"`
	Signer      string    `json:"signer,omitempty"`
	At          time.Time `json:"at"`
}

// Order represents a market order request. Price is the reference quote the decision was
// taken on; venues fill at their own price.
type Order struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Protection    *Protection     `json:"protection,omitempty"`
}

// Fill is a venue-confirmed execution.
type Fill struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	OrderID       string          `json:"order_id,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Ts            time.Time       `json:"ts"`
}

// Notional is qty times price.
func (f Fill) Notional() decimal.Decimal { return f.Qty.Mul(f.Price) }

// Venue places an order and only returns once it is filled or has failed.
type Venue interface {
	PlaceOrder(ctx context.Context, order Order) (Fill, error)
	Name() string
}

// Guard inspects and stamps an order before it reaches the venue.
type Guard interface {
	Protect(ctx context.Context, order Order) (Order, error)
}

// Limiter vetoes order notionals.
type Limiter interface {
	Allow(notional decimal.Decimal) bool
}

// FillRecorder captures fills for later inspection.
type FillRecorder interface {
	Record(Fill)
}

// ErrRejected marks orders refused before they reached the venue.
var ErrRejected = errors.New("order rejected")

// Executor runs orders through risk limits and the guard, then routes them to the venue.
type Executor struct {
	venue    Venue
	guard    Guard
	limits   Limiter
	recorder FillRecorder
	log      zerolog.Logger
	runID    string
	seq      uint64
}

// Option configures Executor construction parameters.
type Option func(*Executor)

// WithGuard installs an order guard.
func WithGuard(g Guard) Option { return func(e *Executor) { e.guard = g } }

// WithLimits installs a notional limiter applied to buys.
func WithLimits(l Limiter) Option { return func(e *Executor) { e.limits = l } }

// WithRecorder installs a fill recorder.
func WithRecorder(r FillRecorder) Option { return func(e *Executor) { e.recorder = r } }

// WithRunID prefixes generated client order ids.
func WithRunID(id string) Option {
	return func(e *Executor) {
		if id != "" {
			e.runID = id
		}
	}
}

// NewExecutor wires a venue with a logger and options.
func NewExecutor(venue Venue, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{venue: venue, log: log, runID: "agent"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit validates, guards and places the order. A nil error means the returned fill is
// confirmed by the venue.
func (e *Executor) Submit(ctx context.Context, order Order) (Fill, error) {
	if !order.Qty.IsPositive() {
		e.count(order, "rejected")
		return Fill{}, fmt.Errorf("%w: quantity must be positive", ErrRejected)
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = e.nextClientOrderID()
	}
	if order.Side == Buy && e.limits != nil && !e.limits.Allow(order.Qty.Mul(order.Price)) {
		e.count(order, "rejected")
		e.log.Warn().Str("sym", order.Symbol).Str("qty", order.Qty.String()).Str("px", order.Price.String()).Msg("order over notional limit")
		return Fill{}, fmt.Errorf("%w: notional limit exceeded", ErrRejected)
	}

	if e.guard != nil {
		protected, err := e.guard.Protect(ctx, order)
		if err != nil {
			e.count(order, "guard_failed")
			e.log.Error().Err(err).Str("sym", order.Symbol).Str("side", string(order.Side)).Msg("order guard failed")
			return Fill{}, fmt.Errorf("protect order: %w", err)
		}
		order = protected
	}

	fill, err := e.venue.PlaceOrder(ctx, order)
	if err != nil {
		e.count(order, "failed")
		e.log.Error().Err(err).Str("venue", e.venue.Name()).Str("sym", order.Symbol).Str("side", string(order.Side)).Str("qty", order.Qty.String()).Msg("place order failed")
		return Fill{}, fmt.Errorf("place order: %w", err)
	}
	if !fill.Qty.IsPositive() || !fill.Price.IsPositive() {
		e.count(order, "failed")
		return Fill{}, fmt.Errorf("place order: venue %s returned empty fill", e.venue.Name())
	}
	if fill.ClientOrderID == "" {
		fill.ClientOrderID = order.ClientOrderID
	}

	e.count(order, "filled")
	if e.recorder != nil {
		e.recorder.Record(fill)
	}
	e.log.Info().
		Str("venue", e.venue.Name()).
		Str("sym", fill.Symbol).
		Str("side", string(fill.Side)).
		Str("qty", fill.Qty.String()).
		Str("px", fill.Price.String()).
		Str("client_order_id", fill.ClientOrderID).
		Msg("order filled")
	return fill, nil
}

func (e *Executor) count(order Order, result string) {
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side), result).Inc()
}

func (e *Executor) nextClientOrderID() string {
	seq := atomic.AddUint64(&e.seq, 1)
	return fmt.Sprintf("%s-%d", e.runID, seq)
}
