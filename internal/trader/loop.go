package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/execution"
	"github.com/singatoshi/bnb-trading-agent/internal/market"
	"github.com/singatoshi/bnb-trading-agent/internal/metrics"
	"github.com/singatoshi/bnb-trading-agent/internal/signal"
)

// DefaultPollInterval is the fixed delay between iterations and between retries.
const DefaultPollInterval = 2 * time.Second

// ErrNotPrepared is returned by Step before Prepare has succeeded.
var ErrNotPrepared = errors.New("loop not prepared")

// PriceOracle supplies current and historical prices.
type PriceOracle interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	HistoricalStats(ctx context.Context, symbol string, window market.Window, interval market.Interval) (market.Stats, error)
}

// LotRules supplies the quantisation rule for a symbol. Implementations fall back rather than fail.
type LotRules interface {
	LotConstraint(ctx context.Context, symbol string) market.LotConstraint
}

// Submitter places an order and returns its confirmed fill.
type Submitter interface {
	Submit(ctx context.Context, order execution.Order) (execution.Fill, error)
}

// Outcome reports what a single iteration did.
type Outcome int

const (
	OutcomeHold Outcome = iota
	OutcomeBought
	OutcomeSold
	OutcomePartiallySold
	OutcomeRetry
	OutcomeOrderFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHold:
		return "hold"
	case OutcomeBought:
		return "bought"
	case OutcomeSold:
		return "sold"
	case OutcomePartiallySold:
		return "partially_sold"
	case OutcomeRetry:
		return "retry"
	case OutcomeOrderFailed:
		return "order_failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Loop is the buy/sell state machine. It is driven from a single goroutine.
type Loop struct {
	session   Session
	oracle    PriceOracle
	rules     LotRules
	submitter Submitter
	log       zerolog.Logger

	delay     time.Duration
	source    signal.Source
	window    *signal.Window
	reinvest  Reinvest
	bufferBps decimal.Decimal
	now       func() time.Time

	stats    market.Stats
	lot      market.LotConstraint
	prepared bool
	state    State
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPollInterval overrides the fixed delay.
func WithPollInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.delay = d
		}
	}
}

// WithSignalSource gates buys on a BUY label and sells on a SELL label. Features are computed
// over a trailing window of polled prices.
func WithSignalSource(src signal.Source, window time.Duration) LoopOption {
	return func(l *Loop) {
		l.source = src
		if src != nil {
			l.window = signal.NewWindow(window)
		}
	}
}

// WithReinvest sets the policy applied to capital freed by a sell.
func WithReinvest(r Reinvest) LoopOption {
	return func(l *Loop) {
		if r != "" {
			l.reinvest = r
		}
	}
}

// WithBuyBuffer sizes buys against price*(1+bps/10000) to leave room for venue slippage.
func WithBuyBuffer(bps float64) LoopOption {
	return func(l *Loop) {
		if bps > 0 {
			l.bufferBps = decimal.NewFromFloat(bps)
		}
	}
}

// NewLoop wires a session to its collaborators. The loop starts in BuyMode with the session's
// investment as available capital.
func NewLoop(session Session, oracle PriceOracle, rules LotRules, submitter Submitter, log zerolog.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		session:   session,
		oracle:    oracle,
		rules:     rules,
		submitter: submitter,
		log:       log.With().Str("sym", session.Symbol()).Logger(),
		delay:     DefaultPollInterval,
		reinvest:  ReinvestAll,
		now:       time.Now,
		state: State{
			Mode:       BuyMode,
			Held:       decimal.Zero,
			Investment: session.Investment(),
			Proceeds:   decimal.Zero,
			Residual:   decimal.Zero,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns a copy of the current bookkeeping.
func (l *Loop) State() State { return l.state }

// Stats returns the thresholds fetched by Prepare.
func (l *Loop) Stats() market.Stats { return l.stats }

// Lot returns the lot constraint fetched by Prepare.
func (l *Loop) Lot() market.LotConstraint { return l.lot }

// Prepare fetches thresholds, retrying after the poll delay until they arrive or ctx ends,
// then fetches the lot constraint.
func (l *Loop) Prepare(ctx context.Context) error {
	sym := l.session.Symbol()
	for {
		stats, err := l.oracle.HistoricalStats(ctx, sym, l.session.Window(), l.session.Interval())
		if err == nil && (!stats.MinMean.IsPositive() || !stats.MaxMean.IsPositive()) {
			err = fmt.Errorf("%w: non-positive thresholds min=%s max=%s", market.ErrNoData, stats.MinMean, stats.MaxMean)
		}
		if err == nil {
			l.stats = stats
			break
		}
		metrics.PollsTotal.WithLabelValues(sym, OutcomeRetry.String()).Inc()
		l.log.Warn().Err(err).Dur("retry_in", l.delay).Msg("historical stats unavailable")
		if err := sleep(ctx, l.delay); err != nil {
			return err
		}
	}

	l.lot = l.rules.LotConstraint(ctx, sym)
	if !l.lot.Valid() {
		l.lot = market.DefaultLotConstraint()
	}
	l.prepared = true
	l.publish()
	l.log.Info().
		Str("min_mean", l.stats.MinMean.String()).
		Str("max_mean", l.stats.MaxMean.String()).
		Int("samples", l.stats.Samples).
		Str("min_qty", l.lot.MinQty.String()).
		Str("step_size", l.lot.StepSize.String()).
		Str("investment", l.state.Investment.String()).
		Msg("session prepared")
	return nil
}

// Step runs one iteration. A non-nil error accompanies OutcomeRetry and OutcomeOrderFailed and
// never implies a state change.
func (l *Loop) Step(ctx context.Context) (Outcome, error) {
	if !l.prepared {
		return OutcomeRetry, ErrNotPrepared
	}
	sym := l.session.Symbol()
	price, err := l.oracle.CurrentPrice(ctx, sym)
	if err == nil && !price.IsPositive() {
		err = fmt.Errorf("%w: price %s", market.ErrNoData, price)
	}
	if err != nil {
		l.finish(OutcomeRetry)
		return OutcomeRetry, fmt.Errorf("current price: %w", err)
	}
	if l.window != nil {
		l.window.Observe(signal.Tick{Symbol: sym, Price: price.InexactFloat64(), Ts: l.now()})
	}

	var (
		outcome Outcome
		stepErr error
	)
	switch l.state.Mode {
	case BuyMode:
		outcome, stepErr = l.tryBuy(ctx, price)
	case SellMode:
		outcome, stepErr = l.trySell(ctx, price)
	}
	l.finish(outcome)
	return outcome, stepErr
}

func (l *Loop) tryBuy(ctx context.Context, price decimal.Decimal) (Outcome, error) {
	if price.GreaterThan(l.stats.MinMean) {
		return OutcomeHold, nil
	}
	sizingPrice := price
	if l.bufferBps.IsPositive() {
		sizingPrice = price.Mul(decimal.NewFromInt(1).Add(l.bufferBps.Div(decimal.NewFromInt(10000))))
	}
	qty := QuantityBuy(l.lot.MinQty, sizingPrice, l.state.Investment, l.lot.StepSize)
	if qty.IsZero() {
		l.log.Debug().Str("px", price.String()).Str("investment", l.state.Investment.String()).Msg("investment below minimum lot")
		return OutcomeHold, nil
	}
	if !l.confirm(ctx, signal.Buy) {
		return OutcomeHold, nil
	}

	fill, err := l.submitter.Submit(ctx, execution.Order{
		Symbol: l.session.Symbol(),
		Side:   execution.Buy,
		Qty:    qty,
		Price:  price,
	})
	if err != nil {
		return OutcomeOrderFailed, err
	}

	notional := fill.Notional()
	l.state = State{
		Mode:       SellMode,
		Held:       fill.Qty,
		Investment: notional,
		Proceeds:   l.state.Proceeds,
		Residual:   l.state.Investment.Sub(notional),
	}
	l.log.Info().
		Str("qty", fill.Qty.String()).
		Str("px", fill.Price.String()).
		Str("cost", notional.String()).
		Str("residual", l.state.Residual.String()).
		Msg("bought, switching to sell mode")
	return OutcomeBought, nil
}

func (l *Loop) trySell(ctx context.Context, price decimal.Decimal) (Outcome, error) {
	if price.LessThan(l.stats.MaxMean) || !l.state.Held.IsPositive() {
		return OutcomeHold, nil
	}
	if !l.confirm(ctx, signal.Sell) {
		return OutcomeHold, nil
	}

	fill, err := l.submitter.Submit(ctx, execution.Order{
		Symbol: l.session.Symbol(),
		Side:   execution.Sell,
		Qty:    l.state.Held,
		Price:  price,
	})
	if err != nil {
		return OutcomeOrderFailed, err
	}

	if fill.Qty.LessThan(l.state.Held) {
		return l.bookPartialSell(fill), nil
	}

	profit := Profits(l.state.Investment, fill.Price, fill.Qty)
	freed := l.state.Investment.Add(profit).Add(l.state.Residual)
	next, banked := l.reinvest.split(freed, l.session.Investment())
	l.state = State{
		Mode:       BuyMode,
		Held:       decimal.Zero,
		Investment: next,
		Proceeds:   l.state.Proceeds.Add(profit),
		Residual:   banked,
	}
	l.log.Info().
		Str("qty", fill.Qty.String()).
		Str("px", fill.Price.String()).
		Str("profit", profit.String()).
		Str("proceeds", l.state.Proceeds.String()).
		Str("investment", next.String()).
		Msg("sold, switching to buy mode")
	return OutcomeSold, nil
}

// bookPartialSell books the executed part of a sell against its share of the cost basis and
// stays in SellMode holding the rest. Capital released by the fill waits in Residual until the
// position is closed.
func (l *Loop) bookPartialSell(fill execution.Fill) Outcome {
	basis := l.state.Investment.Mul(fill.Qty).Div(l.state.Held)
	profit := Profits(basis, fill.Price, fill.Qty)
	l.state = State{
		Mode:       SellMode,
		Held:       l.state.Held.Sub(fill.Qty),
		Investment: l.state.Investment.Sub(basis),
		Proceeds:   l.state.Proceeds.Add(profit),
		Residual:   l.state.Residual.Add(basis).Add(profit),
	}
	l.log.Warn().
		Str("qty", fill.Qty.String()).
		Str("px", fill.Price.String()).
		Str("profit", profit.String()).
		Str("still_held", l.state.Held.String()).
		Msg("sell partially filled, staying in sell mode")
	return OutcomePartiallySold
}

// confirm asks the signal source, if any, to agree with the threshold decision. Errors hold.
func (l *Loop) confirm(ctx context.Context, want signal.Label) bool {
	if l.source == nil {
		return true
	}
	label, err := l.source.Predict(ctx, l.window.Features())
	if err != nil {
		l.log.Warn().Err(err).Str("source", l.source.Name()).Msg("signal source failed, holding")
		return false
	}
	if label != want {
		l.log.Debug().Str("source", l.source.Name()).Str("label", string(label)).Str("want", string(want)).Msg("signal disagrees, holding")
		return false
	}
	return true
}

func (l *Loop) finish(outcome Outcome) {
	metrics.PollsTotal.WithLabelValues(l.session.Symbol(), outcome.String()).Inc()
	l.publish()
}

func (l *Loop) publish() {
	sym := l.session.Symbol()
	metrics.LoopMode.WithLabelValues(sym).Set(float64(l.state.Mode))
	metrics.HeldQuantity.WithLabelValues(sym).Set(l.state.Held.InexactFloat64())
	metrics.RealizedProfit.WithLabelValues(sym).Set(l.state.Proceeds.InexactFloat64())
}

// Run prepares the loop if needed and iterates until ctx is canceled, sleeping the poll delay
// between iterations. It only returns ctx's error.
func (l *Loop) Run(ctx context.Context) error {
	if !l.prepared {
		if err := l.Prepare(ctx); err != nil {
			return err
		}
	}
	for {
		outcome, err := l.Step(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case outcome == OutcomeRetry:
			l.log.Warn().Err(err).Dur("retry_in", l.delay).Msg("price unavailable")
		case outcome == OutcomeOrderFailed:
			l.log.Error().Err(err).Str("mode", l.state.Mode.String()).Msg("order failed, state unchanged")
		default:
			l.log.Debug().Str("outcome", outcome.String()).Str("mode", l.state.Mode.String()).Msg("iteration")
		}
		if err := sleep(ctx, l.delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
