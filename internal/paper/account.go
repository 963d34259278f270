// Package paper simulates a spot venue with virtual balances.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/execution"
)

var bpsDivisor = decimal.NewFromInt(10_000)

type positionState struct {
	Qty     decimal.Decimal
	AvgCost decimal.Decimal
}

// Account tracks virtual cash, realized PnL, and per-symbol positions while trading in paper mode.
type Account struct {
	mu                   sync.Mutex
	cash                 decimal.Decimal
	realizedPnL          decimal.Decimal
	maxPositionPerSymbol decimal.Decimal
	positions            map[string]positionState

	slippageBps decimal.Decimal
	maxLatency  time.Duration
	rng         *rand.Rand
	now         func() time.Time
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Qty         decimal.Decimal
	AvgCost     decimal.Decimal
	MarketValue decimal.Decimal
	Unrealized  decimal.Decimal
}

// Snapshot represents a thread-safe view of the account state, optionally marked to market using provided prices.
type Snapshot struct {
	Cash        decimal.Decimal
	RealizedPnL decimal.Decimal
	Equity      decimal.Decimal
	Positions   map[string]PositionSnapshot
}

// Option tunes simulated execution.
type Option func(*Account)

// WithSlippageBps moves fills against the order side by bps basis points.
func WithSlippageBps(bps float64) Option {
	return func(a *Account) {
		if bps > 0 {
			a.slippageBps = decimal.NewFromFloat(bps)
		}
	}
}

// WithMaxLatency delays each fill by a random duration below d.
func WithMaxLatency(d time.Duration) Option {
	return func(a *Account) {
		if d > 0 {
			a.maxLatency = d
		}
	}
}

// WithMaxPosition caps the quantity held per symbol; zero disables the cap.
func WithMaxPosition(qty decimal.Decimal) Option {
	return func(a *Account) { a.maxPositionPerSymbol = qty }
}

// NewAccount constructs an account populated with starting cash.
func NewAccount(startingCash decimal.Decimal, opts ...Option) *Account {
	a := &Account{
		cash:      startingCash,
		positions: make(map[string]positionState),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name identifies the venue in logs.
func (a *Account) Name() string { return "paper" }

// PlaceOrder fills a market order against the order's reference price plus slippage.
func (a *Account) PlaceOrder(ctx context.Context, order execution.Order) (execution.Fill, error) {
	if err := ctx.Err(); err != nil {
		return execution.Fill{}, err
	}
	if a.maxLatency > 0 {
		a.mu.Lock()
		delay := time.Duration(a.rng.Int63n(int64(a.maxLatency)))
		a.mu.Unlock()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return execution.Fill{}, ctx.Err()
		case <-timer.C:
		}
	}

	price := order.Price
	if a.slippageBps.IsPositive() {
		adj := price.Mul(a.slippageBps).Div(bpsDivisor)
		if order.Side == execution.Buy {
			price = price.Add(adj)
		} else {
			price = price.Sub(adj)
		}
	}
	if err := a.MarketFill(order.Symbol, order.Side, order.Qty, price); err != nil {
		return execution.Fill{}, fmt.Errorf("paper fill: %w", err)
	}
	return execution.Fill{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           order.Qty,
		Price:         price,
		OrderID:       "paper-" + order.ClientOrderID,
		ClientOrderID: order.ClientOrderID,
		Ts:            a.now().UTC(),
	}, nil
}

// MarketFill attempts to execute a market order at the provided price, mutating balances if successful.
func (a *Account) MarketFill(symbol string, side execution.Side, qty, price decimal.Decimal) error {
	if !qty.IsPositive() {
		return errors.New("quantity must be positive")
	}
	if !price.IsPositive() {
		return errors.New("price must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.positions[symbol]
	notional := qty.Mul(price)

	switch side {
	case execution.Buy:
		if notional.GreaterThan(a.cash) {
			return errors.New("insufficient cash for buy")
		}
		newQty := state.Qty.Add(qty)
		if a.maxPositionPerSymbol.IsPositive() && newQty.GreaterThan(a.maxPositionPerSymbol) {
			return errors.New("position limit exceeded")
		}
		newAvg := state.AvgCost.Mul(state.Qty).Add(notional).Div(newQty)
		a.cash = a.cash.Sub(notional)
		a.positions[symbol] = positionState{Qty: newQty, AvgCost: newAvg}

	case execution.Sell:
		if !state.Qty.IsPositive() || state.Qty.LessThan(qty) {
			return errors.New("insufficient position to sell")
		}
		a.realizedPnL = a.realizedPnL.Add(price.Sub(state.AvgCost).Mul(qty))
		a.cash = a.cash.Add(notional)
		newQty := state.Qty.Sub(qty)
		if newQty.IsZero() {
			delete(a.positions, symbol)
		} else {
			a.positions[symbol] = positionState{Qty: newQty, AvgCost: state.AvgCost}
		}

	default:
		return errors.New("unknown order side")
	}
	return nil
}

// Snapshot returns a copy of balances, optionally marked using the supplied prices map.
func (a *Account) Snapshot(prices map[string]decimal.Decimal) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.cash
	for sym, pos := range a.positions {
		snap := PositionSnapshot{Qty: pos.Qty, AvgCost: pos.AvgCost}
		if mark, ok := prices[sym]; ok && mark.IsPositive() {
			snap.MarketValue = pos.Qty.Mul(mark)
			snap.Unrealized = mark.Sub(pos.AvgCost).Mul(pos.Qty)
		}
		positions[sym] = snap
		equity = equity.Add(snap.MarketValue)
	}

	return Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realizedPnL,
		Equity:      equity,
		Positions:   positions,
	}
}

// AvailableCash reports free cash that can be deployed into new longs.
func (a *Account) AvailableCash() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Position returns the current position size for the supplied symbol.
func (a *Account) Position(symbol string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}
