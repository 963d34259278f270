// Package broker routes orders to Alpaca.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"

	"github.com/singatoshi/bnb-trading-agent/internal/execution"
)

const (
	// PaperBaseURL is Alpaca's paper-trading endpoint.
	PaperBaseURL = "https://paper-api.alpaca.markets"

	defaultPollEvery   = 500 * time.Millisecond
	defaultFillTimeout = 30 * time.Second
)

// Config carries the Alpaca credentials and order routing knobs.
type Config struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	Symbol      string // overrides the order symbol, e.g. "BNB/USD"
	FillTimeout time.Duration
	PollEvery   time.Duration
}

// Venue places market orders on Alpaca and waits for them to fill.
type Venue struct {
	client      *alpaca.Client
	symbol      string
	fillTimeout time.Duration
	pollEvery   time.Duration
	log         zerolog.Logger
}

// NewVenue builds an Alpaca venue. Missing BaseURL defaults to paper trading.
func NewVenue(cfg Config, log zerolog.Logger) (*Venue, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("alpaca venue requires api key and secret")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PaperBaseURL
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = defaultFillTimeout
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = defaultPollEvery
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
	})
	return &Venue{
		client:      client,
		symbol:      cfg.Symbol,
		fillTimeout: cfg.FillTimeout,
		pollEvery:   cfg.PollEvery,
		log:         log,
	}, nil
}

// Name implements execution.Venue.
func (v *Venue) Name() string { return "alpaca" }

// PlaceOrder submits a GTC market order and polls it until it is filled, fails, or the fill
// timeout elapses, in which case the order is canceled. An order that ends with some quantity
// executed yields a fill for that quantity only.
func (v *Venue) PlaceOrder(ctx context.Context, order execution.Order) (execution.Fill, error) {
	side := alpaca.Buy
	if order.Side == execution.Sell {
		side = alpaca.Sell
	}
	symbol := order.Symbol
	if v.symbol != "" {
		symbol = v.symbol
	}
	qty := order.Qty
	placed, err := v.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: order.ClientOrderID,
	})
	if err != nil {
		return execution.Fill{}, fmt.Errorf("alpaca place order: %w", err)
	}
	v.log.Info().Str("order_id", placed.ID).Str("sym", symbol).Str("side", string(side)).Str("qty", qty.String()).Str("status", string(placed.Status)).Msg("alpaca order accepted")

	deadline := time.Now().Add(v.fillTimeout)
	current := placed
	for {
		switch string(current.Status) {
		case "filled":
			return v.toFill(order, current)
		case "canceled", "expired", "rejected", "suspended":
			if current.FilledQty.IsPositive() {
				v.log.Warn().Str("order_id", current.ID).Str("status", string(current.Status)).Str("filled_qty", current.FilledQty.String()).Msg("alpaca order ended partially filled")
				return v.toFill(order, current)
			}
			return execution.Fill{}, fmt.Errorf("alpaca order %s ended %s", current.ID, current.Status)
		}
		if time.Now().After(deadline) {
			return v.abandon(order, current)
		}
		if err := waitForContext(ctx, v.pollEvery); err != nil {
			return execution.Fill{}, err
		}
		next, err := v.client.GetOrder(current.ID)
		if err != nil {
			v.log.Warn().Err(err).Str("order_id", current.ID).Msg("poll alpaca order failed")
			continue
		}
		current = next
	}
}

// abandon cancels an order that outlived the fill timeout and books whatever executed before
// the cancel landed.
func (v *Venue) abandon(order execution.Order, current *alpaca.Order) (execution.Fill, error) {
	if err := v.client.CancelOrder(current.ID); err != nil {
		v.log.Warn().Err(err).Str("order_id", current.ID).Msg("cancel after fill timeout failed")
	}
	if final, err := v.client.GetOrder(current.ID); err == nil {
		current = final
	} else {
		v.log.Warn().Err(err).Str("order_id", current.ID).Msg("refresh after cancel failed")
	}
	if current.FilledQty.IsPositive() {
		v.log.Warn().Str("order_id", current.ID).Str("filled_qty", current.FilledQty.String()).Str("qty", order.Qty.String()).Msg("alpaca order partially filled before timeout")
		return v.toFill(order, current)
	}
	return execution.Fill{}, fmt.Errorf("alpaca order %s not filled within %s", current.ID, v.fillTimeout)
}

func (v *Venue) toFill(order execution.Order, o *alpaca.Order) (execution.Fill, error) {
	if o.FilledAvgPrice == nil || !o.FilledAvgPrice.IsPositive() || !o.FilledQty.IsPositive() {
		return execution.Fill{}, fmt.Errorf("alpaca order %s filled without price or quantity", o.ID)
	}
	ts := time.Now()
	if o.FilledAt != nil {
		ts = *o.FilledAt
	}
	return execution.Fill{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           o.FilledQty,
		Price:         *o.FilledAvgPrice,
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Ts:            ts,
	}, nil
}

func waitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
