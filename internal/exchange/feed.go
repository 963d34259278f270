// Package exchange hosts the Binance connectors: REST price oracle, lot rules, order venue and
// the streaming tick feed.
package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/metrics"
	"github.com/singatoshi/bnb-trading-agent/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live trades from Binance public websockets.
	ProviderBinance = "binance"

	// DefaultStreamURL is the Binance combined-stream websocket endpoint.
	DefaultStreamURL = "wss://stream.binance.com:9443"

	defaultStubInterval = 500 * time.Millisecond
)

// Quote is the last price seen for a symbol.
type Quote struct {
	Price decimal.Decimal
	Ts    time.Time
}

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	streamURL    string
	stubInterval time.Duration
	stubStart    float64
	lastPrices   map[string]Quote
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithStreamURL overrides the websocket endpoint.
func WithStreamURL(u string) Option {
	return func(f *Feed) {
		if u != "" {
			f.streamURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithStubCadence sets the synthetic tick interval and starting price of the stub provider.
func WithStubCadence(every time.Duration, startPrice float64) Option {
	return func(f *Feed) {
		if every > 0 {
			f.stubInterval = every
		}
		if startPrice > 0 {
			f.stubStart = startPrice
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		streamURL:    DefaultStreamURL,
		stubInterval: defaultStubInterval,
		stubStart:    100,
		lastPrices:   make(map[string]Quote),
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// setSymbols stores symbols deduplicated, upper-cased and sorted.
func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// LastPrice returns the most recent quote seen for symbol.
func (f *Feed) LastPrice(symbol string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.lastPrices[strings.ToUpper(symbol)]
	return q, ok
}

// Run pushes ticks onto out until the context is canceled. A nil out only refreshes the
// last-price cache.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) emit(ctx context.Context, out chan<- signal.Tick, tick signal.Tick, px decimal.Decimal) error {
	f.mu.Lock()
	f.lastPrices[tick.Symbol] = Quote{Price: px, Ts: tick.Ts}
	f.mu.Unlock()
	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
	if out == nil {
		return nil
	}
	select {
	case out <- tick:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	px := decimal.NewFromFloat(f.stubStart)
	step := decimal.RequireFromString("0.1")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px = px.Add(step)
			for _, s := range f.snapshotSymbols() {
				tick := signal.Tick{Symbol: s, Price: px.InexactFloat64(), Size: 1, Side: 1, Ts: ts}
				if err := f.emit(ctx, out, tick, px); err != nil {
					return err
				}
			}
		}
	}
}
