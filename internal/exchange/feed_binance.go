package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/signal"
)

const (
	binanceIdleTimeout = 30 * time.Second
	binancePingEvery   = 15 * time.Second
	binanceMinBackoff  = time.Second
	binanceMaxBackoff  = 30 * time.Second
)

// tradeEvent is one frame of a combined <symbol>@trade stream.
type tradeEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Price      decimal.Decimal `json:"p"`
		Qty        decimal.Decimal `json:"q"`
		TradeTime  int64           `json:"T"`
		BuyerMaker bool            `json:"m"`
	} `json:"data"`
}

// runBinance keeps a combined trade stream open, redialing with capped exponential backoff.
// The backoff resets once a connection has delivered a trade.
func (f *Feed) runBinance(ctx context.Context, out chan<- signal.Tick) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return errors.New("binance feed requires at least one symbol")
	}
	endpoint := binanceStreamURL(f.streamURL, symbols)

	wait := binanceMinBackoff
	for {
		delivered, err := f.streamTrades(ctx, endpoint, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			wait = binanceMinBackoff
		}
		f.log.Warn().Err(err).Dur("backoff", wait).Msg("binance feed disconnected, redialing")
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		wait = nextBackoff(wait)
	}
}

// streamTrades consumes one websocket session and reports whether any trade was emitted.
func (f *Feed) streamTrades(ctx context.Context, endpoint string, out chan<- signal.Tick) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()
	f.log.Info().Str("provider", ProviderBinance).Str("endpoint", endpoint).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(binanceIdleTimeout)) }
	_ = extend("")
	conn.SetPongHandler(extend)

	sessionCtx, stop := context.WithCancel(ctx)
	defer stop()
	go f.keepAlive(sessionCtx, conn)

	delivered := false
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		_ = extend("")

		tick, px, err := decodeTrade(frame)
		if err != nil {
			f.log.Warn().Err(err).Msg("skipping binance frame")
			continue
		}
		if err := f.emit(ctx, out, tick, px); err != nil {
			return delivered, err
		}
		delivered = true
	}
}

// keepAlive pings until ctx ends, then closes conn so a blocked read returns.
func (f *Feed) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(binancePingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				f.log.Debug().Err(err).Msg("binance ping failed")
				return
			}
		}
	}
}

func binanceStreamURL(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

// decodeTrade turns a trade frame into a tick. Buyer-maker trades are sells (side -1).
func decodeTrade(frame []byte) (signal.Tick, decimal.Decimal, error) {
	var ev tradeEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return signal.Tick{}, decimal.Zero, fmt.Errorf("decode trade: %w", err)
	}
	if !ev.Data.Price.IsPositive() {
		return signal.Tick{}, decimal.Zero, fmt.Errorf("trade on %q without price", ev.Stream)
	}
	side := 1
	if ev.Data.BuyerMaker {
		side = -1
	}
	return signal.Tick{
		Symbol: symbolFromStream(ev.Stream),
		Price:  ev.Data.Price.InexactFloat64(),
		Size:   ev.Data.Qty.InexactFloat64(),
		Side:   side,
		Ts:     time.UnixMilli(ev.Data.TradeTime),
	}, ev.Data.Price, nil
}

func symbolFromStream(stream string) string {
	sym, _, _ := strings.Cut(stream, "@")
	return strings.ToUpper(sym)
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > binanceMaxBackoff {
		return binanceMaxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
