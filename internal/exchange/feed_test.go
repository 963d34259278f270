package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/signal"
)

func TestFeedRunEmitsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, []string{"bnbusdt"}, zerolog.Nop(), WithStubCadence(10*time.Millisecond, 300))
	ticks := make(chan signal.Tick, 1)

	go func() {
		_ = feed.Run(ctx, ticks)
	}()

	select {
	case tk := <-ticks:
		if tk.Symbol != "BNBUSDT" {
			t.Fatalf("unexpected symbol %s", tk.Symbol)
		}
		q, ok := feed.LastPrice("BNBUSDT")
		if !ok || !q.Price.Equal(decimal.RequireFromString("300.1")) {
			t.Fatalf("expected cached price 300.1, got %+v", q)
		}
		cancel()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestSymbolFromStream(t *testing.T) {
	cases := map[string]string{
		"bnbusdt@trade":    "BNBUSDT",
		"ethusdt@aggTrade": "ETHUSDT",
		"dogeusdt":         "DOGEUSDT",
		"":                 "",
	}
	for stream, expected := range cases {
		if got := symbolFromStream(stream); got != expected {
			t.Fatalf("expected %s got %s", expected, got)
		}
	}
}

func TestBinanceStreamURL(t *testing.T) {
	got := binanceStreamURL("wss://example.test", []string{"BNBUSDT", "ETHUSDT"})
	if got != "wss://example.test/stream?streams=bnbusdt@trade/ethusdt@trade" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestDecodeTrade(t *testing.T) {
	tick, px, err := decodeTrade([]byte(`{"stream":"bnbusdt@trade","data":{"p":"312.5","q":"2","T":1700000000000,"m":false}}`))
	if err != nil {
		t.Fatalf("decodeTrade: %v", err)
	}
	if tick.Symbol != "BNBUSDT" || tick.Side != 1 || tick.Size != 2 || !px.Equal(decimal.RequireFromString("312.5")) {
		t.Fatalf("unexpected tick %+v px %s", tick, px)
	}
	if !tick.Ts.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected timestamp %s", tick.Ts)
	}

	for _, frame := range []string{`not json`, `{"stream":"bnbusdt@trade","data":{"q":"1"}}`, `{"stream":"bnbusdt@trade","data":{"p":"abc"}}`} {
		if _, _, err := decodeTrade([]byte(frame)); err == nil {
			t.Fatalf("expected error for %s", frame)
		}
	}
}

func TestNextBackoffCaps(t *testing.T) {
	d := binanceMinBackoff
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	if d != binanceMaxBackoff {
		t.Fatalf("expected backoff capped at %s, got %s", binanceMaxBackoff, d)
	}
	if nextBackoff(time.Second) != 2*time.Second {
		t.Fatalf("expected doubling")
	}
}

func TestBinanceFeedCachesTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("streams") != "bnbusdt@trade" {
			t.Errorf("unexpected streams %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"stream":"bnbusdt@trade","data":{"p":"311.20000000","q":"0.50000000","T":1700000000000,"m":true}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	feed := NewFeed(ProviderBinance, []string{"BNBUSDT"}, zerolog.Nop(), WithStreamURL(wsURL))
	ticks := make(chan signal.Tick, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- feed.Run(ctx, ticks)
	}()

	select {
	case tk := <-ticks:
		if tk.Symbol != "BNBUSDT" || tk.Side != -1 || tk.Price != 311.2 {
			t.Fatalf("unexpected tick %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for streamed tick")
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("feed returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("feed did not stop after cancel")
	}
}

func TestBinanceFeedRequiresSymbols(t *testing.T) {
	feed := NewFeed(ProviderBinance, nil, zerolog.Nop())
	if err := feed.Run(context.Background(), nil); err == nil {
		t.Fatalf("expected error without symbols")
	}
}
