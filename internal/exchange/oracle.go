package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/market"
	"github.com/singatoshi/bnb-trading-agent/internal/metrics"
)

const (
	klineLimit    = 1000
	maxKlinePages = 200
)

type tickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// CurrentPrice returns the last traded price for symbol.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var out tickerPrice
	if err := c.get(ctx, "/api/v3/ticker/price", params, &out); err != nil {
		metrics.OracleMissesTotal.WithLabelValues(symbol, "current_price").Inc()
		return decimal.Zero, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	if !out.Price.IsPositive() {
		metrics.OracleMissesTotal.WithLabelValues(symbol, "current_price").Inc()
		return decimal.Zero, fmt.Errorf("ticker price %s: %w", symbol, market.ErrNoData)
	}
	return out.Price, nil
}

// Klines pages through candles between start and end (inclusive, open time based).
func (c *Client) Klines(ctx context.Context, symbol string, interval market.Interval, start, end time.Time) ([]market.Kline, error) {
	var klines []market.Kline
	from := start.UnixMilli()
	to := end.UnixMilli()

	for page := 0; page < maxKlinePages && from <= to; page++ {
		params := url.Values{}
		params.Set("symbol", strings.ToUpper(symbol))
		params.Set("interval", interval.String())
		params.Set("startTime", strconv.FormatInt(from, 10))
		params.Set("endTime", strconv.FormatInt(to, 10))
		params.Set("limit", strconv.Itoa(klineLimit))

		var rows [][]json.RawMessage
		if err := c.get(ctx, "/api/v3/klines", params, &rows); err != nil {
			return nil, fmt.Errorf("klines %s: %w", symbol, err)
		}
		for _, row := range rows {
			k, err := decodeKline(row)
			if err != nil {
				return nil, fmt.Errorf("klines %s: %w", symbol, err)
			}
			klines = append(klines, k)
		}
		if len(rows) < klineLimit {
			return klines, nil
		}
		from = klines[len(klines)-1].OpenTime.UnixMilli() + 1
	}
	if from <= to {
		c.log.Warn().Str("sym", symbol).Int("candles", len(klines)).Msg("kline window truncated at page cap")
	}
	return klines, nil
}

// HistoricalStats averages lows and highs over the window.
func (c *Client) HistoricalStats(ctx context.Context, symbol string, window market.Window, interval market.Interval) (market.Stats, error) {
	if interval.Duration() == 0 {
		metrics.OracleMissesTotal.WithLabelValues(symbol, "historical_stats").Inc()
		return market.Stats{}, fmt.Errorf("historical stats %s: %w", symbol, market.ErrInvalidInterval)
	}
	start, end := window.Bounds(c.now())
	klines, err := c.Klines(ctx, symbol, interval, start, end)
	if err != nil {
		metrics.OracleMissesTotal.WithLabelValues(symbol, "historical_stats").Inc()
		return market.Stats{}, err
	}
	stats, err := market.MeanStats(klines)
	if err != nil {
		metrics.OracleMissesTotal.WithLabelValues(symbol, "historical_stats").Inc()
		return market.Stats{}, fmt.Errorf("historical stats %s: %w", symbol, err)
	}
	return stats, nil
}

func decodeKline(row []json.RawMessage) (market.Kline, error) {
	if len(row) < 7 {
		return market.Kline{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	var (
		openMs, closeMs int64
		k               market.Kline
	)
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return market.Kline{}, fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return market.Kline{}, fmt.Errorf("kline close time: %w", err)
	}
	fields := []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for i, dst := range fields {
		if err := json.Unmarshal(row[i+1], dst); err != nil {
			return market.Kline{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
	}
	k.OpenTime = time.UnixMilli(openMs).UTC()
	k.CloseTime = time.UnixMilli(closeMs).UTC()
	return k, nil
}
