package exchange

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/market"
	"github.com/singatoshi/bnb-trading-agent/internal/metrics"
)

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string         `json:"symbol"`
		Filters []symbolFilter `json:"filters"`
	} `json:"symbols"`
}

type symbolFilter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty"`
	StepSize   string `json:"stepSize"`
}

// LotConstraint reads the LOT_SIZE filter for symbol. Missing or malformed metadata yields
// market.DefaultLotConstraint so the session keeps running.
func (c *Client) LotConstraint(ctx context.Context, symbol string) market.LotConstraint {
	symbol = strings.ToUpper(symbol)
	params := url.Values{}
	params.Set("symbol", symbol)

	var info exchangeInfo
	if err := c.get(ctx, "/api/v3/exchangeInfo", params, &info); err != nil {
		return c.lotFallback(symbol, err.Error())
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			if f.FilterType != "LOT_SIZE" {
				continue
			}
			minQty, errMin := decimal.NewFromString(f.MinQty)
			step, errStep := decimal.NewFromString(f.StepSize)
			lot := market.LotConstraint{MinQty: minQty, StepSize: step}
			if errMin != nil || errStep != nil || !lot.Valid() {
				return c.lotFallback(symbol, "malformed LOT_SIZE filter")
			}
			return lot
		}
	}
	return c.lotFallback(symbol, "LOT_SIZE filter not found")
}

func (c *Client) lotFallback(symbol, reason string) market.LotConstraint {
	metrics.OracleMissesTotal.WithLabelValues(symbol, "lot_constraint").Inc()
	lot := market.DefaultLotConstraint()
	c.log.Warn().Str("sym", symbol).Str("reason", reason).Str("min_qty", lot.MinQty.String()).Msg("lot constraint unavailable, using default")
	return lot
}
