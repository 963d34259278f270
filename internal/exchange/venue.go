package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/execution"
)

type orderResponse struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	ClientOrderID       string          `json:"clientOrderId"`
	TransactTime        int64           `json:"transactTime"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Status              string          `json:"status"`
}

// Name identifies the venue in logs.
func (c *Client) Name() string { return "binance" }

// PlaceOrder submits a MARKET order and reports the aggregated fill. Anything short of a
// FILLED status is an error so callers never book a partial position.
func (c *Client) PlaceOrder(ctx context.Context, order execution.Order) (execution.Fill, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Symbol))
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", order.Qty.String())
	params.Set("newOrderRespType", "FULL")
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}

	var resp orderResponse
	if err := c.signedPost(ctx, "/api/v3/order", params, &resp); err != nil {
		return execution.Fill{}, fmt.Errorf("binance order %s %s: %w", order.Side, order.Symbol, err)
	}
	if resp.Status != "FILLED" {
		return execution.Fill{}, fmt.Errorf("binance order %d status %s", resp.OrderID, resp.Status)
	}
	if !resp.ExecutedQty.IsPositive() {
		return execution.Fill{}, fmt.Errorf("binance order %d executed nothing", resp.OrderID)
	}

	ts := time.UnixMilli(resp.TransactTime).UTC()
	if resp.TransactTime == 0 {
		ts = c.now().UTC()
	}
	return execution.Fill{
		Symbol:        resp.Symbol,
		Side:          order.Side,
		Qty:           resp.ExecutedQty,
		Price:         resp.CummulativeQuoteQty.Div(resp.ExecutedQty),
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Ts:            ts,
	}, nil
}
