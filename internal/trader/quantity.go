package trader

import "github.com/shopspring/decimal"

var ten = decimal.NewFromInt(10)

// QuantityBuy sizes a buy: investment/price floored to a multiple of minQty, truncated to the
// precision implied by stepSize and floored to a multiple of minQty again. When that precision
// cannot hold any multiple of minQty the untruncated multiple wins. The result never costs more
// than investment and is zero when investment cannot cover a single minQty.
func QuantityBuy(minQty, price, investment, stepSize decimal.Decimal) decimal.Decimal {
	if !minQty.IsPositive() || !price.IsPositive() || !investment.IsPositive() {
		return decimal.Zero
	}
	base := floorTo(investment.Div(price), minQty)
	q := floorTo(base.Truncate(precision(stepSize)), minQty)
	if !q.IsPositive() {
		q = base
	}
	if q.Mul(price).GreaterThan(investment) {
		q = q.Sub(minQty)
	}
	if !q.IsPositive() {
		return decimal.Zero
	}
	return q
}

func floorTo(v, unit decimal.Decimal) decimal.Decimal {
	return v.Div(unit).Floor().Mul(unit)
}

// Profits is price*qty - investment; negative on a loss.
func Profits(investment, price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Sub(investment)
}

// precision is max(1, floor(log10(1/stepSize))).
func precision(stepSize decimal.Decimal) int32 {
	if !stepSize.IsPositive() {
		return 1
	}
	v := decimal.NewFromInt(1).Div(stepSize)
	var p int32
	for v.GreaterThanOrEqual(ten) {
		v = v.Div(ten)
		p++
	}
	if p < 1 {
		return 1
	}
	return p
}
