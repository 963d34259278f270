// Package risk holds the guard-rails applied before orders reach a venue.
package risk

import "github.com/shopspring/decimal"

// Limits caps the notional of a single trade. A zero cap disables the check.
type Limits struct {
	MaxNotionalPerTrade decimal.Decimal
}

// Allow reports whether notional fits under the cap.
func (l Limits) Allow(notional decimal.Decimal) bool {
	if !l.MaxNotionalPerTrade.IsPositive() {
		return true
	}
	return notional.LessThanOrEqual(l.MaxNotionalPerTrade)
}
