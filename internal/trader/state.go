package trader

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode is the loop phase.
type Mode int

const (
	// BuyMode waits for price <= MinMean.
	BuyMode Mode = iota
	// SellMode holds inventory and waits for price >= MaxMean.
	SellMode
)

func (m Mode) String() string {
	switch m {
	case BuyMode:
		return "BUY_MODE"
	case SellMode:
		return "SELL_MODE"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// State is the loop's mutable bookkeeping. Investment is the capital available to the next buy
// in BuyMode and the cost basis of Held in SellMode. Held is positive only in SellMode.
type State struct {
	Mode       Mode
	Held       decimal.Decimal
	Investment decimal.Decimal
	Proceeds   decimal.Decimal
	Residual   decimal.Decimal
}

// Reinvest decides how capital freed by a sell funds the next buy.
type Reinvest string

const (
	// ReinvestAll rolls cost basis, profit and residual into the next buy.
	ReinvestAll Reinvest = "all"
	// ReinvestPrincipal caps the next buy at the initial investment and banks the rest.
	ReinvestPrincipal Reinvest = "principal"
)

// ParseReinvest maps a config value onto a policy; empty means ReinvestAll.
func ParseReinvest(v string) (Reinvest, error) {
	switch Reinvest(v) {
	case "", ReinvestAll:
		return ReinvestAll, nil
	case ReinvestPrincipal:
		return ReinvestPrincipal, nil
	default:
		return "", fmt.Errorf("unknown reinvest policy %q", v)
	}
}

// split divides freed capital into the next investment and the banked residual.
func (r Reinvest) split(freed, initial decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if r == ReinvestPrincipal && freed.GreaterThan(initial) {
		return initial, freed.Sub(initial)
	}
	return freed, decimal.Zero
}
