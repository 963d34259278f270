// Package trader runs the threshold trading loop: buy at or below the historical low mean,
// sell at or above the historical high mean, repeat.
package trader

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/market"
)

// ErrMissingParameter flags a session built without one of its required inputs.
var ErrMissingParameter = errors.New("missing session parameter")

// SessionParams are the raw caller-supplied session inputs. Dates use dd/mm/yyyy; End may be empty.
type SessionParams struct {
	Symbol     string
	Investment string
	Start      string
	End        string
	Interval   string
}

// Session is immutable once built.
type Session struct {
	symbol     string
	investment decimal.Decimal
	window     market.Window
	interval   market.Interval
}

// NewSession validates params and builds a Session.
func NewSession(p SessionParams) (Session, error) {
	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if symbol == "" {
		return Session{}, fmt.Errorf("%w: symbol", ErrMissingParameter)
	}
	if strings.TrimSpace(p.Investment) == "" {
		return Session{}, fmt.Errorf("%w: investment", ErrMissingParameter)
	}
	investment, err := decimal.NewFromString(strings.TrimSpace(p.Investment))
	if err != nil {
		return Session{}, fmt.Errorf("parse investment %q: %w", p.Investment, err)
	}
	if !investment.IsPositive() {
		return Session{}, fmt.Errorf("investment must be positive, got %s", investment)
	}
	if strings.TrimSpace(p.Start) == "" {
		return Session{}, fmt.Errorf("%w: start", ErrMissingParameter)
	}
	if strings.TrimSpace(p.Interval) == "" {
		return Session{}, fmt.Errorf("%w: interval", ErrMissingParameter)
	}
	interval, err := market.ParseInterval(p.Interval)
	if err != nil {
		return Session{}, err
	}
	start, err := market.ParseDate(p.Start)
	if err != nil {
		return Session{}, fmt.Errorf("session start: %w", err)
	}
	var end time.Time
	if strings.TrimSpace(p.End) != "" {
		if end, err = market.ParseDate(p.End); err != nil {
			return Session{}, fmt.Errorf("session end: %w", err)
		}
		if !end.After(start) {
			return Session{}, fmt.Errorf("session end %s must be after start %s", p.End, p.Start)
		}
	}
	return Session{
		symbol:     symbol,
		investment: investment,
		window:     market.Window{Start: start, End: end},
		interval:   interval,
	}, nil
}

func (s Session) Symbol() string              { return s.symbol }
func (s Session) Investment() decimal.Decimal { return s.investment }
func (s Session) Window() market.Window       { return s.window }
func (s Session) Interval() market.Interval   { return s.interval }
