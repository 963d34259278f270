package execution

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeVenue struct {
	orders []Order
	err    error
}

func (v *fakeVenue) Name() string { return "fake" }

func (v *fakeVenue) PlaceOrder(_ context.Context, order Order) (Fill, error) {
	v.orders = append(v.orders, order)
	if v.err != nil {
		return Fill{}, v.err
	}
	return Fill{Symbol: order.Symbol, Side: order.Side, Qty: order.Qty, Price: order.Price, Ts: time.Now()}, nil
}

type capLimiter struct{ max decimal.Decimal }

func (c capLimiter) Allow(n decimal.Decimal) bool { return n.LessThanOrEqual(c.max) }

type recorder struct{ fills []Fill }

func (r *recorder) Record(f Fill) { r.fills = append(r.fills, f) }

type failingGuard struct{}

func (failingGuard) Protect(context.Context, Order) (Order, error) {
	return Order{}, errors.New("tampered")
}

func order(side Side, qty, px string) Order {
	return Order{Symbol: "BNBUSDT", Side: side, Qty: decimal.RequireFromString(qty), Price: decimal.RequireFromString(px)}
}

func TestSubmitLogsAndRecordsFill(t *testing.T) {
	var buf bytes.Buffer
	venue := &fakeVenue{}
	rec := &recorder{}
	exec := NewExecutor(venue, zerolog.New(&buf), WithRecorder(rec), WithRunID("run1"))

	fill, err := exec.Submit(context.Background(), order(Buy, "0.5", "300"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if fill.ClientOrderID != "run1-1" {
		t.Fatalf("unexpected client order id %q", fill.ClientOrderID)
	}
	if !fill.Notional().Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected notional %s", fill.Notional())
	}
	if len(rec.fills) != 1 {
		t.Fatalf("expected fill recorded")
	}
	if !strings.Contains(buf.String(), "BNBUSDT") || !strings.Contains(buf.String(), "order filled") {
		t.Fatalf("log does not contain fill: %s", buf.String())
	}

	fill, _ = exec.Submit(context.Background(), order(Sell, "0.5", "310"))
	if fill.ClientOrderID != "run1-2" {
		t.Fatalf("expected sequential client order id, got %q", fill.ClientOrderID)
	}
}

func TestSubmitRejectsNonPositiveQty(t *testing.T) {
	venue := &fakeVenue{}
	exec := NewExecutor(venue, zerolog.Nop())
	if _, err := exec.Submit(context.Background(), order(Buy, "0", "300")); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if len(venue.orders) != 0 {
		t.Fatalf("venue should not see rejected orders")
	}
}

func TestSubmitAppliesLimitsToBuysOnly(t *testing.T) {
	venue := &fakeVenue{}
	exec := NewExecutor(venue, zerolog.Nop(), WithLimits(capLimiter{max: decimal.NewFromInt(100)}))

	if _, err := exec.Submit(context.Background(), order(Buy, "1", "300")); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected buy over limit to be rejected, got %v", err)
	}
	if _, err := exec.Submit(context.Background(), order(Sell, "1", "300")); err != nil {
		t.Fatalf("sells must not be limited: %v", err)
	}
}

func TestSubmitGuardAndVenueFailures(t *testing.T) {
	venue := &fakeVenue{}
	exec := NewExecutor(venue, zerolog.Nop(), WithGuard(failingGuard{}))
	if _, err := exec.Submit(context.Background(), order(Buy, "1", "10")); err == nil {
		t.Fatalf("expected guard failure")
	}
	if len(venue.orders) != 0 {
		t.Fatalf("guarded order must not reach venue")
	}

	venue.err = errors.New("insufficient balance")
	exec = NewExecutor(venue, zerolog.Nop())
	if _, err := exec.Submit(context.Background(), order(Buy, "1", "10")); err == nil {
		t.Fatalf("expected venue failure")
	}
}
