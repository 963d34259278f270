package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/execution"
	"github.com/singatoshi/bnb-trading-agent/internal/market"
	"github.com/singatoshi/bnb-trading-agent/internal/signal"
	"github.com/singatoshi/bnb-trading-agent/internal/strategy"
)

var errUnavailable = errors.New("symbol not found")

// scriptedOracle replays prices; a zero entry answers with errUnavailable.
type scriptedOracle struct {
	prices     []decimal.Decimal
	calls      int
	stats      market.Stats
	statsErrs  int
	statsCalls int
	onPrice    func(call int)
}

func (o *scriptedOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	o.calls++
	if o.onPrice != nil {
		o.onPrice(o.calls)
	}
	if len(o.prices) == 0 {
		return decimal.Zero, errUnavailable
	}
	px := o.prices[0]
	if len(o.prices) > 1 {
		o.prices = o.prices[1:]
	}
	if px.IsZero() {
		return decimal.Zero, errUnavailable
	}
	return px, nil
}

func (o *scriptedOracle) HistoricalStats(ctx context.Context, symbol string, window market.Window, interval market.Interval) (market.Stats, error) {
	o.statsCalls++
	if o.statsCalls <= o.statsErrs {
		return market.Stats{}, market.ErrNoData
	}
	return o.stats, nil
}

type fixedRules struct{ lot market.LotConstraint }

func (r fixedRules) LotConstraint(ctx context.Context, symbol string) market.LotConstraint {
	return r.lot
}

// fillAtOrderPrice confirms every order at its reference price unless err is set.
type fillAtOrderPrice struct {
	orders []execution.Order
	err    error
}

func (s *fillAtOrderPrice) Submit(ctx context.Context, order execution.Order) (execution.Fill, error) {
	s.orders = append(s.orders, order)
	if s.err != nil {
		return execution.Fill{}, s.err
	}
	return execution.Fill{Symbol: order.Symbol, Side: order.Side, Qty: order.Qty, Price: order.Price, Ts: time.Now()}, nil
}

type fixedSource struct {
	label signal.Label
	err   error
}

func (s fixedSource) Name() string { return "fixed" }

func (s fixedSource) Predict(ctx context.Context, f signal.Features) (signal.Label, error) {
	return s.label, s.err
}

func prices(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		if v == "" {
			out[i] = decimal.Zero
			continue
		}
		out[i] = d(v)
	}
	return out
}

func testSession(t *testing.T, investment string) Session {
	t.Helper()
	s, err := NewSession(SessionParams{Symbol: "BNBUSDT", Investment: investment, Start: "01/01/2024", Interval: "1HOUR"})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func newTestLoop(t *testing.T, oracle *scriptedOracle, sub Submitter, opts ...LoopOption) *Loop {
	t.Helper()
	if oracle.stats.Samples == 0 {
		oracle.stats = market.Stats{MinMean: d("100"), MaxMean: d("120"), Samples: 24}
	}
	opts = append([]LoopOption{WithPollInterval(time.Millisecond)}, opts...)
	l := NewLoop(testSession(t, "1000"), oracle, fixedRules{lot: market.DefaultLotConstraint()}, sub, zerolog.Nop(), opts...)
	if err := l.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return l
}

func step(t *testing.T, l *Loop, want Outcome) {
	t.Helper()
	got, err := l.Step(context.Background())
	if got != want {
		t.Fatalf("expected outcome %s, got %s (err=%v)", want, got, err)
	}
}

func sameState(a, b State) bool {
	return a.Mode == b.Mode && a.Held.Equal(b.Held) && a.Investment.Equal(b.Investment) &&
		a.Proceeds.Equal(b.Proceeds) && a.Residual.Equal(b.Residual)
}

func TestStepBuysOnlyAtOrBelowMinMean(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("110", "105", "99")}
	sub := &fillAtOrderPrice{}
	l := newTestLoop(t, oracle, sub)

	step(t, l, OutcomeHold)
	step(t, l, OutcomeHold)
	if l.State().Mode != BuyMode || !l.State().Held.IsZero() {
		t.Fatalf("unexpected early transition: %+v", l.State())
	}
	step(t, l, OutcomeBought)

	st := l.State()
	if st.Mode != SellMode || !st.Held.Equal(d("10.101")) {
		t.Fatalf("unexpected state after buy: %+v", st)
	}
	if !st.Investment.Equal(d("999.999")) || !st.Residual.Equal(d("0.001")) {
		t.Fatalf("unexpected cost basis/residual: %+v", st)
	}
	if len(sub.orders) != 1 || sub.orders[0].Side != execution.Buy {
		t.Fatalf("expected one buy order, got %+v", sub.orders)
	}
}

func TestStepBuysAtExactMinMean(t *testing.T) {
	l := newTestLoop(t, &scriptedOracle{prices: prices("100")}, &fillAtOrderPrice{})
	step(t, l, OutcomeBought)
}

func TestSellModeHoldsBelowMaxMean(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("95", "110", "119.99", "101", "80", "119")}
	l := newTestLoop(t, oracle, &fillAtOrderPrice{})
	step(t, l, OutcomeBought)
	held := l.State()

	for i := 0; i < 5; i++ {
		step(t, l, OutcomeHold)
		if !sameState(held, l.State()) {
			t.Fatalf("iteration %d changed state: %+v -> %+v", i, held, l.State())
		}
	}
}

func TestFullCycleReinvestAll(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("99", "125")}
	l := newTestLoop(t, oracle, &fillAtOrderPrice{})
	step(t, l, OutcomeBought)
	step(t, l, OutcomeSold)

	st := l.State()
	if st.Mode != BuyMode || !st.Held.IsZero() {
		t.Fatalf("expected flat buy mode, got %+v", st)
	}
	if !st.Proceeds.Equal(d("262.626")) {
		t.Fatalf("expected proceeds 262.626, got %s", st.Proceeds)
	}
	if !st.Investment.Equal(d("1262.626")) || !st.Residual.IsZero() {
		t.Fatalf("expected everything reinvested, got %+v", st)
	}
}

func TestFullCycleReinvestPrincipal(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("99", "125")}
	l := newTestLoop(t, oracle, &fillAtOrderPrice{}, WithReinvest(ReinvestPrincipal))
	step(t, l, OutcomeBought)
	step(t, l, OutcomeSold)

	st := l.State()
	if !st.Investment.Equal(d("1000")) || !st.Residual.Equal(d("262.626")) {
		t.Fatalf("expected principal reinvested and profit banked, got %+v", st)
	}
}

func TestFullCycleLossReinvestPrincipal(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("99", "130"), stats: market.Stats{MinMean: d("100"), MaxMean: d("120"), Samples: 1}}
	sub := &fillAtOrderPrice{}
	l := newTestLoop(t, oracle, sub, WithReinvest(ReinvestPrincipal))
	step(t, l, OutcomeBought)

	// venue fills the sell well below the reference price
	lossy := &lossySubmitter{price: d("90")}
	l.submitter = lossy
	step(t, l, OutcomeSold)

	st := l.State()
	wantProfit := d("90").Mul(d("10.101")).Sub(d("999.999"))
	if !st.Proceeds.Equal(wantProfit) || !st.Proceeds.IsNegative() {
		t.Fatalf("expected loss %s, got %s", wantProfit, st.Proceeds)
	}
	if !st.Investment.Equal(d("909.091")) || !st.Residual.IsZero() {
		t.Fatalf("expected freed capital below principal to be reinvested, got %+v", st)
	}
}

type lossySubmitter struct{ price decimal.Decimal }

func (s *lossySubmitter) Submit(ctx context.Context, order execution.Order) (execution.Fill, error) {
	return execution.Fill{Symbol: order.Symbol, Side: order.Side, Qty: order.Qty, Price: s.price}, nil
}

// cappedSellSubmitter fills the next sell for at most limit, then fills in full.
type cappedSellSubmitter struct {
	limit  decimal.Decimal
	orders []execution.Order
}

func (s *cappedSellSubmitter) Submit(ctx context.Context, order execution.Order) (execution.Fill, error) {
	s.orders = append(s.orders, order)
	qty := order.Qty
	if order.Side == execution.Sell && s.limit.IsPositive() && s.limit.LessThan(qty) {
		qty = s.limit
		s.limit = decimal.Zero
	}
	return execution.Fill{Symbol: order.Symbol, Side: order.Side, Qty: qty, Price: order.Price}, nil
}

func TestPartialSellKeepsRemainderInSellMode(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("99", "125", "125")}
	sub := &cappedSellSubmitter{limit: d("5")}
	l := newTestLoop(t, oracle, sub)
	step(t, l, OutcomeBought)
	step(t, l, OutcomePartiallySold)

	st := l.State()
	if st.Mode != SellMode || !st.Held.Equal(d("5.101")) {
		t.Fatalf("expected 5.101 still held in sell mode, got %+v", st)
	}
	if !st.Proceeds.IsPositive() {
		t.Fatalf("expected profit booked on the sold part, got %s", st.Proceeds)
	}
	if !st.Investment.Add(st.Residual).Equal(d("1000").Add(st.Proceeds)) {
		t.Fatalf("capital not conserved: %+v", st)
	}

	step(t, l, OutcomeSold)
	if len(sub.orders) != 3 || !sub.orders[2].Qty.Equal(d("5.101")) {
		t.Fatalf("expected the remainder to be offered, got %+v", sub.orders)
	}
	st = l.State()
	if st.Mode != BuyMode || !st.Held.IsZero() {
		t.Fatalf("expected flat buy mode, got %+v", st)
	}
	if !st.Proceeds.Equal(d("262.626")) || !st.Investment.Equal(d("1262.626")) || !st.Residual.IsZero() {
		t.Fatalf("expected the same result as a single full sell, got %+v", st)
	}
}

func TestStepRetriesWithoutMutation(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("", "", "", "95")}
	l := newTestLoop(t, oracle, &fillAtOrderPrice{})
	initial := l.State()

	for i := 0; i < 3; i++ {
		got, err := l.Step(context.Background())
		if got != OutcomeRetry || !errors.Is(err, errUnavailable) {
			t.Fatalf("poll %d: expected retry with errUnavailable, got %s %v", i, got, err)
		}
		if !sameState(initial, l.State()) {
			t.Fatalf("poll %d mutated state", i)
		}
	}
	step(t, l, OutcomeBought)
	if oracle.calls != 4 {
		t.Fatalf("expected 4 price calls, got %d", oracle.calls)
	}
}

func TestFailedOrderLeavesStateUnchanged(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("99", "99", "125", "125")}
	sub := &fillAtOrderPrice{err: errors.New("venue down")}
	l := newTestLoop(t, oracle, sub)
	before := l.State()

	step(t, l, OutcomeOrderFailed)
	if !sameState(before, l.State()) {
		t.Fatalf("failed buy mutated state: %+v", l.State())
	}

	sub.err = nil
	step(t, l, OutcomeBought)
	held := l.State()

	sub.err = errors.New("venue down")
	step(t, l, OutcomeOrderFailed)
	if !sameState(held, l.State()) {
		t.Fatalf("failed sell mutated state: %+v", l.State())
	}
	sub.err = nil
	step(t, l, OutcomeSold)
}

func TestStepHoldsWhenInvestmentBelowLot(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("99"), stats: market.Stats{MinMean: d("100"), MaxMean: d("120"), Samples: 1}}
	sub := &fillAtOrderPrice{}
	l := NewLoop(testSession(t, "0.05"), oracle, fixedRules{lot: market.DefaultLotConstraint()}, sub, zerolog.Nop())
	if err := l.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	step(t, l, OutcomeHold)
	if len(sub.orders) != 0 {
		t.Fatalf("expected no orders, got %d", len(sub.orders))
	}
}

func TestSignalSourceGatesTrades(t *testing.T) {
	cases := []struct {
		name string
		src  fixedSource
		want Outcome
	}{
		{"agrees", fixedSource{label: signal.Buy}, OutcomeBought},
		{"disagrees", fixedSource{label: signal.Sell}, OutcomeHold},
		{"fails", fixedSource{err: errors.New("model offline")}, OutcomeHold},
	}
	for _, tc := range cases {
		oracle := &scriptedOracle{prices: prices("95")}
		l := newTestLoop(t, oracle, &fillAtOrderPrice{}, WithSignalSource(tc.src, time.Minute))
		got, _ := l.Step(context.Background())
		if got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestVolatilitySourceBuysInVolatileDip(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("99", "80", "99", "80", "99", "80", "99", "80", "99", "80")}
	sub := &fillAtOrderPrice{}
	src, err := strategy.Build("volatility", strategy.Params{Threshold: 0.5})
	if err != nil {
		t.Fatalf("strategy.Build: %v", err)
	}
	l := newTestLoop(t, oracle, sub, WithSignalSource(src, time.Minute))

	bought := false
	for i := 0; i < 10 && !bought; i++ {
		got, err := l.Step(context.Background())
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		bought = got == OutcomeBought
	}
	if !bought || len(sub.orders) != 1 {
		t.Fatalf("expected one buy under the volatility source, got %d orders", len(sub.orders))
	}
	if l.State().Mode != SellMode {
		t.Fatalf("expected sell mode, got %s", l.State().Mode)
	}
}

func TestBuyBufferLeavesRoomForSlippage(t *testing.T) {
	oracle := &scriptedOracle{prices: prices("100"), stats: market.Stats{MinMean: d("100"), MaxMean: d("120"), Samples: 1}}
	l := NewLoop(testSession(t, "100"), oracle, fixedRules{lot: market.DefaultLotConstraint()}, &fillAtOrderPrice{}, zerolog.Nop(), WithBuyBuffer(100))
	if err := l.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	step(t, l, OutcomeBought)
	st := l.State()
	if !st.Held.Equal(d("0.99")) || !st.Residual.Equal(d("1")) {
		t.Fatalf("expected 0.99 held with 1 residual, got %+v", st)
	}
}

func TestStepRequiresPrepare(t *testing.T) {
	l := NewLoop(testSession(t, "100"), &scriptedOracle{}, fixedRules{}, &fillAtOrderPrice{}, zerolog.Nop())
	if _, err := l.Step(context.Background()); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("expected ErrNotPrepared, got %v", err)
	}
}

func TestPrepareRetriesAndFallsBack(t *testing.T) {
	oracle := &scriptedOracle{statsErrs: 2, stats: market.Stats{MinMean: d("100"), MaxMean: d("120"), Samples: 3}}
	l := NewLoop(testSession(t, "100"), oracle, fixedRules{}, &fillAtOrderPrice{}, zerolog.Nop(), WithPollInterval(time.Millisecond))
	if err := l.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if oracle.statsCalls != 3 {
		t.Fatalf("expected 3 stats calls, got %d", oracle.statsCalls)
	}
	if !l.Lot().MinQty.Equal(d("0.001")) || !l.Lot().StepSize.Equal(d("0.001")) {
		t.Fatalf("expected default lot constraint, got %+v", l.Lot())
	}
	if !l.Stats().MinMean.Equal(d("100")) {
		t.Fatalf("unexpected stats %+v", l.Stats())
	}
}

func TestPrepareStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	oracle := &scriptedOracle{statsErrs: 1000}
	l := NewLoop(testSession(t, "100"), oracle, fixedRules{}, &fillAtOrderPrice{}, zerolog.Nop())
	if err := l.Prepare(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	oracle := &scriptedOracle{
		prices: prices("110", "", "99", ""),
		stats:  market.Stats{MinMean: d("100"), MaxMean: d("120"), Samples: 1},
	}
	oracle.onPrice = func(call int) {
		if call == 4 {
			cancel()
		}
	}
	sub := &fillAtOrderPrice{}
	l := NewLoop(testSession(t, "1000"), oracle, fixedRules{lot: market.DefaultLotConstraint()}, sub, zerolog.Nop(), WithPollInterval(time.Millisecond))

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(sub.orders) != 1 || sub.orders[0].Side != execution.Buy {
		t.Fatalf("expected exactly one buy before cancel, got %+v", sub.orders)
	}
	if l.State().Mode != SellMode {
		t.Fatalf("expected sell mode, got %s", l.State().Mode)
	}
}

func TestModeString(t *testing.T) {
	if BuyMode.String() != "BUY_MODE" || SellMode.String() != "SELL_MODE" {
		t.Fatalf("unexpected mode names %s %s", BuyMode, SellMode)
	}
	if _, err := ParseReinvest("everything"); err == nil {
		t.Fatalf("expected unknown reinvest policy to fail")
	}
}
