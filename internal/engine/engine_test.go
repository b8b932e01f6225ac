package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/model"
	"github.com/positionledger/posengine/internal/store"
)

func day(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedTrade(t *testing.T, st *store.MemoryStore, seq int64, qty int64, price string, when time.Time) {
	t.Helper()
	trade := model.Trade{
		SequenceNum: seq, Book: "B1", Counterparty: "CP1", Instrument: "AAPL",
		SignedQuantity: qty, Price: mustDecimal(price),
		TradeTime: when, TradeDate: when, SettlementDate: when,
	}
	if _, err := st.InsertTrade(context.Background(), &trade); err != nil {
		t.Fatal(err)
	}
}

func wacRequest(basis model.DateBasis, businessDate time.Time, reason model.ChangeReason) model.PositionCalcRequest {
	return model.PositionCalcRequest{
		RequestID:    "req-1",
		PositionKey:  "B1#CP1#AAPL",
		DateBasis:    basis,
		BusinessDate: businessDate,
		PriceMethods: []model.PriceMethod{model.PriceMethodWAC},
		ChangeReason: reason,
		KeyFormat:    model.KeyBookCounterpartyInstrument,
	}
}

func TestHandle_FullRecalc_NoPriorSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	d := day(2026, 1, 5)

	seedTrade(t, st, 1, 100, "10", d)
	seedTrade(t, st, 2, -40, "11", d)

	e := New(st, nil)
	req := wacRequest(model.TradeDate, d, model.ReasonInitial)
	if err := e.Handle(ctx, req); err != nil {
		t.Fatal(err)
	}

	snap, err := st.FindSnapshot(ctx, "B1#CP1#AAPL", d, model.TradeDate)
	if err != nil || snap == nil {
		t.Fatalf("expected snapshot, err=%v", err)
	}
	if snap.CalculationMethod != model.MethodFullRecalc {
		t.Fatalf("expected FULL_RECALC, got %s", snap.CalculationMethod)
	}
	if snap.NetQuantity != 60 || snap.GrossLong != 100 || snap.GrossShort != 40 {
		t.Fatalf("unexpected snapshot metrics: %+v", snap)
	}

	price, err := st.FindPrice(ctx, "B1#CP1#AAPL", d, model.PriceMethodWAC, model.TradeDate)
	if err != nil || price == nil {
		t.Fatalf("expected price, err=%v", err)
	}
	// R3 (no zero cross, sign preserved: 100 then -40 is toward
	// zero) — average price stays at the first trade's price.
	if !price.Price.Equal(mustDecimal("10")) {
		t.Fatalf("expected avg price 10 (toward-zero preserves it), got %s", price.Price)
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestHandle_FullRecalc_StampsCalculatedAtFromInjectedClock(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	d := day(2026, 1, 5)
	want := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	seedTrade(t, st, 1, 100, "10", d)

	e := New(st, nil).WithClock(fixedClock{now: want})
	req := wacRequest(model.TradeDate, d, model.ReasonInitial)
	if err := e.Handle(ctx, req); err != nil {
		t.Fatal(err)
	}

	snap, err := st.FindSnapshot(ctx, "B1#CP1#AAPL", d, model.TradeDate)
	if err != nil || snap == nil {
		t.Fatalf("expected snapshot, err=%v", err)
	}
	if !snap.CalculatedAt.Equal(want) {
		t.Fatalf("expected calculatedAt %s, got %s", want, snap.CalculatedAt)
	}

	price, err := st.FindPrice(ctx, "B1#CP1#AAPL", d, model.PriceMethodWAC, model.TradeDate)
	if err != nil || price == nil {
		t.Fatalf("expected price, err=%v", err)
	}
	if !price.CalculatedAt.Equal(want) {
		t.Fatalf("expected price calculatedAt %s, got %s", want, price.CalculatedAt)
	}
}

func TestHandle_SameDayIncremental_ExtendsExistingSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	d := day(2026, 1, 5)

	seedTrade(t, st, 1, 100, "10", d)
	e := New(st, nil)
	req := wacRequest(model.TradeDate, d, model.ReasonInitial)
	if err := e.Handle(ctx, req); err != nil {
		t.Fatal(err)
	}

	// Second batch: a new trade arrives on the same day, same coordinate.
	seedTrade(t, st, 2, 50, "12", d)
	if err := e.Handle(ctx, req); err != nil {
		t.Fatal(err)
	}

	snap, err := st.FindSnapshot(ctx, "B1#CP1#AAPL", d, model.TradeDate)
	if err != nil {
		t.Fatal(err)
	}
	if snap.CalculationMethod != model.MethodIncremental {
		t.Fatalf("expected INCREMENTAL for same-day extension, got %s", snap.CalculationMethod)
	}
	if snap.NetQuantity != 150 || snap.TradeCount != 2 || snap.CalculationVersion != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestHandle_SameDayIncremental_NoOpWhenNoNewTrades(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	d := day(2026, 1, 5)

	seedTrade(t, st, 1, 100, "10", d)
	e := New(st, nil)
	req := wacRequest(model.TradeDate, d, model.ReasonInitial)
	if err := e.Handle(ctx, req); err != nil {
		t.Fatal(err)
	}

	// Redundant duplicate calc request, no new trades committed.
	if err := e.Handle(ctx, req); err != nil {
		t.Fatal(err)
	}

	snap, err := st.FindSnapshot(ctx, "B1#CP1#AAPL", d, model.TradeDate)
	if err != nil {
		t.Fatal(err)
	}
	if snap.CalculationVersion != 1 {
		t.Fatalf("expected no-op to leave version unchanged at 1, got %d", snap.CalculationVersion)
	}
}

func TestHandle_CrossDayIncremental_CarriesForwardWhenNoTradesToday(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	d1, d2 := day(2026, 1, 5), day(2026, 1, 6)

	seedTrade(t, st, 1, 100, "10", d1)
	e := New(st, nil)
	if err := e.Handle(ctx, wacRequest(model.TradeDate, d1, model.ReasonInitial)); err != nil {
		t.Fatal(err)
	}

	// Calc request for the next day with no trades on it (e.g. triggered
	// by an unrelated cascade for the coordinate).
	if err := e.Handle(ctx, wacRequest(model.TradeDate, d2, model.ReasonLateTrade)); err != nil {
		t.Fatal(err)
	}

	snap, err := st.FindSnapshot(ctx, "B1#CP1#AAPL", d2, model.TradeDate)
	if err != nil || snap == nil {
		t.Fatalf("expected carried-forward snapshot, err=%v", err)
	}
	if snap.NetQuantity != 100 {
		t.Fatalf("expected carried-forward net quantity 100, got %d", snap.NetQuantity)
	}

	price, err := st.FindPrice(ctx, "B1#CP1#AAPL", d2, model.PriceMethodWAC, model.TradeDate)
	if err != nil || price == nil {
		t.Fatalf("expected carried-forward price, err=%v", err)
	}
	if !price.Price.Equal(mustDecimal("10")) {
		t.Fatalf("expected carried-forward price 10, got %s", price.Price)
	}
}

func TestHandle_CrossDayIncremental_CombinesWithPriorDay(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	d1, d2 := day(2026, 1, 5), day(2026, 1, 6)

	seedTrade(t, st, 1, 100, "10", d1)
	e := New(st, nil)
	if err := e.Handle(ctx, wacRequest(model.TradeDate, d1, model.ReasonInitial)); err != nil {
		t.Fatal(err)
	}

	seedTrade(t, st, 2, 50, "12", d2)
	if err := e.Handle(ctx, wacRequest(model.TradeDate, d2, model.ReasonInitial)); err != nil {
		t.Fatal(err)
	}

	snap, err := st.FindSnapshot(ctx, "B1#CP1#AAPL", d2, model.TradeDate)
	if err != nil {
		t.Fatal(err)
	}
	if snap.NetQuantity != 150 || snap.CalculationMethod != model.MethodIncremental {
		t.Fatalf("unexpected cross-day snapshot: %+v", snap)
	}

	price, err := st.FindPrice(ctx, "B1#CP1#AAPL", d2, model.PriceMethodWAC, model.TradeDate)
	if err != nil || price == nil {
		t.Fatal("expected price")
	}
	// (100*10 + 50*12) / 150 = 10.666666666667
	if price.Price.String() != "10.666666666667" {
		t.Fatalf("expected blended average 10.666666666667, got %s", price.Price)
	}
}

type recordingFallback struct{ calls int }

func (r *recordingFallback) ObserveWACFallback(string, model.DateBasis, time.Time) { r.calls++ }

func TestHandle_CrossDayIncremental_FallsBackToFullWACWhenPriorPriceMissing(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	d1, d2 := day(2026, 1, 5), day(2026, 1, 6)

	// Seed a prior snapshot directly (as if written by a non-WAC config)
	// without a corresponding WAC price row.
	if err := st.SaveSnapshot(ctx, model.PositionSnapshot{
		PositionKey: "B1#CP1#AAPL", BusinessDate: d1, NetQuantity: 100, GrossLong: 100,
		TradeCount: 1, TotalNotional: mustDecimal("1000"), CalculatedAt: d1, CalculationMethod: model.MethodFullRecalc,
	}, model.TradeDate, model.ReasonInitial); err != nil {
		t.Fatal(err)
	}

	seedTrade(t, st, 2, 50, "12", d2)
	fb := &recordingFallback{}
	e := New(st, fb)
	if err := e.Handle(ctx, wacRequest(model.TradeDate, d2, model.ReasonInitial)); err != nil {
		t.Fatal(err)
	}
	if fb.calls != 1 {
		t.Fatalf("expected exactly one fallback observation, got %d", fb.calls)
	}

	price, err := st.FindPrice(ctx, "B1#CP1#AAPL", d2, model.PriceMethodWAC, model.TradeDate)
	if err != nil || price == nil {
		t.Fatal("expected a fallback-computed price")
	}
	if !price.Price.Equal(mustDecimal("12")) {
		t.Fatalf("expected fallback full WAC over today's trades only (price 12), got %s", price.Price)
	}
}

func TestSelectStrategy(t *testing.T) {
	snap := &model.PositionSnapshot{}
	cases := []struct {
		name             string
		reason           model.ChangeReason
		current          *model.PositionSnapshot
		previous         *model.PositionSnapshot
		expectedStrategy Strategy
	}{
		{"initial with current", model.ReasonInitial, snap, nil, StrategySameDayIncremental},
		{"initial without current, has previous", model.ReasonInitial, nil, snap, StrategyCrossDayIncremental},
		{"initial without current or previous", model.ReasonInitial, nil, nil, StrategyFullRecalc},
		{"late trade always skips same-day", model.ReasonLateTrade, snap, snap, StrategyCrossDayIncremental},
		{"late trade with no previous", model.ReasonLateTrade, snap, nil, StrategyFullRecalc},
		{"correction behaves like late trade", model.ReasonCorrection, snap, snap, StrategyCrossDayIncremental},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := selectStrategy(tc.reason, tc.current, tc.previous)
			if got != tc.expectedStrategy {
				t.Fatalf("expected %s, got %s", tc.expectedStrategy, got)
			}
		})
	}
}
