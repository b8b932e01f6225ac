package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/model"
)

func mustPrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestInsertTrade_IdempotentBySequenceNum(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	trade := &model.Trade{
		SequenceNum: 1, Book: "B1", Counterparty: "CP1", Instrument: "AAPL",
		SignedQuantity: 100, Price: mustPrice("10.00"),
		TradeTime: time.Now(), TradeDate: time.Now(), SettlementDate: time.Now(),
	}

	inserted, err := s.InsertTrade(ctx, trade)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}

	inserted, err = s.InsertTrade(ctx, trade)
	if err != nil || inserted {
		t.Fatalf("duplicate insert should be a no-op: inserted=%v err=%v", inserted, err)
	}
}

func TestBatchInsertTrades_SkipsExisting(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := model.Trade{
		Book: "B1", Counterparty: "CP1", Instrument: "AAPL",
		SignedQuantity: 100, Price: mustPrice("10.00"),
		TradeTime: time.Now(), TradeDate: time.Now(), SettlementDate: time.Now(),
	}
	t1, t2 := base, base
	t1.SequenceNum, t2.SequenceNum = 1, 2

	if _, err := s.InsertTrade(ctx, &t1); err != nil {
		t.Fatal(err)
	}

	inserted, err := s.BatchInsertTrades(ctx, []model.Trade{t1, t2})
	if err != nil {
		t.Fatal(err)
	}
	if len(inserted) != 1 || inserted[0].SequenceNum != 2 {
		t.Fatalf("expected only sequence 2 inserted, got %+v", inserted)
	}
}

func TestUpsertPositionKey_TracksPriorDatesAndAdvancesMax(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	day1 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)

	res1, err := s.UpsertPositionKey(ctx, UpsertPositionKeyParams{
		PositionKey: "B1#CP1#AAPL", ConfigID: 1, ConfigType: model.ConfigOfficial,
		TradeDate: day1, SettlementDate: day1, SequenceNum: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res1.PriorLastTradeDate != nil {
		t.Fatalf("expected nil prior date on first upsert, got %v", res1.PriorLastTradeDate)
	}

	res2, err := s.UpsertPositionKey(ctx, UpsertPositionKeyParams{
		PositionKey: "B1#CP1#AAPL", ConfigID: 1, ConfigType: model.ConfigOfficial,
		TradeDate: day2, SettlementDate: day2, SequenceNum: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res2.PositionID != res1.PositionID {
		t.Fatalf("expected same position id, got %d and %d", res1.PositionID, res2.PositionID)
	}
	if res2.PriorLastTradeDate == nil || !res2.PriorLastTradeDate.Equal(day1) {
		t.Fatalf("expected prior trade date %v, got %v", day1, res2.PriorLastTradeDate)
	}

	// An older trade date should never move LastTradeDate backwards.
	res3, err := s.UpsertPositionKey(ctx, UpsertPositionKeyParams{
		PositionKey: "B1#CP1#AAPL", ConfigID: 1, ConfigType: model.ConfigOfficial,
		TradeDate: day1, SettlementDate: day1, SequenceNum: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res3.PriorLastTradeDate.Equal(day2) {
		t.Fatalf("expected prior trade date %v, got %v", day2, res3.PriorLastTradeDate)
	}
}

func TestAggregateMetrics_MatchesOnCanonicalBCIAndDate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	trades := []model.Trade{
		{SequenceNum: 1, Book: "B1", Counterparty: "CP1", Instrument: "AAPL", SignedQuantity: 100, Price: mustPrice("10"), TradeDate: day, SettlementDate: day, TradeTime: day},
		{SequenceNum: 2, Book: "B1", Counterparty: "CP1", Instrument: "AAPL", SignedQuantity: -40, Price: mustPrice("11"), TradeDate: day, SettlementDate: day, TradeTime: day.Add(time.Hour)},
		{SequenceNum: 3, Book: "B2", Counterparty: "CP1", Instrument: "AAPL", SignedQuantity: 50, Price: mustPrice("12"), TradeDate: day, SettlementDate: day, TradeTime: day},
	}
	if _, err := s.BatchInsertTrades(ctx, trades); err != nil {
		t.Fatal(err)
	}

	m, err := s.AggregateMetrics(ctx, "B1#CP1#AAPL", day, model.TradeDate)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("expected metrics, got nil")
	}
	if m.NetQuantity != 60 || m.GrossLong != 100 || m.GrossShort != 40 || m.TradeCount != 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	wantNotional := mustPrice("1440") // 100*10 + 40*11
	if !m.TotalNotional.Equal(wantNotional) {
		t.Fatalf("expected notional %s, got %s", wantNotional, m.TotalNotional)
	}
}

func TestAggregateMetrics_NoMatchingTradesReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	m, err := s.AggregateMetrics(context.Background(), "NOPE#NOPE#NOPE", time.Now(), model.TradeDate)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("expected nil metrics for no matches, got %+v", m)
	}
}

func TestSaveSnapshot_SupersedesPriorHistoryAndIncrementsVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	snap1 := model.PositionSnapshot{
		PositionKey: "B1#CP1#AAPL", BusinessDate: day, DateBasis: model.TradeDate,
		NetQuantity: 100, GrossLong: 100, TradeCount: 1,
		TotalNotional: mustPrice("1000"), CalculatedAt: day, CalculationMethod: model.MethodFullRecalc,
	}
	if err := s.SaveSnapshot(ctx, snap1, model.TradeDate, model.ReasonInitial); err != nil {
		t.Fatal(err)
	}

	snap2 := snap1
	snap2.NetQuantity = 60
	snap2.GrossLong = 100
	snap2.GrossShort = 40
	snap2.TradeCount = 2
	snap2.CalculatedAt = day.Add(time.Hour)
	if err := s.SaveSnapshot(ctx, snap2, model.TradeDate, model.ReasonLateTrade); err != nil {
		t.Fatal(err)
	}

	current, err := s.FindSnapshot(ctx, "B1#CP1#AAPL", day, model.TradeDate)
	if err != nil {
		t.Fatal(err)
	}
	if current.CalculationVersion != 2 || current.NetQuantity != 60 {
		t.Fatalf("unexpected current snapshot: %+v", current)
	}

	history, err := s.FindSnapshotHistory(ctx, "B1#CP1#AAPL", day, model.TradeDate)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].SupersededAt == nil {
		t.Fatal("expected first history row to be superseded")
	}
	if history[1].SupersededAt != nil {
		t.Fatal("expected current history row to have nil supersededAt")
	}
	if history[1].PreviousNetQuantity == nil || *history[1].PreviousNetQuantity != 100 {
		t.Fatalf("expected previousNetQuantity 100, got %v", history[1].PreviousNetQuantity)
	}
}

func TestSaveSnapshot_RejectsInvariantViolation(t *testing.T) {
	s := NewMemoryStore()
	bad := model.PositionSnapshot{
		PositionKey: "B1#CP1#AAPL", BusinessDate: time.Now(),
		NetQuantity: 5, GrossLong: 10, GrossShort: 10, // 10-10 != 5
	}
	if err := s.SaveSnapshot(context.Background(), bad, model.TradeDate, model.ReasonInitial); err == nil {
		t.Fatal("expected invariant violation error")
	}
}

func TestCreateConfig_RejectsDuplicateScope(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c1 := &model.PositionConfig{
		Type: model.ConfigOfficial, Name: "official-bci", KeyFormat: model.KeyBookCounterpartyInstrument,
		PriceMethods: []model.PriceMethod{model.PriceMethodWAC}, Scope: model.AllScope(), Active: true,
	}
	if err := s.CreateConfig(ctx, c1); err != nil {
		t.Fatal(err)
	}

	c2 := &model.PositionConfig{
		Type: model.ConfigOfficial, Name: "duplicate", KeyFormat: model.KeyBookCounterpartyInstrument,
		PriceMethods: []model.PriceMethod{model.PriceMethodWAC}, Scope: model.AllScope(), Active: true,
	}
	if err := s.CreateConfig(ctx, c2); err == nil {
		t.Fatal("expected constraint violation for duplicate (type, keyFormat, scope)")
	}
}

func TestDeactivateConfig_NotFound(t *testing.T) {
	s := NewMemoryStore()
	if err := s.DeactivateConfig(context.Background(), 999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
