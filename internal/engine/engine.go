// Package engine implements the Calculation Engine of spec §4.5: for
// each incoming PositionCalcRequest it selects a recalculation
// strategy, reads whatever prior state that strategy needs, computes
// the new snapshot and its requested average prices, and commits both
// atomically.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/civil"
	"github.com/positionledger/posengine/internal/keyformat"
	"github.com/positionledger/posengine/internal/model"
	"github.com/positionledger/posengine/internal/notionalguard"
	"github.com/positionledger/posengine/internal/priceengine"
	"github.com/positionledger/posengine/internal/store"
)

// Strategy names a recalculation approach, mirroring
// model.CalculationMethod but distinguishing the two incremental
// variants for logging/metrics before they collapse into one
// persisted value.
type Strategy string

const (
	StrategySameDayIncremental  Strategy = "SAME_DAY_INCREMENTAL"
	StrategyCrossDayIncremental Strategy = "CROSS_DAY_INCREMENTAL"
	StrategyFullRecalc          Strategy = "FULL_RECALC"
)

// FallbackObserver is notified whenever cross-day incremental falls
// back to a full price computation because no prior-day price exists
// for a requested method. The engine's HTTP/metrics wiring implements
// this to increment posengine_wac_fallback_total; nil is a valid no-op
// observer.
type FallbackObserver interface {
	ObserveWACFallback(positionKey string, basis model.DateBasis, businessDate time.Time)
}

// SnapshotObserver is notified with every snapshot the engine commits,
// after the store write succeeds. The HTTP layer implements this to
// push newly committed snapshots onto the live snapshot feed; nil is a
// valid no-op observer.
type SnapshotObserver interface {
	ObserveSnapshot(snap model.PositionSnapshot, basis model.DateBasis)
}

// Clock allows deterministic control of the timestamp stamped onto
// every snapshot and price row the engine commits.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Engine is the Calculation Engine.
type Engine struct {
	store     store.Store
	fallback  FallbackObserver
	guard     *notionalguard.Guard
	snapshots SnapshotObserver
	clock     Clock
}

// New creates a Calculation Engine. Pass nil fallback to skip fallback
// observability. Without WithGuard, only the structural invariants of
// model.PositionSnapshot.Validate are enforced.
func New(st store.Store, fallback FallbackObserver) *Engine {
	return &Engine{store: st, fallback: fallback, clock: realClock{}}
}

// WithGuard attaches a notional ceiling check run before every commit.
func (e *Engine) WithGuard(g *notionalguard.Guard) *Engine {
	e.guard = g
	return e
}

// WithSnapshotObserver attaches an observer notified after every
// successful snapshot commit.
func (e *Engine) WithSnapshotObserver(o SnapshotObserver) *Engine {
	e.snapshots = o
	return e
}

// WithClock swaps the clock implementation, for deterministic tests.
func (e *Engine) WithClock(c Clock) *Engine {
	if c != nil {
		e.clock = c
	}
	return e
}

func (e *Engine) validate(snap *model.PositionSnapshot) error {
	if e.guard != nil {
		return e.guard.Check(snap)
	}
	return snap.Validate()
}

// Handle processes one calc request end to end. It never returns an
// error for "nothing to compute" cases (§4.5 full recalculation with
// no matching trades); it returns an error only for store failures or
// a computed snapshot that fails its own invariant check.
func (e *Engine) Handle(ctx context.Context, req model.PositionCalcRequest) error {
	businessDate := civil.Date(req.BusinessDate)
	previousDate := civil.AddDays(businessDate, -1)

	current, err := e.store.FindSnapshot(ctx, req.PositionKey, businessDate, req.DateBasis)
	if err != nil {
		return fmt.Errorf("engine: find current snapshot: %w", err)
	}
	previous, err := e.store.FindSnapshot(ctx, req.PositionKey, previousDate, req.DateBasis)
	if err != nil {
		return fmt.Errorf("engine: find previous snapshot: %w", err)
	}

	strategy := selectStrategy(req.ChangeReason, current, previous)

	slog.Info("calc request",
		"request_id", req.RequestID,
		"position_key", req.PositionKey,
		"date_basis", req.DateBasis,
		"business_date", businessDate.Format("2006-01-02"),
		"change_reason", req.ChangeReason,
		"strategy", strategy,
	)

	switch strategy {
	case StrategySameDayIncremental:
		return e.sameDayIncremental(ctx, req, businessDate, current)
	case StrategyCrossDayIncremental:
		return e.crossDayIncremental(ctx, req, businessDate, previousDate, previous)
	default:
		return e.fullRecalc(ctx, req, businessDate)
	}
}

// selectStrategy implements the branch table of spec §4.5.
// changeReason = INITIAL and a current snapshot already exists is the
// only path to same-day incremental; LATE_TRADE and CORRECTION always
// fall through to cross-day incremental or full recalculation because
// a cascade must recompute from updated prior-day state.
func selectStrategy(reason model.ChangeReason, current, previous *model.PositionSnapshot) Strategy {
	if reason == model.ReasonInitial && current != nil {
		return StrategySameDayIncremental
	}
	if previous != nil {
		return StrategyCrossDayIncremental
	}
	return StrategyFullRecalc
}

func (e *Engine) sameDayIncremental(ctx context.Context, req model.PositionCalcRequest, businessDate time.Time, current *model.PositionSnapshot) error {
	newTrades, err := e.fetchTrades(ctx, req, businessDate, current.LastSequenceNum)
	if err != nil {
		return err
	}
	if len(newTrades) == 0 {
		return nil
	}

	snap := *current
	for _, t := range newTrades {
		applyTradeMetrics(&snap, t)
	}
	snap.CalculationMethod = model.MethodIncremental
	snap.CalculationRequestID = req.RequestID
	snap.CalculatedAt = e.clock.Now()

	if err := e.validate(&snap); err != nil {
		return err
	}

	states, err := e.extendPrices(ctx, req, businessDate, current.NetQuantity, newTrades)
	if err != nil {
		return err
	}

	return e.commit(ctx, req, snap, states)
}

// extendPrices resumes each requested price method from its currently
// persisted row (or from zero, if none exists yet) and folds newTrades
// into it.
func (e *Engine) extendPrices(ctx context.Context, req model.PositionCalcRequest, businessDate time.Time, priorNetQuantity int64, newTrades []model.TradeRecord) (map[model.PriceMethod]priceengine.State, error) {
	states := make(map[model.PriceMethod]priceengine.State, len(req.PriceMethods))
	for _, methodName := range req.PriceMethods {
		method, err := priceengine.Lookup(methodName)
		if err != nil {
			return nil, err
		}
		row, err := e.store.FindPrice(ctx, req.PositionKey, businessDate, methodName, req.DateBasis)
		if err != nil {
			return nil, fmt.Errorf("engine: find price: %w", err)
		}
		state := method.Zero()
		if row != nil {
			state = priceengine.FromMethodData(row.Price, row.MethodData, priorNetQuantity)
		}
		for _, t := range newTrades {
			state = method.ApplyTrade(state, t.SequenceNum, t.SignedQuantity, t.Price)
		}
		states[methodName] = state
	}
	return states, nil
}

func (e *Engine) crossDayIncremental(ctx context.Context, req model.PositionCalcRequest, businessDate, previousDate time.Time, previous *model.PositionSnapshot) error {
	todayMetrics, err := e.aggregateMetrics(ctx, req, businessDate)
	if err != nil {
		return err
	}

	var snap model.PositionSnapshot
	if todayMetrics == nil {
		// Carry-forward: no trades today, roll the prior snapshot
		// forward under the new business date.
		snap = *previous
		snap.BusinessDate = businessDate
	} else {
		snap = model.PositionSnapshot{
			PositionKey:     req.PositionKey,
			BusinessDate:    businessDate,
			DateBasis:       req.DateBasis,
			NetQuantity:     previous.NetQuantity + todayMetrics.NetQuantity,
			GrossLong:       previous.GrossLong + todayMetrics.GrossLong,
			GrossShort:      previous.GrossShort + todayMetrics.GrossShort,
			TradeCount:      previous.TradeCount + todayMetrics.TradeCount,
			TotalNotional:   previous.TotalNotional.Add(todayMetrics.TotalNotional),
			LastSequenceNum: todayMetrics.LastSequenceNum,
			LastTradeTime:   todayMetrics.LastTradeTime,
		}
	}
	snap.CalculationMethod = model.MethodIncremental
	snap.CalculationRequestID = req.RequestID
	snap.CalculatedAt = e.clock.Now()

	if err := e.validate(&snap); err != nil {
		return err
	}

	if len(req.PriceMethods) == 0 {
		return e.commit(ctx, req, snap, nil)
	}

	if todayMetrics == nil {
		return e.carryForwardPrices(ctx, req, previousDate, businessDate, snap)
	}

	todayTrades, err := e.fetchTrades(ctx, req, businessDate, 0)
	if err != nil {
		return err
	}

	states := make(map[model.PriceMethod]priceengine.State, len(req.PriceMethods))
	for _, methodName := range req.PriceMethods {
		method, err := priceengine.Lookup(methodName)
		if err != nil {
			return err
		}
		previousPrice, err := e.store.FindPrice(ctx, req.PositionKey, previousDate, methodName, req.DateBasis)
		if err != nil {
			return fmt.Errorf("engine: find previous price: %w", err)
		}

		var state priceengine.State
		if previousPrice == nil {
			// No prior price to blend from (e.g. the position's
			// history predates this method being requested for it):
			// fall back to a full fold over today's trades only. The
			// snapshot's metrics stay a normal cross-day combination;
			// only this method's price computation falls back.
			if e.fallback != nil {
				e.fallback.ObserveWACFallback(req.PositionKey, req.DateBasis, businessDate)
			}
			state = method.Zero()
		} else {
			state = priceengine.FromMethodData(previousPrice.Price, previousPrice.MethodData, previous.NetQuantity)
		}
		for _, t := range todayTrades {
			state = method.ApplyTrade(state, t.SequenceNum, t.SignedQuantity, t.Price)
		}
		states[methodName] = state
	}

	return e.commit(ctx, req, snap, states)
}

// carryForwardPrices handles the no-trades-today branch of cross-day
// incremental: prices are copied verbatim from the prior date rather
// than recomputed.
func (e *Engine) carryForwardPrices(ctx context.Context, req model.PositionCalcRequest, previousDate, businessDate time.Time, snap model.PositionSnapshot) error {
	if err := e.store.SaveSnapshot(ctx, snap, req.DateBasis, req.ChangeReason); err != nil {
		return fmt.Errorf("engine: save carry-forward snapshot: %w", err)
	}

	prices, err := e.store.FindPricesForSnapshot(ctx, req.PositionKey, previousDate, req.DateBasis)
	if err != nil {
		return fmt.Errorf("engine: find prior prices: %w", err)
	}
	for _, p := range prices {
		p.BusinessDate = businessDate
		p.CalculatedAt = snap.CalculatedAt
		if err := e.store.SavePrice(ctx, p, req.DateBasis); err != nil {
			return fmt.Errorf("engine: carry forward price: %w", err)
		}
	}
	return nil
}

func (e *Engine) fullRecalc(ctx context.Context, req model.PositionCalcRequest, businessDate time.Time) error {
	metrics, err := e.aggregateMetrics(ctx, req, businessDate)
	if err != nil {
		return err
	}
	if metrics == nil {
		return nil
	}

	snap := model.PositionSnapshot{
		PositionKey:     req.PositionKey,
		BusinessDate:    businessDate,
		DateBasis:       req.DateBasis,
		NetQuantity:     metrics.NetQuantity,
		GrossLong:       metrics.GrossLong,
		GrossShort:      metrics.GrossShort,
		TradeCount:      metrics.TradeCount,
		TotalNotional:   metrics.TotalNotional,
		LastSequenceNum: metrics.LastSequenceNum,
		LastTradeTime:   metrics.LastTradeTime,
	}
	return e.fullRecalcFromMetrics(ctx, req, businessDate, snap)
}

// fullRecalcFromMetrics folds every requested price method over every
// trade for the date in sequence order, starting from that method's
// zero state.
func (e *Engine) fullRecalcFromMetrics(ctx context.Context, req model.PositionCalcRequest, businessDate time.Time, snap model.PositionSnapshot) error {
	snap.CalculationMethod = model.MethodFullRecalc
	snap.CalculationRequestID = req.RequestID
	snap.CalculatedAt = e.clock.Now()

	if err := e.validate(&snap); err != nil {
		return err
	}

	if len(req.PriceMethods) == 0 {
		return e.commit(ctx, req, snap, nil)
	}

	trades, err := e.fetchTrades(ctx, req, businessDate, 0)
	if err != nil {
		return err
	}

	states := make(map[model.PriceMethod]priceengine.State, len(req.PriceMethods))
	for _, methodName := range req.PriceMethods {
		method, err := priceengine.Lookup(methodName)
		if err != nil {
			return err
		}
		state := method.Zero()
		for _, t := range trades {
			state = method.ApplyTrade(state, t.SequenceNum, t.SignedQuantity, t.Price)
		}
		states[methodName] = state
	}

	return e.commit(ctx, req, snap, states)
}

func (e *Engine) commit(ctx context.Context, req model.PositionCalcRequest, snap model.PositionSnapshot, states map[model.PriceMethod]priceengine.State) error {
	if err := e.store.SaveSnapshot(ctx, snap, req.DateBasis, req.ChangeReason); err != nil {
		return fmt.Errorf("engine: save snapshot: %w", err)
	}
	if e.snapshots != nil {
		e.snapshots.ObserveSnapshot(snap, req.DateBasis)
	}

	for methodName, state := range states {
		price := model.PositionAveragePrice{
			PositionKey:  req.PositionKey,
			BusinessDate: snap.BusinessDate,
			PriceMethod:  methodName,
			DateBasis:    req.DateBasis,
			Price:        state.AvgPrice,
			MethodData:   state.MethodData(),
			CalculatedAt: snap.CalculatedAt,
		}
		if err := e.store.SavePrice(ctx, price, req.DateBasis); err != nil {
			return fmt.Errorf("engine: save price: %w", err)
		}
	}
	return nil
}

func (e *Engine) fetchTrades(ctx context.Context, req model.PositionCalcRequest, businessDate time.Time, afterSeq int64) ([]model.TradeRecord, error) {
	if req.KeyFormat == model.KeyBookCounterpartyInstrument {
		if afterSeq > 0 {
			return e.store.FindTradesAfterSequence(ctx, req.PositionKey, businessDate, req.DateBasis, afterSeq)
		}
		return e.store.FindTradesByPositionKeyAndDate(ctx, req.PositionKey, businessDate, req.DateBasis)
	}

	dims, err := dimensionsFor(req)
	if err != nil {
		return nil, err
	}
	trades, err := e.store.FindTradesByDimensions(ctx, dims, businessDate, req.DateBasis)
	if err != nil {
		return nil, err
	}
	if afterSeq == 0 {
		return trades, nil
	}
	filtered := trades[:0]
	for _, t := range trades {
		if t.SequenceNum > afterSeq {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (e *Engine) aggregateMetrics(ctx context.Context, req model.PositionCalcRequest, businessDate time.Time) (*model.TradeMetrics, error) {
	if req.KeyFormat == model.KeyBookCounterpartyInstrument {
		return e.store.AggregateMetrics(ctx, req.PositionKey, businessDate, req.DateBasis)
	}
	dims, err := dimensionsFor(req)
	if err != nil {
		return nil, err
	}
	return e.store.AggregateMetricsByDimensions(ctx, dims, businessDate, req.DateBasis)
}

func dimensionsFor(req model.PositionCalcRequest) (map[string]string, error) {
	dims, err := keyformat.Parse(req.KeyFormat, req.PositionKey)
	if err != nil {
		return nil, fmt.Errorf("engine: parse position key: %w", err)
	}
	return dims.AsMap(), nil
}

func applyTradeMetrics(snap *model.PositionSnapshot, t model.TradeRecord) {
	snap.NetQuantity += t.SignedQuantity
	if t.SignedQuantity > 0 {
		snap.GrossLong += t.SignedQuantity
	} else {
		snap.GrossShort += -t.SignedQuantity
	}
	snap.TradeCount++
	snap.TotalNotional = snap.TotalNotional.Add(decimal.NewFromInt(t.SignedQuantity).Abs().Mul(t.Price))
	snap.LastSequenceNum = t.SequenceNum
	if t.TradeTime.After(snap.LastTradeTime) {
		snap.LastTradeTime = t.TradeTime
	}
}
