// Package ingest implements the Ingestion Coordinator of spec §4.4: it
// consumes trade batches, persists trades idempotently, upserts
// position-key rows, deduplicates the resulting calc requests, and
// publishes them onto the calc-request log for the Calculation Engine.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/positionledger/posengine/internal/civil"
	"github.com/positionledger/posengine/internal/configcache"
	"github.com/positionledger/posengine/internal/keyformat"
	"github.com/positionledger/posengine/internal/model"
	"github.com/positionledger/posengine/internal/store"
)

// Publisher is the calc-request log's write side, satisfied by
// calclog.Log.
type Publisher interface {
	Publish(ctx context.Context, req model.PositionCalcRequest) error
}

// Coordinator is the Ingestion Coordinator. Not safe for concurrent
// IngestBatch calls against overlapping trade batches from the same
// caller — the caller (e.g. one consumer per external log partition)
// owns sequencing; concurrent calls for disjoint batches are fine
// since all shared state lives in store and configs.
type Coordinator struct {
	store     store.Store
	configs   *configcache.Cache
	publisher Publisher
}

// New creates an Ingestion Coordinator.
func New(st store.Store, configs *configcache.Cache, publisher Publisher) *Coordinator {
	return &Coordinator{store: st, configs: configs, publisher: publisher}
}

// Result summarizes one IngestBatch call.
type Result struct {
	Received      int
	Inserted      int
	Duplicates    int
	CalcRequests  int
	InvalidTrades int
}

// IngestBatch runs the full §4.4 algorithm over one batch of trades.
func (c *Coordinator) IngestBatch(ctx context.Context, trades []model.Trade) (Result, error) {
	result := Result{Received: len(trades)}

	valid := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if err := t.Validate(); err != nil {
			result.InvalidTrades++
			slog.Warn("dropping invalid trade", "sequence_num", t.SequenceNum, "err", err)
			continue
		}
		valid = append(valid, t)
	}

	inserted, err := c.store.BatchInsertTrades(ctx, valid)
	if err != nil {
		return result, err
	}
	result.Inserted = len(inserted)
	result.Duplicates = len(valid) - len(inserted)

	configs, err := c.configs.Active(ctx)
	if err != nil {
		return result, err
	}

	intents := make(map[model.IntentKey]*model.CalcIntent)

	for i := range inserted {
		trade := &inserted[i]
		for ci := range configs {
			config := &configs[ci]
			if !config.Scope.Matches(trade) {
				continue
			}
			if err := c.processTradeForConfig(ctx, trade, config, intents); err != nil {
				return result, err
			}
		}
	}

	for _, intent := range intents {
		req := model.PositionCalcRequest{
			RequestID:               uuid.New().String(),
			PositionID:              intent.PositionID,
			PositionKey:             intent.PositionKey,
			DateBasis:               intent.DateBasis,
			BusinessDate:            intent.BusinessDate,
			PriceMethods:            intent.Config.PriceMethods,
			TriggeringTradeSequence: intent.SequenceNum,
			ChangeReason:            intent.ChangeReason,
			KeyFormat:               intent.Config.KeyFormat,
		}
		if err := c.publisher.Publish(ctx, req); err != nil {
			return result, err
		}
		result.CalcRequests++
	}

	slog.Info("ingest batch complete",
		"received", result.Received,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"invalid", result.InvalidTrades,
		"calc_requests", result.CalcRequests,
	)

	return result, nil
}

func (c *Coordinator) processTradeForConfig(ctx context.Context, trade *model.Trade, config *model.PositionConfig, intents map[model.IntentKey]*model.CalcIntent) error {
	positionKey, dims, err := keyformat.Generate(config.KeyFormat, trade.Book, trade.Counterparty, trade.Instrument)
	if err != nil {
		return err
	}

	upsert, err := c.store.UpsertPositionKey(ctx, store.UpsertPositionKeyParams{
		PositionKey:    positionKey,
		ConfigID:       config.ConfigID,
		ConfigType:     config.Type,
		ConfigName:     config.Name,
		Book:           dims.Book,
		Counterparty:   dims.Counterparty,
		Instrument:     dims.Instrument,
		TradeDate:      trade.TradeDate,
		SettlementDate: trade.SettlementDate,
		SequenceNum:    trade.SequenceNum,
	})
	if err != nil {
		return err
	}

	for _, basis := range []model.DateBasis{model.TradeDate, model.SettlementDate} {
		tDate := trade.BusinessDate(basis)
		var lastDate *time.Time
		if basis == model.SettlementDate {
			lastDate = upsert.PriorLastSettlementDate
		} else {
			lastDate = upsert.PriorLastTradeDate
		}

		for _, pair := range cascadeList(tDate, lastDate) {
			key := model.IntentKey{PositionKey: positionKey, DateBasis: basis, BusinessDate: pair.businessDate}
			if existing, ok := intents[key]; ok {
				existing.Merge(trade.SequenceNum, pair.reason)
				continue
			}
			intents[key] = &model.CalcIntent{
				PositionID:   upsert.PositionID,
				PositionKey:  positionKey,
				DateBasis:    basis,
				BusinessDate: pair.businessDate,
				SequenceNum:  trade.SequenceNum,
				ChangeReason: pair.reason,
				Config:       config,
			}
		}
	}

	return nil
}

type cascadeEntry struct {
	businessDate time.Time
	reason       model.ChangeReason
}

// cascadeList builds the per-basis cascade of (businessDate,
// changeReason) pairs a trade produces, per spec §4.4: a trade whose
// date falls before the position's previously-seen date is a late
// trade whose cascade spans every day in between, forcing every
// snapshot in that range to recalculate from updated prior-day state.
func cascadeList(tDate time.Time, lastDate *time.Time) []cascadeEntry {
	if lastDate != nil && civil.Before(tDate, *lastDate) {
		days := civil.Range(tDate, *lastDate)
		entries := make([]cascadeEntry, len(days))
		for i, d := range days {
			entries[i] = cascadeEntry{businessDate: d, reason: model.ReasonLateTrade}
		}
		return entries
	}
	return []cascadeEntry{{businessDate: civil.Date(tDate), reason: model.ReasonInitial}}
}
