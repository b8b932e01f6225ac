// Package store defines the persistence interface for the position
// engine and its implementations: PostgreSQL (source of truth), an
// in-memory store (used for the memory-only deployment mode and by
// tests), and a Redis read-through cache wrapper. Every operation is a
// pure function of the store state plus its inputs, and every write is
// transactional and atomic (commits or leaves the store unchanged),
// per spec §4.2.
package store

import (
	"context"
	"time"

	"github.com/positionledger/posengine/internal/model"
)

// UpsertPositionKeyParams is the input to Store.UpsertPositionKey.
type UpsertPositionKeyParams struct {
	PositionKey    string
	ConfigID       int64
	ConfigType     model.ConfigType
	ConfigName     string
	Book           *string
	Counterparty   *string
	Instrument     *string
	TradeDate      time.Time
	SettlementDate time.Time
	SequenceNum    int64
}

// Store is the persistence interface over the six logical tables of
// spec §6 (twelve physical, since snapshots/prices/history are
// duplicated per DateBasis).
type Store interface {
	// --- Immutable trade ledger ---

	// InsertTrade persists a single trade. Returns false, nil if a row
	// with that SequenceNum already exists (idempotent no-op, not an
	// error). Fails only on store unavailability (retryable).
	InsertTrade(ctx context.Context, t *model.Trade) (bool, error)

	// BatchInsertTrades inserts a batch in a single transaction and
	// returns the subset actually inserted, in the same relative order.
	// Trades with a pre-existing SequenceNum are silently skipped.
	BatchInsertTrades(ctx context.Context, trades []model.Trade) ([]model.Trade, error)

	// --- Position keys ---

	// UpsertPositionKey inserts the row if absent (returning nil prior
	// dates), or atomically advances LastTradeDate/LastSettlementDate to
	// max(current, candidate) and returns the values from *before* the
	// update.
	UpsertPositionKey(ctx context.Context, p UpsertPositionKeyParams) (model.UpsertResult, error)

	// --- Trade aggregation (BCI key formats) ---

	AggregateMetrics(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) (*model.TradeMetrics, error)
	FindTradesAfterSequence(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis, afterSeq int64) ([]model.TradeRecord, error)
	FindTradesByPositionKeyAndDate(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.TradeRecord, error)

	// --- Trade aggregation (non-BCI key formats, by dimension) ---

	AggregateMetricsByDimensions(ctx context.Context, dims map[string]string, businessDate time.Time, basis model.DateBasis) (*model.TradeMetrics, error)
	FindTradesByDimensions(ctx context.Context, dims map[string]string, businessDate time.Time, basis model.DateBasis) ([]model.TradeRecord, error)

	// --- Snapshots, prices, history ---

	FindSnapshot(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) (*model.PositionSnapshot, error)
	FindSnapshotsForPosition(ctx context.Context, positionKey string, basis model.DateBasis, from, to *time.Time) ([]model.PositionSnapshot, error)
	FindSnapshotHistory(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.PositionSnapshotHistory, error)

	FindPrice(ctx context.Context, positionKey string, businessDate time.Time, method model.PriceMethod, basis model.DateBasis) (*model.PositionAveragePrice, error)
	FindPricesForSnapshot(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.PositionAveragePrice, error)

	// SaveSnapshot upserts the current snapshot row and appends a
	// history row in one transaction, per the algorithm of spec §4.2:
	// on overwrite, the prior current history row is superseded and a
	// new one is appended with CalculationVersion = prior + 1.
	SaveSnapshot(ctx context.Context, snap model.PositionSnapshot, basis model.DateBasis, reason model.ChangeReason) error

	// SavePrice upserts the average price row for a coordinate. No
	// price history is kept.
	SavePrice(ctx context.Context, price model.PositionAveragePrice, basis model.DateBasis) error

	// --- Configuration CRUD (external collaborator interface) ---

	FindAllConfigs(ctx context.Context) ([]model.PositionConfig, error)
	FindActiveConfigs(ctx context.Context) ([]model.PositionConfig, error)
	FindConfigByID(ctx context.Context, id int64) (*model.PositionConfig, error)
	CreateConfig(ctx context.Context, c *model.PositionConfig) error
	UpdateConfig(ctx context.Context, c *model.PositionConfig) error
	DeactivateConfig(ctx context.Context, id int64) error
}
