package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/positionledger/posengine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache over the current snapshot and its price for a
// coordinate, and over the active config set. Every write goes to the
// primary and invalidates the affected cache entries; every other
// operation passes through untouched.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) (bool, error) {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) BatchInsertTrades(ctx context.Context, trades []model.Trade) ([]model.Trade, error) {
	return s.primary.BatchInsertTrades(ctx, trades)
}

func (s *CachedStore) UpsertPositionKey(ctx context.Context, p UpsertPositionKeyParams) (model.UpsertResult, error) {
	return s.primary.UpsertPositionKey(ctx, p)
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap model.PositionSnapshot, basis model.DateBasis, reason model.ChangeReason) error {
	if err := s.primary.SaveSnapshot(ctx, snap, basis, reason); err != nil {
		return err
	}
	s.rdb.Del(ctx, snapshotKey(snap.PositionKey, snap.BusinessDate, basis))
	return nil
}

func (s *CachedStore) SavePrice(ctx context.Context, price model.PositionAveragePrice, basis model.DateBasis) error {
	if err := s.primary.SavePrice(ctx, price, basis); err != nil {
		return err
	}
	s.rdb.Del(ctx, priceKey(price.PositionKey, price.BusinessDate, price.PriceMethod, basis))
	return nil
}

func (s *CachedStore) CreateConfig(ctx context.Context, c *model.PositionConfig) error {
	if err := s.primary.CreateConfig(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, activeConfigsKey)
	return nil
}

func (s *CachedStore) UpdateConfig(ctx context.Context, c *model.PositionConfig) error {
	if err := s.primary.UpdateConfig(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, activeConfigsKey)
	return nil
}

func (s *CachedStore) DeactivateConfig(ctx context.Context, id int64) error {
	if err := s.primary.DeactivateConfig(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, activeConfigsKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) FindSnapshot(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) (*model.PositionSnapshot, error) {
	key := snapshotKey(positionKey, businessDate, basis)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var snap model.PositionSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.FindSnapshot(ctx, positionKey, businessDate, basis)
	if err != nil || snap == nil {
		return snap, err
	}

	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return snap, nil
}

func (s *CachedStore) FindPrice(ctx context.Context, positionKey string, businessDate time.Time, method model.PriceMethod, basis model.DateBasis) (*model.PositionAveragePrice, error) {
	key := priceKey(positionKey, businessDate, method, basis)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p model.PositionAveragePrice
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.FindPrice(ctx, positionKey, businessDate, method, basis)
	if err != nil || p == nil {
		return p, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) FindActiveConfigs(ctx context.Context) ([]model.PositionConfig, error) {
	data, err := s.rdb.Get(ctx, activeConfigsKey).Bytes()
	if err == nil {
		var configs []model.PositionConfig
		if json.Unmarshal(data, &configs) == nil {
			return configs, nil
		}
	}

	configs, err := s.primary.FindActiveConfigs(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(configs); err == nil {
		s.rdb.Set(ctx, activeConfigsKey, data, s.ttl)
	}
	return configs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) AggregateMetrics(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) (*model.TradeMetrics, error) {
	return s.primary.AggregateMetrics(ctx, positionKey, businessDate, basis)
}

func (s *CachedStore) FindTradesAfterSequence(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis, afterSeq int64) ([]model.TradeRecord, error) {
	return s.primary.FindTradesAfterSequence(ctx, positionKey, businessDate, basis, afterSeq)
}

func (s *CachedStore) FindTradesByPositionKeyAndDate(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.TradeRecord, error) {
	return s.primary.FindTradesByPositionKeyAndDate(ctx, positionKey, businessDate, basis)
}

func (s *CachedStore) AggregateMetricsByDimensions(ctx context.Context, dims map[string]string, businessDate time.Time, basis model.DateBasis) (*model.TradeMetrics, error) {
	return s.primary.AggregateMetricsByDimensions(ctx, dims, businessDate, basis)
}

func (s *CachedStore) FindTradesByDimensions(ctx context.Context, dims map[string]string, businessDate time.Time, basis model.DateBasis) ([]model.TradeRecord, error) {
	return s.primary.FindTradesByDimensions(ctx, dims, businessDate, basis)
}

func (s *CachedStore) FindSnapshotsForPosition(ctx context.Context, positionKey string, basis model.DateBasis, from, to *time.Time) ([]model.PositionSnapshot, error) {
	return s.primary.FindSnapshotsForPosition(ctx, positionKey, basis, from, to)
}

func (s *CachedStore) FindSnapshotHistory(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.PositionSnapshotHistory, error) {
	return s.primary.FindSnapshotHistory(ctx, positionKey, businessDate, basis)
}

func (s *CachedStore) FindPricesForSnapshot(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.PositionAveragePrice, error) {
	return s.primary.FindPricesForSnapshot(ctx, positionKey, businessDate, basis)
}

func (s *CachedStore) FindAllConfigs(ctx context.Context) ([]model.PositionConfig, error) {
	return s.primary.FindAllConfigs(ctx)
}

func (s *CachedStore) FindConfigByID(ctx context.Context, id int64) (*model.PositionConfig, error) {
	return s.primary.FindConfigByID(ctx, id)
}

// --- Cache keys ---

const activeConfigsKey = "posengine:configs:active"

func snapshotKey(positionKey string, businessDate time.Time, basis model.DateBasis) string {
	return fmt.Sprintf("posengine:snapshot:%s:%s:%s", basis, businessDate.UTC().Format("2006-01-02"), positionKey)
}

func priceKey(positionKey string, businessDate time.Time, method model.PriceMethod, basis model.DateBasis) string {
	return fmt.Sprintf("posengine:price:%s:%s:%s:%s", basis, businessDate.UTC().Format("2006-01-02"), method, positionKey)
}
