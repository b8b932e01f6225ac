package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/civil"
	"github.com/positionledger/posengine/internal/keyformat"
	"github.com/positionledger/posengine/internal/model"
)

// MemoryStore implements Store with in-memory maps, guarded by a single
// mutex (one lock, no re-entrant calls — the same discipline the
// teacher's memory store uses). Used for the memory-only deployment
// mode and by tests.
type MemoryStore struct {
	mu sync.Mutex

	trades map[int64]model.Trade

	positionKeys   map[string]*model.PositionKey // key: positionKey + "|" + configID
	nextPositionID int64

	snapshots map[model.DateBasis]map[string]*model.PositionSnapshot        // key: positionKey + "|" + businessDate
	history   map[model.DateBasis]map[string][]model.PositionSnapshotHistory
	nextHistoryID int64

	prices map[model.DateBasis]map[string]*model.PositionAveragePrice // key: positionKey + "|" + businessDate + "|" + method

	configs      map[int64]*model.PositionConfig
	nextConfigID int64
}

// NewMemoryStore creates a new in-memory store, seeded with nothing;
// callers wanting the default OFFICIAL config (spec §6) should call
// CreateConfig with configId left zero-valued or seed it explicitly.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:         make(map[int64]model.Trade),
		positionKeys:   make(map[string]*model.PositionKey),
		nextPositionID: 1,
		snapshots: map[model.DateBasis]map[string]*model.PositionSnapshot{
			model.TradeDate:      make(map[string]*model.PositionSnapshot),
			model.SettlementDate: make(map[string]*model.PositionSnapshot),
		},
		history: map[model.DateBasis]map[string][]model.PositionSnapshotHistory{
			model.TradeDate:      make(map[string][]model.PositionSnapshotHistory),
			model.SettlementDate: make(map[string][]model.PositionSnapshotHistory),
		},
		prices: map[model.DateBasis]map[string]*model.PositionAveragePrice{
			model.TradeDate:      make(map[string]*model.PositionAveragePrice),
			model.SettlementDate: make(map[string]*model.PositionAveragePrice),
		},
		configs:      make(map[int64]*model.PositionConfig),
		nextConfigID: 1,
	}
}

// --- Trade ledger ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTradeLocked(t), nil
}

func (s *MemoryStore) insertTradeLocked(t *model.Trade) bool {
	if _, exists := s.trades[t.SequenceNum]; exists {
		return false
	}
	cp := *t
	cp.TradeDate = civil.Date(t.TradeDate)
	cp.SettlementDate = civil.Date(t.SettlementDate)
	s.trades[t.SequenceNum] = cp
	return true
}

func (s *MemoryStore) BatchInsertTrades(_ context.Context, trades []model.Trade) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]model.Trade, 0, len(trades))
	for i := range trades {
		if s.insertTradeLocked(&trades[i]) {
			inserted = append(inserted, trades[i])
		}
	}
	return inserted, nil
}

// --- Position keys ---

func posKeyMapKey(positionKey string, configID int64) string {
	return positionKey + "|" + strconv.FormatInt(configID, 10)
}

func (s *MemoryStore) UpsertPositionKey(_ context.Context, p UpsertPositionKeyParams) (model.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tradeDate := civil.Date(p.TradeDate)
	settlementDate := civil.Date(p.SettlementDate)

	mapKey := posKeyMapKey(p.PositionKey, p.ConfigID)
	existing, ok := s.positionKeys[mapKey]
	if !ok {
		id := s.nextPositionID
		s.nextPositionID++
		s.positionKeys[mapKey] = &model.PositionKey{
			PositionID:         id,
			PositionKey:        p.PositionKey,
			ConfigID:           p.ConfigID,
			ConfigType:         p.ConfigType,
			ConfigName:         p.ConfigName,
			Book:               p.Book,
			Counterparty:       p.Counterparty,
			Instrument:         p.Instrument,
			LastTradeDate:      tradeDate,
			LastSettlementDate: settlementDate,
			CreatedAt:          time.Now().UTC(),
			CreatedBySequence:  p.SequenceNum,
		}
		return model.UpsertResult{PositionID: id}, nil
	}

	priorTrade := existing.LastTradeDate
	priorSettlement := existing.LastSettlementDate
	existing.LastTradeDate = civil.Max(existing.LastTradeDate, tradeDate)
	existing.LastSettlementDate = civil.Max(existing.LastSettlementDate, settlementDate)

	return model.UpsertResult{
		PositionID:              existing.PositionID,
		PriorLastTradeDate:      &priorTrade,
		PriorLastSettlementDate: &priorSettlement,
	}, nil
}

// --- Aggregation ---

func (s *MemoryStore) AggregateMetrics(_ context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) (*model.TradeMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return aggregate(s.matchingTrades(func(t *model.Trade) bool {
		return keyformat.CanonicalBCI(t.Book, t.Counterparty, t.Instrument) == positionKey &&
			civil.Equal(t.BusinessDate(basis), businessDate)
	})), nil
}

func (s *MemoryStore) AggregateMetricsByDimensions(_ context.Context, dims map[string]string, businessDate time.Time, basis model.DateBasis) (*model.TradeMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return aggregate(s.matchingTrades(func(t *model.Trade) bool {
		return matchesDimensions(t, dims) && civil.Equal(t.BusinessDate(basis), businessDate)
	})), nil
}

func (s *MemoryStore) FindTradesAfterSequence(_ context.Context, positionKey string, businessDate time.Time, basis model.DateBasis, afterSeq int64) ([]model.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := s.matchingTrades(func(t *model.Trade) bool {
		return keyformat.CanonicalBCI(t.Book, t.Counterparty, t.Instrument) == positionKey &&
			civil.Equal(t.BusinessDate(basis), businessDate) &&
			t.SequenceNum > afterSeq
	})
	return toRecords(trades), nil
}

func (s *MemoryStore) FindTradesByPositionKeyAndDate(_ context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := s.matchingTrades(func(t *model.Trade) bool {
		return keyformat.CanonicalBCI(t.Book, t.Counterparty, t.Instrument) == positionKey &&
			civil.Equal(t.BusinessDate(basis), businessDate)
	})
	return toRecords(trades), nil
}

func (s *MemoryStore) FindTradesByDimensions(_ context.Context, dims map[string]string, businessDate time.Time, basis model.DateBasis) ([]model.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := s.matchingTrades(func(t *model.Trade) bool {
		return matchesDimensions(t, dims) && civil.Equal(t.BusinessDate(basis), businessDate)
	})
	return toRecords(trades), nil
}

// matchingTrades returns a sequence-ascending slice of trades passing
// pred. Must be called with s.mu held.
func (s *MemoryStore) matchingTrades(pred func(*model.Trade) bool) []model.Trade {
	var out []model.Trade
	for _, t := range s.trades {
		t := t
		if pred(&t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNum < out[j].SequenceNum })
	return out
}

func matchesDimensions(t *model.Trade, dims map[string]string) bool {
	for k, v := range dims {
		var got string
		switch k {
		case "book":
			got = t.Book
		case "counterparty":
			got = t.Counterparty
		case "instrument":
			got = t.Instrument
		}
		if got != v {
			return false
		}
	}
	return true
}

func aggregate(trades []model.Trade) *model.TradeMetrics {
	if len(trades) == 0 {
		return nil
	}
	m := &model.TradeMetrics{TotalNotional: decimal.Zero}
	for _, t := range trades {
		m.NetQuantity += t.SignedQuantity
		if t.SignedQuantity > 0 {
			m.GrossLong += t.SignedQuantity
		} else {
			m.GrossShort += -t.SignedQuantity
		}
		m.TradeCount++
		m.TotalNotional = m.TotalNotional.Add(t.AbsQuantity().Mul(t.Price))
		if t.SequenceNum > m.LastSequenceNum {
			m.LastSequenceNum = t.SequenceNum
			m.LastTradeTime = t.TradeTime
		}
	}
	return m
}

func toRecords(trades []model.Trade) []model.TradeRecord {
	recs := make([]model.TradeRecord, len(trades))
	for i, t := range trades {
		recs[i] = model.TradeRecord{
			SequenceNum:    t.SequenceNum,
			SignedQuantity: t.SignedQuantity,
			Price:          t.Price,
			TradeTime:      t.TradeTime,
		}
	}
	return recs
}

// --- Snapshots, prices, history ---

func snapMapKey(positionKey string, businessDate time.Time) string {
	return positionKey + "|" + civil.Date(businessDate).Format("2006-01-02")
}

func priceMapKey(positionKey string, businessDate time.Time, method model.PriceMethod) string {
	return snapMapKey(positionKey, businessDate) + "|" + string(method)
}

func (s *MemoryStore) FindSnapshot(_ context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) (*model.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[basis][snapMapKey(positionKey, businessDate)]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) FindSnapshotsForPosition(_ context.Context, positionKey string, basis model.DateBasis, from, to *time.Time) ([]model.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.PositionSnapshot
	for _, snap := range s.snapshots[basis] {
		if snap.PositionKey != positionKey {
			continue
		}
		if from != nil && civil.Before(snap.BusinessDate, *from) {
			continue
		}
		if to != nil && civil.After(snap.BusinessDate, *to) {
			continue
		}
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessDate.Before(out[j].BusinessDate) })
	return out, nil
}

func (s *MemoryStore) FindSnapshotHistory(_ context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.PositionSnapshotHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.history[basis][snapMapKey(positionKey, businessDate)]
	out := make([]model.PositionSnapshotHistory, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].CalculationVersion < out[j].CalculationVersion })
	return out, nil
}

func (s *MemoryStore) FindPrice(_ context.Context, positionKey string, businessDate time.Time, method model.PriceMethod, basis model.DateBasis) (*model.PositionAveragePrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prices[basis][priceMapKey(positionKey, businessDate, method)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) FindPricesForSnapshot(_ context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.PositionAveragePrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := snapMapKey(positionKey, businessDate) + "|"
	var out []model.PositionAveragePrice
	for k, p := range s.prices[basis] {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap model.PositionSnapshot, basis model.DateBasis, reason model.ChangeReason) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap.BusinessDate = civil.Date(snap.BusinessDate)
	key := snapMapKey(snap.PositionKey, snap.BusinessDate)

	existing, ok := s.snapshots[basis][key]
	var previousNetQuantity *int64
	if ok {
		// Supersede the current history row.
		rows := s.history[basis][key]
		for i := range rows {
			if rows[i].SupersededAt == nil {
				t := snap.CalculatedAt
				rows[i].SupersededAt = &t
			}
		}
		s.history[basis][key] = rows

		pnq := existing.NetQuantity
		previousNetQuantity = &pnq
		snap.CalculationVersion = existing.CalculationVersion + 1
	} else {
		snap.CalculationVersion = 1
	}

	cp := snap
	s.snapshots[basis][key] = &cp

	s.nextHistoryID++
	s.history[basis][key] = append(s.history[basis][key], model.PositionSnapshotHistory{
		HistoryID:            s.nextHistoryID,
		PositionKey:          snap.PositionKey,
		BusinessDate:         snap.BusinessDate,
		CalculationVersion:   snap.CalculationVersion,
		NetQuantity:          snap.NetQuantity,
		GrossLong:            snap.GrossLong,
		GrossShort:           snap.GrossShort,
		TradeCount:           snap.TradeCount,
		TotalNotional:        snap.TotalNotional,
		CalculatedAt:         snap.CalculatedAt,
		SupersededAt:         nil,
		ChangeReason:         reason,
		PreviousNetQuantity:  previousNetQuantity,
		CalculationRequestID: snap.CalculationRequestID,
		LastSequenceNum:      snap.LastSequenceNum,
		LastTradeTime:        snap.LastTradeTime,
		CalculationMethod:    snap.CalculationMethod,
	})

	return nil
}

func (s *MemoryStore) SavePrice(_ context.Context, price model.PositionAveragePrice, basis model.DateBasis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	price.BusinessDate = civil.Date(price.BusinessDate)
	key := priceMapKey(price.PositionKey, price.BusinessDate, price.PriceMethod)

	if existing, ok := s.prices[basis][key]; ok {
		price.CalculationVersion = existing.CalculationVersion + 1
	} else {
		price.CalculationVersion = 1
	}

	cp := price
	s.prices[basis][key] = &cp
	return nil
}

// --- Configuration CRUD ---

func (s *MemoryStore) FindAllConfigs(_ context.Context) ([]model.PositionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.PositionConfig, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigID < out[j].ConfigID })
	return out, nil
}

func (s *MemoryStore) FindActiveConfigs(ctx context.Context) ([]model.PositionConfig, error) {
	all, err := s.FindAllConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var active []model.PositionConfig
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	return active, nil
}

func (s *MemoryStore) FindConfigByID(_ context.Context, id int64) (*model.PositionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CreateConfig(_ context.Context, c *model.PositionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.configs {
		if existing.Type == c.Type && existing.KeyFormat == c.KeyFormat && sameScope(existing.Scope, c.Scope) {
			return ErrConstraintViolation
		}
	}

	if c.ConfigID == 0 {
		c.ConfigID = s.nextConfigID
	}
	if c.ConfigID >= s.nextConfigID {
		s.nextConfigID = c.ConfigID + 1
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	cp := *c
	s.configs[c.ConfigID] = &cp
	return nil
}

func (s *MemoryStore) UpdateConfig(_ context.Context, c *model.PositionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.configs[c.ConfigID]
	if !ok {
		return ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	cp := *c
	s.configs[c.ConfigID] = &cp
	return nil
}

func (s *MemoryStore) DeactivateConfig(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.configs[id]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func sameScope(a, b model.Scope) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type != "CRITERIA" {
		return true
	}
	if len(a.Criteria) != len(b.Criteria) {
		return false
	}
	for k, v := range a.Criteria {
		if b.Criteria[k] != v {
			return false
		}
	}
	return true
}
