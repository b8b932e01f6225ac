package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/civil"
	"github.com/positionledger/posengine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal
// precision; snapshots/prices/history are duplicated across two table
// families, one per DateBasis, per spec §6.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// tableNames returns the physical table names for the snapshot,
// history, and price tables of the given date basis.
func tableNames(basis model.DateBasis) (snapshots, history, prices string) {
	if basis == model.SettlementDate {
		return "position_snapshots_settled", "position_snapshots_settled_history", "position_average_prices_settled"
	}
	return "position_snapshots", "position_snapshots_history", "position_average_prices"
}

func wrapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514", "23502": // unique_violation, check_violation, not_null_violation
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.Message)
		}
	}
	return Transient(err)
}

// --- Trade ledger ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO position_trades
		   (sequence_num, position_key, book, counterparty, instrument, trade_time,
		    trade_date, settlement_date, signed_quantity, price, source, source_id, processed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		 ON CONFLICT (sequence_num) DO NOTHING`,
		t.SequenceNum, canonicalKey(t), t.Book, t.Counterparty, t.Instrument, t.TradeTime,
		civil.Date(t.TradeDate), civil.Date(t.SettlementDate), t.SignedQuantity, t.Price.String(),
		t.Source, t.SourceID,
	)
	if err != nil {
		return false, wrapPgErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) BatchInsertTrades(ctx context.Context, trades []model.Trade) ([]model.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer tx.Rollback(ctx)

	inserted := make([]model.Trade, 0, len(trades))
	for i := range trades {
		t := &trades[i]
		tag, err := tx.Exec(ctx,
			`INSERT INTO position_trades
			   (sequence_num, position_key, book, counterparty, instrument, trade_time,
			    trade_date, settlement_date, signed_quantity, price, source, source_id, processed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
			 ON CONFLICT (sequence_num) DO NOTHING`,
			t.SequenceNum, canonicalKey(t), t.Book, t.Counterparty, t.Instrument, t.TradeTime,
			civil.Date(t.TradeDate), civil.Date(t.SettlementDate), t.SignedQuantity, t.Price.String(),
			t.Source, t.SourceID,
		)
		if err != nil {
			return nil, wrapPgErr(err)
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, *t)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapPgErr(err)
	}
	return inserted, nil
}

func canonicalKey(t *model.Trade) string {
	return t.Book + "#" + t.Counterparty + "#" + t.Instrument
}

// --- Position keys ---

func (s *PostgresStore) UpsertPositionKey(ctx context.Context, p UpsertPositionKeyParams) (model.UpsertResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.UpsertResult{}, wrapPgErr(err)
	}
	defer tx.Rollback(ctx)

	tradeDate := civil.Date(p.TradeDate)
	settlementDate := civil.Date(p.SettlementDate)

	var positionID int64
	var priorTrade, priorSettlement time.Time
	err = tx.QueryRow(ctx,
		`SELECT position_id, last_trade_date, last_settlement_date
		 FROM position_keys WHERE position_key = $1 AND config_id = $2 FOR UPDATE`,
		p.PositionKey, p.ConfigID,
	).Scan(&positionID, &priorTrade, &priorSettlement)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx,
			`INSERT INTO position_keys
			   (position_key, config_id, config_type, config_name, book, counterparty, instrument,
			    last_trade_date, last_settlement_date, created_at, created_by_sequence)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),$10)
			 RETURNING position_id`,
			p.PositionKey, p.ConfigID, string(p.ConfigType), p.ConfigName,
			p.Book, p.Counterparty, p.Instrument, tradeDate, settlementDate, p.SequenceNum,
		).Scan(&positionID)
		if err != nil {
			return model.UpsertResult{}, wrapPgErr(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return model.UpsertResult{}, wrapPgErr(err)
		}
		return model.UpsertResult{PositionID: positionID}, nil

	case err != nil:
		return model.UpsertResult{}, wrapPgErr(err)
	}

	newTrade := civil.Max(priorTrade, tradeDate)
	newSettlement := civil.Max(priorSettlement, settlementDate)

	if _, err := tx.Exec(ctx,
		`UPDATE position_keys SET last_trade_date = $1, last_settlement_date = $2 WHERE position_id = $3`,
		newTrade, newSettlement, positionID,
	); err != nil {
		return model.UpsertResult{}, wrapPgErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.UpsertResult{}, wrapPgErr(err)
	}

	return model.UpsertResult{
		PositionID:              positionID,
		PriorLastTradeDate:      &priorTrade,
		PriorLastSettlementDate: &priorSettlement,
	}, nil
}

// --- Aggregation ---

func (s *PostgresStore) AggregateMetrics(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) (*model.TradeMetrics, error) {
	dateCol := "trade_date"
	if basis == model.SettlementDate {
		dateCol = "settlement_date"
	}
	return s.aggregate(ctx, "position_key = $1 AND "+dateCol+" = $2", positionKey, civil.Date(businessDate))
}

func (s *PostgresStore) AggregateMetricsByDimensions(ctx context.Context, dims map[string]string, businessDate time.Time, basis model.DateBasis) (*model.TradeMetrics, error) {
	dateCol := "trade_date"
	if basis == model.SettlementDate {
		dateCol = "settlement_date"
	}
	where, args := dimensionsWhere(dims, dateCol, civil.Date(businessDate))
	return s.aggregate(ctx, where, args...)
}

func (s *PostgresStore) aggregate(ctx context.Context, where string, args ...interface{}) (*model.TradeMetrics, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(signed_quantity), 0),
			COALESCE(SUM(CASE WHEN signed_quantity > 0 THEN signed_quantity ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN signed_quantity < 0 THEN -signed_quantity ELSE 0 END), 0),
			COUNT(*),
			COALESCE(SUM(ABS(signed_quantity) * price), 0)::TEXT,
			COALESCE(MAX(sequence_num), 0),
			COALESCE(MAX(trade_time), 'epoch'::timestamptz)
		FROM position_trades WHERE `+where, args...)

	var m model.TradeMetrics
	var notional string
	if err := row.Scan(&m.NetQuantity, &m.GrossLong, &m.GrossShort, &m.TradeCount, &notional, &m.LastSequenceNum, &m.LastTradeTime); err != nil {
		return nil, wrapPgErr(err)
	}
	if m.TradeCount == 0 {
		return nil, nil
	}
	m.TotalNotional, _ = decimal.NewFromString(notional)
	return &m, nil
}

func dimensionsWhere(dims map[string]string, dateCol string, businessDate time.Time) (string, []interface{}) {
	where := dateCol + " = $1"
	args := []interface{}{businessDate}
	for _, col := range []string{"book", "counterparty", "instrument"} {
		if v, ok := dims[col]; ok {
			args = append(args, v)
			where += fmt.Sprintf(" AND %s = $%d", col, len(args))
		}
	}
	return where, args
}

func (s *PostgresStore) FindTradesAfterSequence(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis, afterSeq int64) ([]model.TradeRecord, error) {
	dateCol := "trade_date"
	if basis == model.SettlementDate {
		dateCol = "settlement_date"
	}
	return s.tradeRecords(ctx,
		"position_key = $1 AND "+dateCol+" = $2 AND sequence_num > $3 ORDER BY sequence_num",
		positionKey, civil.Date(businessDate), afterSeq)
}

func (s *PostgresStore) FindTradesByPositionKeyAndDate(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.TradeRecord, error) {
	dateCol := "trade_date"
	if basis == model.SettlementDate {
		dateCol = "settlement_date"
	}
	return s.tradeRecords(ctx,
		"position_key = $1 AND "+dateCol+" = $2 ORDER BY sequence_num",
		positionKey, civil.Date(businessDate))
}

func (s *PostgresStore) FindTradesByDimensions(ctx context.Context, dims map[string]string, businessDate time.Time, basis model.DateBasis) ([]model.TradeRecord, error) {
	dateCol := "trade_date"
	if basis == model.SettlementDate {
		dateCol = "settlement_date"
	}
	where, args := dimensionsWhere(dims, dateCol, civil.Date(businessDate))
	return s.tradeRecords(ctx, where+" ORDER BY sequence_num", args...)
}

func (s *PostgresStore) tradeRecords(ctx context.Context, where string, args ...interface{}) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sequence_num, signed_quantity, price::TEXT, trade_time FROM position_trades WHERE `+where, args...)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var r model.TradeRecord
		var priceStr string
		if err := rows.Scan(&r.SequenceNum, &r.SignedQuantity, &priceStr, &r.TradeTime); err != nil {
			return nil, wrapPgErr(err)
		}
		r.Price, _ = decimal.NewFromString(priceStr)
		out = append(out, r)
	}
	return out, wrapPgErr(rows.Err())
}

// --- Snapshots, prices, history ---

func (s *PostgresStore) FindSnapshot(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) (*model.PositionSnapshot, error) {
	snapTable, _, _ := tableNames(basis)
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT position_key, business_date, net_quantity, gross_long, gross_short, trade_count,
		       total_notional::TEXT, calculation_version, calculated_at, calculation_method,
		       calculation_request_id, last_sequence_num, last_trade_time
		FROM %s WHERE position_key = $1 AND business_date = $2`, snapTable),
		positionKey, civil.Date(businessDate))

	snap, err := scanSnapshot(row, basis)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return snap, err
}

func scanSnapshot(row pgx.Row, basis model.DateBasis) (*model.PositionSnapshot, error) {
	var snap model.PositionSnapshot
	var notional string
	var method string
	if err := row.Scan(&snap.PositionKey, &snap.BusinessDate, &snap.NetQuantity, &snap.GrossLong, &snap.GrossShort,
		&snap.TradeCount, &notional, &snap.CalculationVersion, &snap.CalculatedAt, &method,
		&snap.CalculationRequestID, &snap.LastSequenceNum, &snap.LastTradeTime); err != nil {
		return nil, wrapPgErr(err)
	}
	snap.DateBasis = basis
	snap.CalculationMethod = model.CalculationMethod(method)
	snap.TotalNotional, _ = decimal.NewFromString(notional)
	return &snap, nil
}

func (s *PostgresStore) FindSnapshotsForPosition(ctx context.Context, positionKey string, basis model.DateBasis, from, to *time.Time) ([]model.PositionSnapshot, error) {
	snapTable, _, _ := tableNames(basis)
	where := "position_key = $1"
	args := []interface{}{positionKey}
	if from != nil {
		args = append(args, civil.Date(*from))
		where += fmt.Sprintf(" AND business_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, civil.Date(*to))
		where += fmt.Sprintf(" AND business_date <= $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT position_key, business_date, net_quantity, gross_long, gross_short, trade_count,
		       total_notional::TEXT, calculation_version, calculated_at, calculation_method,
		       calculation_request_id, last_sequence_num, last_trade_time
		FROM %s WHERE %s ORDER BY business_date`, snapTable, where), args...)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []model.PositionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows, basis)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, wrapPgErr(rows.Err())
}

func (s *PostgresStore) FindSnapshotHistory(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.PositionSnapshotHistory, error) {
	_, historyTable, _ := tableNames(basis)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT history_id, position_key, business_date, calculation_version, net_quantity,
		       gross_long, gross_short, trade_count, total_notional::TEXT, calculated_at,
		       superseded_at, change_reason, previous_net_quantity, calculation_request_id,
		       last_sequence_num, last_trade_time, calculation_method
		FROM %s WHERE position_key = $1 AND business_date = $2 ORDER BY calculation_version`, historyTable),
		positionKey, civil.Date(businessDate))
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []model.PositionSnapshotHistory
	for rows.Next() {
		var h model.PositionSnapshotHistory
		var notional, reason, method string
		if err := rows.Scan(&h.HistoryID, &h.PositionKey, &h.BusinessDate, &h.CalculationVersion,
			&h.NetQuantity, &h.GrossLong, &h.GrossShort, &h.TradeCount, &notional, &h.CalculatedAt,
			&h.SupersededAt, &reason, &h.PreviousNetQuantity, &h.CalculationRequestID,
			&h.LastSequenceNum, &h.LastTradeTime, &method); err != nil {
			return nil, wrapPgErr(err)
		}
		h.TotalNotional, _ = decimal.NewFromString(notional)
		h.ChangeReason = model.ChangeReason(reason)
		h.CalculationMethod = model.CalculationMethod(method)
		out = append(out, h)
	}
	return out, wrapPgErr(rows.Err())
}

func (s *PostgresStore) FindPrice(ctx context.Context, positionKey string, businessDate time.Time, method model.PriceMethod, basis model.DateBasis) (*model.PositionAveragePrice, error) {
	_, _, priceTable := tableNames(basis)
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT position_key, business_date, price_method, price::TEXT, method_data,
		       calculation_version, calculated_at
		FROM %s WHERE position_key = $1 AND business_date = $2 AND price_method = $3`, priceTable),
		positionKey, civil.Date(businessDate), string(method))

	p, err := scanPrice(row, basis)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func scanPrice(row pgx.Row, basis model.DateBasis) (*model.PositionAveragePrice, error) {
	var p model.PositionAveragePrice
	var priceStr, method string
	var methodData []byte
	if err := row.Scan(&p.PositionKey, &p.BusinessDate, &method, &priceStr, &methodData,
		&p.CalculationVersion, &p.CalculatedAt); err != nil {
		return nil, wrapPgErr(err)
	}
	p.DateBasis = basis
	p.PriceMethod = model.PriceMethod(method)
	p.Price, _ = decimal.NewFromString(priceStr)
	if err := unmarshalMethodData(methodData, &p.MethodData); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) FindPricesForSnapshot(ctx context.Context, positionKey string, businessDate time.Time, basis model.DateBasis) ([]model.PositionAveragePrice, error) {
	_, _, priceTable := tableNames(basis)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT position_key, business_date, price_method, price::TEXT, method_data,
		       calculation_version, calculated_at
		FROM %s WHERE position_key = $1 AND business_date = $2`, priceTable),
		positionKey, civil.Date(businessDate))
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []model.PositionAveragePrice
	for rows.Next() {
		p, err := scanPrice(rows, basis)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, wrapPgErr(rows.Err())
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap model.PositionSnapshot, basis model.DateBasis, reason model.ChangeReason) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snapTable, historyTable, _ := tableNames(basis)
	businessDate := civil.Date(snap.BusinessDate)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPgErr(err)
	}
	defer tx.Rollback(ctx)

	var priorVersion int64
	var priorNetQuantity int64
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT calculation_version, net_quantity FROM %s WHERE position_key = $1 AND business_date = $2 FOR UPDATE`,
		snapTable), snap.PositionKey, businessDate,
	).Scan(&priorVersion, &priorNetQuantity)

	exists := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return wrapPgErr(err)
	}

	var previousNetQuantity *int64
	newVersion := int64(1)

	if exists {
		newVersion = priorVersion + 1
		pnq := priorNetQuantity
		previousNetQuantity = &pnq

		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET superseded_at = $1 WHERE position_key = $2 AND business_date = $3 AND superseded_at IS NULL`,
			historyTable), snap.CalculatedAt, snap.PositionKey, businessDate,
		); err != nil {
			return wrapPgErr(err)
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET net_quantity=$1, gross_long=$2, gross_short=$3, trade_count=$4,
			   total_notional=$5, calculation_version=$6, calculated_at=$7, calculation_method=$8,
			   calculation_request_id=$9, last_sequence_num=$10, last_trade_time=$11
			 WHERE position_key = $12 AND business_date = $13`, snapTable),
			snap.NetQuantity, snap.GrossLong, snap.GrossShort, snap.TradeCount,
			snap.TotalNotional.String(), newVersion, snap.CalculatedAt, string(snap.CalculationMethod),
			snap.CalculationRequestID, snap.LastSequenceNum, snap.LastTradeTime,
			snap.PositionKey, businessDate,
		); err != nil {
			return wrapPgErr(err)
		}
	} else {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s
			   (position_key, business_date, net_quantity, gross_long, gross_short, trade_count,
			    total_notional, calculation_version, calculated_at, calculation_method,
			    calculation_request_id, last_sequence_num, last_trade_time)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, snapTable),
			snap.PositionKey, businessDate, snap.NetQuantity, snap.GrossLong, snap.GrossShort,
			snap.TradeCount, snap.TotalNotional.String(), newVersion, snap.CalculatedAt,
			string(snap.CalculationMethod), snap.CalculationRequestID, snap.LastSequenceNum, snap.LastTradeTime,
		); err != nil {
			return wrapPgErr(err)
		}
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s
		   (position_key, business_date, calculation_version, net_quantity, gross_long, gross_short,
		    trade_count, total_notional, calculated_at, superseded_at, change_reason,
		    previous_net_quantity, calculation_request_id, last_sequence_num, last_trade_time,
		    calculation_method)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL,$10,$11,$12,$13,$14,$15)`, historyTable),
		snap.PositionKey, businessDate, newVersion, snap.NetQuantity, snap.GrossLong, snap.GrossShort,
		snap.TradeCount, snap.TotalNotional.String(), snap.CalculatedAt, string(reason),
		previousNetQuantity, snap.CalculationRequestID, snap.LastSequenceNum, snap.LastTradeTime,
		string(snap.CalculationMethod),
	); err != nil {
		return wrapPgErr(err)
	}

	return wrapPgErr(tx.Commit(ctx))
}

func (s *PostgresStore) SavePrice(ctx context.Context, price model.PositionAveragePrice, basis model.DateBasis) error {
	_, _, priceTable := tableNames(basis)
	businessDate := civil.Date(price.BusinessDate)

	methodData, err := marshalMethodData(price.MethodData)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (position_key, business_date, price_method, price, method_data, calculation_version, calculated_at)
		VALUES ($1,$2,$3,$4,$5,
		        COALESCE((SELECT calculation_version FROM %s WHERE position_key=$1 AND business_date=$2 AND price_method=$3), 0) + 1,
		        $6)
		ON CONFLICT (position_key, business_date, price_method) DO UPDATE
		  SET price = EXCLUDED.price, method_data = EXCLUDED.method_data,
		      calculation_version = %s.calculation_version + 1, calculated_at = EXCLUDED.calculated_at`,
		priceTable, priceTable, priceTable),
		price.PositionKey, businessDate, string(price.PriceMethod), price.Price.String(), methodData, price.CalculatedAt,
	)
	return wrapPgErr(err)
}

// --- Configuration CRUD ---

func (s *PostgresStore) FindAllConfigs(ctx context.Context) ([]model.PositionConfig, error) {
	return s.queryConfigs(ctx, "1=1")
}

func (s *PostgresStore) FindActiveConfigs(ctx context.Context) ([]model.PositionConfig, error) {
	return s.queryConfigs(ctx, "active = true")
}

func (s *PostgresStore) queryConfigs(ctx context.Context, where string) ([]model.PositionConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT config_id, config_type, name, key_format, price_methods, scope, active, created_at, updated_at
		FROM position_configs WHERE `+where+` ORDER BY config_id`)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []model.PositionConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, wrapPgErr(rows.Err())
}

func scanConfig(row pgx.Row) (*model.PositionConfig, error) {
	var c model.PositionConfig
	var configType, priceMethodsCSV string
	var scopeJSON []byte
	if err := row.Scan(&c.ConfigID, &configType, &c.Name, &c.KeyFormat, &priceMethodsCSV, &scopeJSON,
		&c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, wrapPgErr(err)
	}
	c.Type = model.ConfigType(configType)
	c.PriceMethods = splitPriceMethods(priceMethodsCSV)
	if err := unmarshalScope(scopeJSON, &c.Scope); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) FindConfigByID(ctx context.Context, id int64) (*model.PositionConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT config_id, config_type, name, key_format, price_methods, scope, active, created_at, updated_at
		FROM position_configs WHERE config_id = $1`, id)
	c, err := scanConfig(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) CreateConfig(ctx context.Context, c *model.PositionConfig) error {
	scopeJSON, err := marshalScope(c.Scope)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO position_configs (config_type, name, key_format, price_methods, scope, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		RETURNING config_id, created_at, updated_at`,
		string(c.Type), c.Name, string(c.KeyFormat), joinPriceMethods(c.PriceMethods), scopeJSON, c.Active,
	).Scan(&c.ConfigID, &c.CreatedAt, &c.UpdatedAt)
	return wrapPgErr(err)
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, c *model.PositionConfig) error {
	scopeJSON, err := marshalScope(c.Scope)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE position_configs
		SET name=$1, key_format=$2, price_methods=$3, scope=$4, active=$5, updated_at=now()
		WHERE config_id = $6`,
		c.Name, string(c.KeyFormat), joinPriceMethods(c.PriceMethods), scopeJSON, c.Active, c.ConfigID)
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeactivateConfig(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE position_configs SET active=false, updated_at=now() WHERE config_id=$1`, id)
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- JSON/CSV column marshaling ---

func marshalMethodData(d model.WACMethodData) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, Transient(err)
	}
	return b, nil
}

func unmarshalMethodData(raw []byte, out *model.WACMethodData) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Transient(err)
	}
	return nil
}

func marshalScope(s model.Scope) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, Transient(err)
	}
	return b, nil
}

func unmarshalScope(raw []byte, out *model.Scope) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return Transient(err)
	}
	return nil
}

func joinPriceMethods(methods []model.PriceMethod) string {
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}

func splitPriceMethods(csv string) []model.PriceMethod {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]model.PriceMethod, len(parts))
	for i, p := range parts {
		out[i] = model.PriceMethod(p)
	}
	return out
}
