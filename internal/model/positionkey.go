package model

import "time"

// PositionKey identifies one calculated view: the tuple
// (PositionKey, ConfigID). LastTradeDate/LastSettlementDate are
// monotone caches used by the ingestion coordinator to classify late
// trades; they only ever advance to the per-upsert maximum.
type PositionKey struct {
	PositionID         int64     `json:"positionId" db:"position_id"`
	PositionKey        string    `json:"positionKey" db:"position_key"`
	ConfigID           int64     `json:"configId" db:"config_id"`
	ConfigType         ConfigType `json:"configType" db:"config_type"`
	ConfigName         string    `json:"configName" db:"config_name"`
	Book               *string   `json:"book,omitempty" db:"book"`
	Counterparty       *string   `json:"counterparty,omitempty" db:"counterparty"`
	Instrument         *string   `json:"instrument,omitempty" db:"instrument"`
	LastTradeDate      time.Time `json:"lastTradeDate" db:"last_trade_date"`
	LastSettlementDate time.Time `json:"lastSettlementDate" db:"last_settlement_date"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
	CreatedBySequence  int64     `json:"createdBySequence" db:"created_by_sequence"`
}

// UpsertResult is returned by Store.UpsertPositionKey: the stable
// surrogate id plus the dates that were current *before* this upsert's
// max() update, which the ingestion coordinator needs to detect late
// trades.
type UpsertResult struct {
	PositionID               int64
	PriorLastTradeDate       *time.Time
	PriorLastSettlementDate  *time.Time
}
