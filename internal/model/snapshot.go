package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot is the current computed position for one
// (PositionKey, BusinessDate, DateBasis) coordinate. Overwritten in
// place on each recalculation; the row it replaces is appended to
// PositionSnapshotHistory.
type PositionSnapshot struct {
	PositionKey           string            `json:"positionKey" db:"position_key"`
	BusinessDate          time.Time         `json:"businessDate" db:"business_date"`
	DateBasis             DateBasis         `json:"dateBasis" db:"-"`
	NetQuantity           int64             `json:"netQuantity" db:"net_quantity"`
	GrossLong             int64             `json:"grossLong" db:"gross_long"`
	GrossShort            int64             `json:"grossShort" db:"gross_short"`
	TradeCount            int64             `json:"tradeCount" db:"trade_count"`
	TotalNotional         decimal.Decimal   `json:"totalNotional" db:"total_notional"`
	CalculationVersion    int64             `json:"calculationVersion" db:"calculation_version"`
	CalculatedAt          time.Time         `json:"calculatedAt" db:"calculated_at"`
	CalculationMethod     CalculationMethod `json:"calculationMethod" db:"calculation_method"`
	CalculationRequestID  string            `json:"calculationRequestId" db:"calculation_request_id"`
	LastSequenceNum       int64             `json:"lastSequenceNum" db:"last_sequence_num"`
	LastTradeTime         time.Time         `json:"lastTradeTime" db:"last_trade_time"`
}

// Validate checks the metric invariants of §3/§8: net = long - short,
// both non-negative, trade count non-negative.
func (s *PositionSnapshot) Validate() error {
	if s.GrossLong < 0 || s.GrossShort < 0 {
		return ErrInvariantViolation("gross long/short must be non-negative")
	}
	if s.NetQuantity != s.GrossLong-s.GrossShort {
		return ErrInvariantViolation("netQuantity must equal grossLong - grossShort")
	}
	if s.TradeCount < 0 {
		return ErrInvariantViolation("tradeCount must be non-negative")
	}
	return nil
}

// PositionSnapshotHistory is an append-only audit row produced every
// time the current snapshot row for a coordinate is overwritten.
type PositionSnapshotHistory struct {
	HistoryID             int64             `json:"historyId" db:"history_id"`
	PositionKey           string            `json:"positionKey" db:"position_key"`
	BusinessDate          time.Time         `json:"businessDate" db:"business_date"`
	CalculationVersion    int64             `json:"calculationVersion" db:"calculation_version"`
	NetQuantity           int64             `json:"netQuantity" db:"net_quantity"`
	GrossLong             int64             `json:"grossLong" db:"gross_long"`
	GrossShort            int64             `json:"grossShort" db:"gross_short"`
	TradeCount            int64             `json:"tradeCount" db:"trade_count"`
	TotalNotional         decimal.Decimal   `json:"totalNotional" db:"total_notional"`
	CalculatedAt          time.Time         `json:"calculatedAt" db:"calculated_at"`
	SupersededAt          *time.Time        `json:"supersededAt,omitempty" db:"superseded_at"`
	ChangeReason          ChangeReason      `json:"changeReason" db:"change_reason"`
	PreviousNetQuantity   *int64            `json:"previousNetQuantity,omitempty" db:"previous_net_quantity"`
	CalculationRequestID  string            `json:"calculationRequestId" db:"calculation_request_id"`
	LastSequenceNum       int64             `json:"lastSequenceNum" db:"last_sequence_num"`
	LastTradeTime         time.Time         `json:"lastTradeTime" db:"last_trade_time"`
	CalculationMethod     CalculationMethod `json:"calculationMethod" db:"calculation_method"`
}

// invariantViolation marks a bug in core logic (§7 taxonomy 5): fail
// fast, never commit a partial snapshot.
type invariantViolation string

func (e invariantViolation) Error() string { return "model: invariant violation: " + string(e) }

// ErrInvariantViolation constructs an invariant-violation error.
func ErrInvariantViolation(msg string) error { return invariantViolation(msg) }
