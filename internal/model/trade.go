package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrZeroQuantity is returned when a trade's signed quantity is zero.
	ErrZeroQuantity = errors.New("model: trade quantity must be non-zero")
	// ErrNonPositivePrice is returned when a trade's price is not positive.
	ErrNonPositivePrice = errors.New("model: trade price must be positive")
)

// Trade is an immutable fact identified by a globally unique monotonic
// sequence number. Once inserted, a Trade is never mutated.
type Trade struct {
	SequenceNum    int64           `json:"sequenceNum" db:"sequence_num"`
	Book           string          `json:"book" db:"book"`
	Counterparty   string          `json:"counterparty" db:"counterparty"`
	Instrument     string          `json:"instrument" db:"instrument"`
	SignedQuantity int64           `json:"signedQuantity" db:"signed_quantity"`
	Price          decimal.Decimal `json:"price" db:"price"`
	TradeTime      time.Time       `json:"tradeTime" db:"trade_time"`
	TradeDate      time.Time       `json:"tradeDate" db:"trade_date"`
	SettlementDate time.Time       `json:"settlementDate" db:"settlement_date"`
	Source         string          `json:"source" db:"source"`
	SourceID       string          `json:"sourceId" db:"source_id"`
}

// Validate checks the invariants owned by the Trade entity: non-zero
// signed quantity and a strictly positive price. sequenceNum uniqueness
// is a store-level invariant, not a value-level one.
func (t *Trade) Validate() error {
	if t.SignedQuantity == 0 {
		return ErrZeroQuantity
	}
	if !t.Price.IsPositive() {
		return ErrNonPositivePrice
	}
	return nil
}

// AbsQuantity returns |SignedQuantity| as a decimal. Goes through
// decimal.Decimal.Abs (backed by big.Int) rather than negating the raw
// int64, which would overflow on math.MinInt64.
func (t *Trade) AbsQuantity() decimal.Decimal {
	return decimal.NewFromInt(t.SignedQuantity).Abs()
}

// BusinessDate returns the trade date or settlement date depending on
// dateBasis.
func (t *Trade) BusinessDate(basis DateBasis) time.Time {
	if basis == SettlementDate {
		return t.SettlementDate
	}
	return t.TradeDate
}
