package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeMetrics is the full aggregate over position_trades constrained
// by key and date, as returned by Store.AggregateMetrics.
type TradeMetrics struct {
	NetQuantity     int64
	GrossLong       int64
	GrossShort      int64
	TradeCount      int64
	TotalNotional   decimal.Decimal
	LastSequenceNum int64
	LastTradeTime   time.Time
}

// TradeRecord is a single trade row as read back by the engine for
// same-day/full-recalc trade lists.
type TradeRecord struct {
	SequenceNum    int64
	SignedQuantity int64
	Price          decimal.Decimal
	TradeTime      time.Time
}
