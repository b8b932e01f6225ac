package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WACMethodData is the WAC-specific payload of PositionAveragePrice's
// methodData JSON column. Unknown fields on read are ignored to allow
// forward-compatible additions.
type WACMethodData struct {
	TotalCostBasis      decimal.Decimal `json:"totalCostBasis"`
	LastUpdatedSequence int64           `json:"lastUpdatedSequence"`
}

// PositionAveragePrice is one per (PositionKey, BusinessDate,
// PriceMethod, DateBasis). Overwritten on each recalculation; no
// separate price history is kept — price is a derived per-snapshot
// artifact.
type PositionAveragePrice struct {
	PositionKey        string          `json:"positionKey" db:"position_key"`
	BusinessDate       time.Time       `json:"businessDate" db:"business_date"`
	PriceMethod        PriceMethod     `json:"priceMethod" db:"price_method"`
	DateBasis          DateBasis       `json:"dateBasis" db:"-"`
	Price              decimal.Decimal `json:"price" db:"price"`
	MethodData         WACMethodData   `json:"methodData" db:"method_data"`
	CalculationVersion int64           `json:"calculationVersion" db:"calculation_version"`
	CalculatedAt       time.Time       `json:"calculatedAt" db:"calculated_at"`
}
