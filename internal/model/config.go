package model

import "time"

// PositionConfig is a static-ish descriptor of one position view. Unique
// on (Type, KeyFormat, Scope); mutated only through the config CRUD
// collaborator.
type PositionConfig struct {
	ConfigID     int64         `json:"configId" db:"config_id"`
	Type         ConfigType    `json:"type" db:"config_type"`
	Name         string        `json:"name" db:"name"`
	KeyFormat    KeyFormat     `json:"keyFormat" db:"key_format"`
	PriceMethods []PriceMethod `json:"priceMethods" db:"price_methods"`
	Scope        Scope         `json:"scope" db:"scope"`
	Active       bool          `json:"active" db:"active"`
	CreatedAt    time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt" db:"updated_at"`
}

// HasPriceMethod reports whether m is among the config's requested price
// methods.
func (c *PositionConfig) HasPriceMethod(m PriceMethod) bool {
	for _, pm := range c.PriceMethods {
		if pm == m {
			return true
		}
	}
	return false
}
