// Package priceengine is a pluggable registry of average-price
// calculation methods keyed by model.PriceMethod. The spec's config
// rows carry a *slice* of price methods, so the Calculation Engine
// folds trades through whichever methods a config requests rather than
// a single hardcoded one; only WAC is registered today, matching the
// Non-goal that no other pricing method is defined.
package priceengine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/model"
	"github.com/positionledger/posengine/internal/wac"
)

// State is one method's running accumulator, persisted as a
// model.PositionAveragePrice row per (position, date, method).
type State struct {
	AvgPrice       decimal.Decimal
	TotalCostBasis decimal.Decimal
	NetQuantity    int64
	LastSequence   int64
}

// Method computes a running average price from a stream of trades
// folded in ascending sequenceNum order.
type Method interface {
	Zero() State
	ApplyTrade(s State, seq int64, qty int64, price decimal.Decimal) State
}

var registry = map[model.PriceMethod]Method{
	model.PriceMethodWAC: wacMethod{},
}

// Lookup returns the registered Method for name. An unregistered method
// referenced by a config is a constraint the engine must fail fast on
// rather than silently skip.
func Lookup(name model.PriceMethod) (Method, error) {
	m, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("priceengine: no method registered for %q", name)
	}
	return m, nil
}

// FromMethodData reconstructs a State from a persisted price row, for
// resuming an incremental fold.
func FromMethodData(price decimal.Decimal, data model.WACMethodData, netQuantity int64) State {
	return State{
		AvgPrice:       price,
		TotalCostBasis: data.TotalCostBasis,
		NetQuantity:    netQuantity,
		LastSequence:   data.LastUpdatedSequence,
	}
}

// MethodData projects a State back into the persisted methodData shape.
func (s State) MethodData() model.WACMethodData {
	return model.WACMethodData{TotalCostBasis: s.TotalCostBasis, LastUpdatedSequence: s.LastSequence}
}

// wacMethod adapts internal/wac's pure state machine to the Method
// interface.
type wacMethod struct{}

func (wacMethod) Zero() State { return State{} }

func (wacMethod) ApplyTrade(s State, seq int64, qty int64, price decimal.Decimal) State {
	next := wac.State{
		AvgPrice:       s.AvgPrice,
		TotalCostBasis: s.TotalCostBasis,
		NetQuantity:    s.NetQuantity,
		LastSequence:   s.LastSequence,
	}.ApplyTrade(seq, qty, price)
	return State{
		AvgPrice:       next.AvgPrice,
		TotalCostBasis: next.TotalCostBasis,
		NetQuantity:    next.NetQuantity,
		LastSequence:   next.LastSequence,
	}
}
