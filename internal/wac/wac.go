// Package wac implements the direction-aware weighted average cost
// state machine (spec §4.1). State is an immutable value; ApplyTrade
// is a pure function with no I/O, no clock, and no allocation beyond
// the returned value's arithmetic. Trades must be folded in ascending
// sequenceNum order — ApplyTrade is not required to be associative
// over trade order.
package wac

import "github.com/shopspring/decimal"

// PriceScale is the number of fractional digits the running average
// price is rounded to whenever it is re-derived (rules R1, R4a, R4b).
const PriceScale int32 = 12

// State is the immutable running WAC accumulator.
type State struct {
	AvgPrice       decimal.Decimal
	TotalCostBasis decimal.Decimal
	NetQuantity    int64
	LastSequence   int64
}

// Zero returns the initial state before any trade has been applied.
func Zero() State {
	return State{}
}

// ApplyTrade folds one trade into the running state, returning the new
// state. seq must be greater than the state's LastSequence for the
// result to be meaningful; the function itself does not enforce
// ordering — callers are required to supply trades in ascending
// sequenceNum order per §4.1.
func (s State) ApplyTrade(seq int64, qty int64, price decimal.Decimal) State {
	old := s.NetQuantity
	newQty := old + qty

	var next State
	switch {
	case crossesZero(old, newQty):
		// R1: cross zero — direction flips, the new price becomes the
		// basis for the entire remaining position.
		next = State{
			AvgPrice:       price.Round(PriceScale),
			TotalCostBasis: price.Mul(decimal.NewFromInt(newQty)),
			NetQuantity:    newQty,
		}
	case newQty == 0:
		// R2: flat — position fully closed.
		next = State{
			AvgPrice:       decimal.Zero,
			TotalCostBasis: decimal.Zero,
			NetQuantity:    0,
		}
	case old != 0 && sign(old) != sign(qty):
		// R3: toward zero, but not through it — average price is
		// preserved exactly, cost basis shrinks proportionally.
		next = State{
			AvgPrice:       s.AvgPrice,
			TotalCostBasis: s.TotalCostBasis.Add(s.AvgPrice.Mul(decimal.NewFromInt(qty))),
			NetQuantity:    newQty,
		}
	case old == 0:
		// R4a: first trade from flat — the trade price is the basis.
		next = State{
			AvgPrice:       price.Round(PriceScale),
			TotalCostBasis: price.Mul(decimal.NewFromInt(newQty)),
			NetQuantity:    newQty,
		}
	default:
		// R4b: away from zero — blend the new trade into the running
		// cost basis and re-derive the average price from it.
		costBasis := s.TotalCostBasis.Add(price.Mul(decimal.NewFromInt(qty)))
		avgPrice := costBasis.Abs().Div(decimal.NewFromInt(newQty).Abs()).Round(PriceScale)
		next = State{
			AvgPrice:       avgPrice,
			TotalCostBasis: costBasis,
			NetQuantity:    newQty,
		}
	}

	next.LastSequence = seq
	return next
}

// crossesZero reports whether old and newQty are non-zero and of
// opposite sign — a position that flips direction rather than merely
// shrinking toward or landing on zero.
func crossesZero(old, newQty int64) bool {
	return (old > 0 && newQty < 0) || (old < 0 && newQty > 0)
}

func sign(n int64) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
