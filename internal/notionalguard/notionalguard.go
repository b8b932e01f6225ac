// Package notionalguard is a fail-fast invariant check the Calculation
// Engine runs on a freshly computed snapshot immediately before
// committing it, per spec §7 taxonomy 5: an invariant violation in core
// logic is a bug, not a user error, and must never result in a partial
// or corrupt snapshot reaching the store. It additionally supports an
// optional configurable ceiling on a position's absolute total
// notional, catching a runaway aggregation before it is persisted.
package notionalguard

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/model"
)

// ErrNotionalExceeded is returned when a snapshot's absolute total
// notional exceeds the guard's configured maximum.
var ErrNotionalExceeded = errors.New("notionalguard: total notional exceeds configured maximum")

// Guard checks a computed snapshot before it is committed.
type Guard struct {
	// MaxNotional bounds the absolute total notional a single
	// (positionKey, businessDate, dateBasis) snapshot may carry. Zero
	// or negative means unbounded — only the structural invariants of
	// model.PositionSnapshot.Validate are enforced.
	MaxNotional decimal.Decimal
}

// New creates a Guard with the given notional ceiling. Pass
// decimal.Zero for no ceiling.
func New(maxNotional decimal.Decimal) *Guard {
	return &Guard{MaxNotional: maxNotional}
}

// Check validates snap's structural invariants and, if configured, its
// notional ceiling. A non-nil error means the caller must not commit
// snap to the store.
func (g *Guard) Check(snap *model.PositionSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if g == nil || !g.MaxNotional.IsPositive() {
		return nil
	}
	if snap.TotalNotional.Abs().GreaterThan(g.MaxNotional) {
		return ErrNotionalExceeded
	}
	return nil
}
