// Package keyformat derives and parses position key strings from trade
// dimensions, per the syntax fixed in spec §6: dimensions joined by "#"
// in keyFormat order.
package keyformat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/positionledger/posengine/internal/model"
)

// ErrWrongDimensionCount is returned when a stored position key does not
// split into the number of "#"-joined segments its keyFormat expects.
var ErrWrongDimensionCount = errors.New("keyformat: wrong number of dimensions for key format")

// Dimensions is the projection of a trade onto the (book, counterparty,
// instrument) columns relevant to a given key format. Only the columns
// used by the format are non-nil.
type Dimensions struct {
	Book         *string
	Counterparty *string
	Instrument   *string
}

// Generate derives the canonical position key string for a trade under
// the given key format, along with the dimension projection to persist
// on the position_keys row.
func Generate(format model.KeyFormat, book, counterparty, instrument string) (string, Dimensions, error) {
	switch format {
	case model.KeyBookCounterpartyInstrument:
		return join(book, counterparty, instrument), Dimensions{ptr(book), ptr(counterparty), ptr(instrument)}, nil
	case model.KeyBookInstrument:
		return join(book, instrument), Dimensions{Book: ptr(book), Instrument: ptr(instrument)}, nil
	case model.KeyCounterpartyInstrument:
		return join(counterparty, instrument), Dimensions{Counterparty: ptr(counterparty), Instrument: ptr(instrument)}, nil
	case model.KeyInstrument:
		return join(instrument), Dimensions{Instrument: ptr(instrument)}, nil
	case model.KeyBook:
		return join(book), Dimensions{Book: ptr(book)}, nil
	default:
		return "", Dimensions{}, fmt.Errorf("keyformat: unsupported key format %q", format)
	}
}

// CanonicalBCI derives the canonical BOOK_COUNTERPARTY_INSTRUMENT key
// used for the immutable trade record itself, independent of which
// PositionConfig views end up matching the trade.
func CanonicalBCI(book, counterparty, instrument string) string {
	return join(book, counterparty, instrument)
}

// Parse splits a stored position key back into its dimensions per
// format, positionally.
func Parse(format model.KeyFormat, key string) (Dimensions, error) {
	parts := strings.Split(key, "#")

	switch format {
	case model.KeyBookCounterpartyInstrument:
		if len(parts) != 3 {
			return Dimensions{}, ErrWrongDimensionCount
		}
		return Dimensions{ptr(parts[0]), ptr(parts[1]), ptr(parts[2])}, nil
	case model.KeyBookInstrument:
		if len(parts) != 2 {
			return Dimensions{}, ErrWrongDimensionCount
		}
		return Dimensions{Book: ptr(parts[0]), Instrument: ptr(parts[1])}, nil
	case model.KeyCounterpartyInstrument:
		if len(parts) != 2 {
			return Dimensions{}, ErrWrongDimensionCount
		}
		return Dimensions{Counterparty: ptr(parts[0]), Instrument: ptr(parts[1])}, nil
	case model.KeyInstrument:
		if len(parts) != 1 {
			return Dimensions{}, ErrWrongDimensionCount
		}
		return Dimensions{Instrument: ptr(parts[0])}, nil
	case model.KeyBook:
		if len(parts) != 1 {
			return Dimensions{}, ErrWrongDimensionCount
		}
		return Dimensions{Book: ptr(parts[0])}, nil
	default:
		return Dimensions{}, fmt.Errorf("keyformat: unsupported key format %q", format)
	}
}

// AsMap projects non-nil dimensions into a map keyed by column name, for
// use by Store.AggregateMetricsByDimensions.
func (d Dimensions) AsMap() map[string]string {
	m := make(map[string]string, 3)
	if d.Book != nil {
		m["book"] = *d.Book
	}
	if d.Counterparty != nil {
		m["counterparty"] = *d.Counterparty
	}
	if d.Instrument != nil {
		m["instrument"] = *d.Instrument
	}
	return m
}

func join(parts ...string) string {
	return strings.Join(parts, "#")
}

func ptr(s string) *string { return &s }
