package priceengine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/model"
)

func TestLookup_WACRegistered(t *testing.T) {
	m, err := Lookup(model.PriceMethodWAC)
	if err != nil {
		t.Fatal(err)
	}
	s := m.ApplyTrade(m.Zero(), 1, 100, decimal.NewFromInt(10))
	if !s.AvgPrice.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected avg price 10, got %s", s.AvgPrice)
	}
	if s.NetQuantity != 100 {
		t.Fatalf("expected net quantity 100, got %d", s.NetQuantity)
	}
}

func TestLookup_UnknownMethod(t *testing.T) {
	if _, err := Lookup(model.PriceMethod("VWAP")); err == nil {
		t.Fatal("expected error for unregistered method")
	}
}

func TestFromMethodData_RoundTrips(t *testing.T) {
	data := model.WACMethodData{TotalCostBasis: decimal.NewFromInt(1000), LastUpdatedSequence: 5}
	s := FromMethodData(decimal.NewFromInt(10), data, 100)
	got := s.MethodData()
	if !got.TotalCostBasis.Equal(data.TotalCostBasis) || got.LastUpdatedSequence != data.LastUpdatedSequence {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
