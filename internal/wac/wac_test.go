package wac

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestApplyTrade_FirstFromFlat(t *testing.T) {
	s := Zero().ApplyTrade(1, 1000, d("150"))
	if s.NetQuantity != 1000 {
		t.Errorf("netQuantity = %d, want 1000", s.NetQuantity)
	}
	if !s.AvgPrice.Equal(d("150")) {
		t.Errorf("avgPrice = %s, want 150", s.AvgPrice)
	}
	if !s.TotalCostBasis.Equal(d("150000")) {
		t.Errorf("totalCostBasis = %s, want 150000", s.TotalCostBasis)
	}
	if s.LastSequence != 1 {
		t.Errorf("lastSequence = %d, want 1", s.LastSequence)
	}
}

func TestApplyTrade_AwayFromZeroReDerivesAverage(t *testing.T) {
	s := Zero().ApplyTrade(1, 1000, d("150"))
	s = s.ApplyTrade(2, 500, d("160"))

	if s.NetQuantity != 1500 {
		t.Errorf("netQuantity = %d, want 1500", s.NetQuantity)
	}
	want := d("153.333333333333")
	if !s.AvgPrice.Equal(want) {
		t.Errorf("avgPrice = %s, want %s", s.AvgPrice, want)
	}
}

func TestApplyTrade_TowardZeroPreservesAverage(t *testing.T) {
	s := Zero().ApplyTrade(1, 1000, d("150"))
	s = s.ApplyTrade(2, 500, d("160"))
	avgBefore := s.AvgPrice

	s = s.ApplyTrade(3, -400, d("155"))

	if s.NetQuantity != 1100 {
		t.Errorf("netQuantity = %d, want 1100", s.NetQuantity)
	}
	if !s.AvgPrice.Equal(avgBefore) {
		t.Errorf("avgPrice = %s, want unchanged %s", s.AvgPrice, avgBefore)
	}
}

func TestApplyTrade_ExactFlatten(t *testing.T) {
	s := Zero().ApplyTrade(1, 500, d("150"))
	s = s.ApplyTrade(2, -500, d("155"))

	if s.NetQuantity != 0 {
		t.Errorf("netQuantity = %d, want 0", s.NetQuantity)
	}
	if !s.AvgPrice.IsZero() {
		t.Errorf("avgPrice = %s, want 0", s.AvgPrice)
	}
	if !s.TotalCostBasis.IsZero() {
		t.Errorf("totalCostBasis = %s, want 0", s.TotalCostBasis)
	}
}

func TestApplyTrade_ZeroCross(t *testing.T) {
	s := Zero().ApplyTrade(1, 500, d("150"))
	s = s.ApplyTrade(2, -800, d("160"))

	if s.NetQuantity != -300 {
		t.Errorf("netQuantity = %d, want -300", s.NetQuantity)
	}
	want := d("160.000000000000")
	if !s.AvgPrice.Equal(want) {
		t.Errorf("avgPrice = %s, want %s", s.AvgPrice, want)
	}
	if !s.TotalCostBasis.Equal(d("-48000")) {
		t.Errorf("totalCostBasis = %s, want -48000", s.TotalCostBasis)
	}
}

func TestApplyTrade_ZeroCrossNegativeToPositive(t *testing.T) {
	s := Zero().ApplyTrade(1, -500, d("150"))
	s = s.ApplyTrade(2, 800, d("160"))

	if s.NetQuantity != 300 {
		t.Errorf("netQuantity = %d, want 300", s.NetQuantity)
	}
	if !s.AvgPrice.Equal(d("160")) {
		t.Errorf("avgPrice = %s, want 160", s.AvgPrice)
	}
}

func TestApplyTrade_MultiDayBuildMatchesS3(t *testing.T) {
	s := Zero().ApplyTrade(1, 1000, d("150"))
	if !s.AvgPrice.Equal(d("150")) {
		t.Fatalf("day1 avgPrice = %s, want 150", s.AvgPrice)
	}

	s = s.ApplyTrade(2, 500, d("160"))
	if !s.AvgPrice.Equal(d("153.333333333333")) {
		t.Fatalf("day2 avgPrice = %s, want 153.333333333333", s.AvgPrice)
	}

	s = s.ApplyTrade(3, -300, d("155"))
	if s.NetQuantity != 1200 {
		t.Fatalf("day3 netQuantity = %d, want 1200", s.NetQuantity)
	}
	if !s.AvgPrice.Equal(d("153.333333333333")) {
		t.Fatalf("day3 avgPrice = %s, want 153.333333333333 (unchanged)", s.AvgPrice)
	}
}

func TestApplyTrade_LastSequenceAlwaysAdvances(t *testing.T) {
	s := Zero().ApplyTrade(7, 100, d("10"))
	if s.LastSequence != 7 {
		t.Errorf("lastSequence = %d, want 7", s.LastSequence)
	}
	s = s.ApplyTrade(42, -50, d("11"))
	if s.LastSequence != 42 {
		t.Errorf("lastSequence = %d, want 42", s.LastSequence)
	}
}

func TestApplyTrade_SequenceOfSameDayIncrementalMatchesFullRecalc(t *testing.T) {
	trades := []struct {
		seq   int64
		qty   int64
		price string
	}{
		{1, 1000, "150"},
		{2, 500, "160"},
		{3, -400, "155"},
		{4, 200, "148.5"},
		{5, -1500, "162"},
	}

	full := Zero()
	for _, tr := range trades {
		full = full.ApplyTrade(tr.seq, tr.qty, d(tr.price))
	}

	// Same-day incremental: apply the first three, persist, then resume
	// from that state with the remaining two. Must match folding all
	// five trades from zero in one pass (spec §8 round-trip property).
	partial := Zero()
	for _, tr := range trades[:3] {
		partial = partial.ApplyTrade(tr.seq, tr.qty, d(tr.price))
	}
	resumed := State{
		AvgPrice:       partial.AvgPrice,
		TotalCostBasis: partial.TotalCostBasis,
		NetQuantity:    partial.NetQuantity,
		LastSequence:   partial.LastSequence,
	}
	for _, tr := range trades[3:] {
		resumed = resumed.ApplyTrade(tr.seq, tr.qty, d(tr.price))
	}

	if !full.AvgPrice.Equal(resumed.AvgPrice) {
		t.Errorf("avgPrice mismatch: full=%s resumed=%s", full.AvgPrice, resumed.AvgPrice)
	}
	if full.NetQuantity != resumed.NetQuantity {
		t.Errorf("netQuantity mismatch: full=%d resumed=%d", full.NetQuantity, resumed.NetQuantity)
	}
	if !full.TotalCostBasis.Equal(resumed.TotalCostBasis) {
		t.Errorf("totalCostBasis mismatch: full=%s resumed=%s", full.TotalCostBasis, resumed.TotalCostBasis)
	}
}
