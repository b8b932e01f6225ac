package configcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/positionledger/posengine/internal/model"
)

func countingLoader(calls *int, configs []model.PositionConfig, err error) Loader {
	return func(context.Context) ([]model.PositionConfig, error) {
		*calls++
		if err != nil {
			return nil, err
		}
		return configs, nil
	}
}

func TestActive_ReloadsOnceWithinTTL(t *testing.T) {
	calls := 0
	cfgs := []model.PositionConfig{{ConfigID: 1, Type: model.ConfigOfficial, Scope: model.AllScope()}}
	c := New(countingLoader(&calls, cfgs, nil), time.Minute)

	for i := 0; i < 5; i++ {
		got, err := c.Active(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 config, got %d", len(got))
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one load within the ttl window, got %d", calls)
	}
}

func TestActive_ReloadsAfterTTLExpires(t *testing.T) {
	calls := 0
	c := New(countingLoader(&calls, nil, nil), time.Millisecond)

	if _, err := c.Active(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Active(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after ttl expiry, got %d calls", calls)
	}
}

func TestActive_KeepsStaleSnapshotOnLoadFailure(t *testing.T) {
	cfgs := []model.PositionConfig{{ConfigID: 1, Scope: model.AllScope()}}
	fail := false
	c := New(func(context.Context) ([]model.PositionConfig, error) {
		if fail {
			return nil, errors.New("store unavailable")
		}
		return cfgs, nil
	}, time.Millisecond)

	if _, err := c.Active(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	fail = true

	got, err := c.Active(context.Background())
	if err != nil {
		t.Fatalf("expected stale snapshot to be served, got error %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the stale snapshot preserved, got %d configs", len(got))
	}
}

func TestActive_PropagatesErrorWhenNoSnapshotYet(t *testing.T) {
	c := New(func(context.Context) ([]model.PositionConfig, error) {
		return nil, errors.New("store unavailable")
	}, time.Minute)

	if _, err := c.Active(context.Background()); err == nil {
		t.Fatal("expected error on first load failure with no prior snapshot")
	}
}

func TestMatching_FiltersByScope(t *testing.T) {
	calls := 0
	cfgs := []model.PositionConfig{
		{ConfigID: 1, Scope: model.AllScope()},
		{ConfigID: 2, Scope: model.CriteriaScope(map[model.ScopeField]string{model.ScopeFieldBook: "B1"})},
		{ConfigID: 3, Scope: model.CriteriaScope(map[model.ScopeField]string{model.ScopeFieldBook: "B2"})},
	}
	c := New(countingLoader(&calls, cfgs, nil), time.Minute)

	trade := &model.Trade{Book: "B1", Counterparty: "CP1", Instrument: "AAPL"}
	matched, err := c.Matching(context.Background(), trade)
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected configs 1 and 2 to match, got %d", len(matched))
	}
}

func TestInvalidate_ForcesReloadOnNextRead(t *testing.T) {
	calls := 0
	c := New(countingLoader(&calls, nil, nil), time.Hour)

	if _, err := c.Active(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Active(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected invalidate to force a reload, got %d calls", calls)
	}
}
