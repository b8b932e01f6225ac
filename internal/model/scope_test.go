package model

import (
	"encoding/json"
	"testing"
)

func TestScope_AllMatchesEverything(t *testing.T) {
	s := AllScope()
	tr := &Trade{Book: "B1", Counterparty: "C1", Instrument: "I1", Source: "BLOOMBERG"}
	if !s.Matches(tr) {
		t.Error("ALL scope should match any trade")
	}
}

func TestScope_CriteriaRequiresAllFields(t *testing.T) {
	s := CriteriaScope(map[ScopeField]string{
		ScopeFieldBook:   "B1",
		ScopeFieldSource: "BLOOMBERG",
	})

	match := &Trade{Book: "B1", Source: "BLOOMBERG"}
	if !s.Matches(match) {
		t.Error("expected match when all criteria fields hold")
	}

	noMatch := &Trade{Book: "B1", Source: "REUTERS"}
	if s.Matches(noMatch) {
		t.Error("expected no match when one criteria field fails")
	}
}

func TestScope_EmptyCriteriaMatchesEverything(t *testing.T) {
	s := CriteriaScope(map[ScopeField]string{})
	if !s.Matches(&Trade{Book: "anything"}) {
		t.Error("empty criteria should match everything")
	}
}

func TestScope_RoundTripJSON(t *testing.T) {
	original := CriteriaScope(map[ScopeField]string{
		ScopeFieldBook:       "DESK-1",
		ScopeFieldInstrument: "AAPL",
	})

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Scope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Type != "CRITERIA" {
		t.Errorf("type = %s, want CRITERIA", decoded.Type)
	}
	if decoded.Criteria[ScopeFieldBook] != "DESK-1" {
		t.Errorf("criteria[BOOK] = %s, want DESK-1", decoded.Criteria[ScopeFieldBook])
	}
}

func TestScope_UnmarshalRejectsUnknownTag(t *testing.T) {
	var s Scope
	err := json.Unmarshal([]byte(`{"type":"MYSTERY"}`), &s)
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestScope_UnmarshalRejectsUnknownCriteriaField(t *testing.T) {
	var s Scope
	err := json.Unmarshal([]byte(`{"type":"CRITERIA","criteria":{"EXCHANGE":"NYSE"}}`), &s)
	if err == nil {
		t.Fatal("expected error for unknown criteria field")
	}
}

func TestScope_ALLSerializesWithoutCriteria(t *testing.T) {
	data, err := json.Marshal(AllScope())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"ALL"}` {
		t.Errorf("got %s, want {\"type\":\"ALL\"}", data)
	}
}
