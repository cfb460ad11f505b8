package rules

import (
	"encoding/json"
	"testing"

	"github.com/logsentry/logsentry/internal/parser"
)

func record(service string, fields map[string]parser.Value) parser.ParsedRecord {
	return parser.ParsedRecord{Service: service, Fields: fields}
}

func TestParseRuleSet_PreservesOrder(t *testing.T) {
	rs, err := ParseRuleSet(`{"web_server": {"response_time": 2000, "error_rate": 0.1, "cpu_usage": 90}}`)
	if err != nil {
		t.Fatalf("ParseRuleSet failed: %v", err)
	}

	got := rs["web_server"]
	wantOrder := []string{"response_time", "error_rate", "cpu_usage"}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d rules, got %d", len(wantOrder), len(got))
	}
	for i, name := range wantOrder {
		if got[i].Field != name {
			t.Errorf("rule %d: expected %q, got %q", i, name, got[i].Field)
		}
	}
}

func TestEvaluate_FirstViolationWins(t *testing.T) {
	rs, err := ParseRuleSet(`{"web_server": {"response_time": 2000, "error_rate": 0.1}}`)
	if err != nil {
		t.Fatalf("ParseRuleSet failed: %v", err)
	}

	// Both rules violated; insertion order picks response_time.
	rec := record("web_server", map[string]parser.Value{
		"error_rate":    parser.Number(0.5),
		"response_time": parser.Number(2500),
	})
	violated, ev := rs.Evaluate(&rec)
	if !violated {
		t.Fatal("expected a violation")
	}
	if ev.Rule != "response_time" || ev.Threshold != 2000 || ev.Actual != 2500 {
		t.Errorf("unexpected evidence: %+v", ev)
	}
}

func TestEvaluate_DefaultFallback(t *testing.T) {
	rs, err := ParseRuleSet(`{"web_server": {"response_time": 2000}, "__default__": {"cpu_usage": 95}}`)
	if err != nil {
		t.Fatalf("ParseRuleSet failed: %v", err)
	}

	rec := record("batch_worker", map[string]parser.Value{"cpu_usage": parser.Number(99)})
	violated, ev := rs.Evaluate(&rec)
	if !violated || ev.Rule != "cpu_usage" {
		t.Errorf("expected default cpu_usage violation, got violated=%v ev=%+v", violated, ev)
	}

	// Service-specific table is used exclusively, not merged with default.
	rec2 := record("web_server", map[string]parser.Value{"cpu_usage": parser.Number(99)})
	if violated, _ := rs.Evaluate(&rec2); violated {
		t.Error("web_server should not inherit default rules")
	}
}

func TestEvaluate_NoRules(t *testing.T) {
	rs := RuleSet{}
	rec := record("anything", map[string]parser.Value{"x": parser.Number(1e9)})
	if violated, _ := rs.Evaluate(&rec); violated {
		t.Error("empty rule set should never fire")
	}
}

func TestEvaluate_NonNumericIgnored(t *testing.T) {
	rs, _ := ParseRuleSet(`{"svc": {"status": 400}}`)
	rec := record("svc", map[string]parser.Value{"status": parser.Text("timeout")})
	if violated, _ := rs.Evaluate(&rec); violated {
		t.Error("text fields must not violate numeric thresholds")
	}
}

func TestEvaluate_BoundaryNotViolated(t *testing.T) {
	rs, _ := ParseRuleSet(`{"svc": {"latency": 100}}`)
	rec := record("svc", map[string]parser.Value{"latency": parser.Number(100)})
	if violated, _ := rs.Evaluate(&rec); violated {
		t.Error("violation requires strictly greater than the bound")
	}
}

func TestThresholds_MarshalRoundTrip(t *testing.T) {
	in := Thresholds{{Field: "b", Limit: 2}, {Field: "a", Limit: 1}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Thresholds
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 2 || out[0].Field != "b" || out[1].Field != "a" {
		t.Errorf("round trip lost order: %+v", out)
	}
}
