// Package rules implements the deterministic first layer of anomaly
// detection: per-service numeric threshold rules. A rule fires when a
// parsed field exceeds its configured upper bound; the first violation in
// configuration order wins and short-circuits evaluation.
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/logsentry/logsentry/internal/parser"
)

// DefaultKey is the fallback entry consulted when a service has no rule
// table of its own.
const DefaultKey = "__default__"

// Threshold is a single rule: violation when field value > Limit.
type Threshold struct {
	Field string
	Limit float64
}

// Thresholds is an ordered rule list. Order matters: evaluation reports
// the first violated rule, so JSON object insertion order is preserved
// instead of decoding into a Go map.
type Thresholds []Threshold

// UnmarshalJSON decodes a JSON object of field → bound pairs, keeping
// the object's key order.
func (t *Thresholds) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("threshold rules: expected JSON object")
	}

	out := Thresholds{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		var limit float64
		if err := dec.Decode(&limit); err != nil {
			return fmt.Errorf("threshold rules: field %q: %w", key, err)
		}
		out = append(out, Threshold{Field: key, Limit: limit})
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return err
	}
	*t = out
	return nil
}

// MarshalJSON renders the rule list back as an ordered JSON object.
func (t Thresholds) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, th := range t {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, _ := json.Marshal(th.Field)
		val, _ := json.Marshal(th.Limit)
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}

// RuleSet maps service names to their ordered threshold rules, with an
// optional DefaultKey fallback.
type RuleSet map[string]Thresholds

// ParseRuleSet decodes the ALERT_CONDITIONS JSON document.
func ParseRuleSet(raw string) (RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return nil, fmt.Errorf("parse alert conditions: %w", err)
	}
	return rs, nil
}

// Resolve returns the rule table for a service: the service's own table
// if configured, else the default table, else nil.
func (rs RuleSet) Resolve(service string) Thresholds {
	if t, ok := rs[service]; ok {
		return t
	}
	return rs[DefaultKey]
}

// Evidence describes a rule violation for alerting and provenance.
type Evidence struct {
	Rule      string  `json:"violated_rule"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual_value"`
}

// Evaluate applies the service's rules to a parsed record. It returns
// the first violation in configuration order, or (false, zero) when no
// rule fires. Non-numeric and absent fields never violate.
func (rs RuleSet) Evaluate(rec *parser.ParsedRecord) (bool, Evidence) {
	for _, th := range rs.Resolve(rec.Service) {
		v, ok := rec.Fields[th.Field]
		if !ok {
			continue
		}
		actual, numeric := v.Numeric()
		if !numeric {
			continue
		}
		if actual > th.Limit {
			return true, Evidence{Rule: th.Field, Threshold: th.Limit, Actual: actual}
		}
	}
	return false, Evidence{}
}
