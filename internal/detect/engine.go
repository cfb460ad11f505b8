// Package detect combines the two detection layers into per-record
// verdicts and orchestrates the per-batch stream pipeline.
package detect

import (
	"sync"
	"time"

	"github.com/logsentry/logsentry/internal/feature"
	"github.com/logsentry/logsentry/internal/model"
	"github.com/logsentry/logsentry/internal/parser"
	"github.com/logsentry/logsentry/internal/rules"
)

// Verdict causes.
const (
	CauseRule  = "rule"
	CauseModel = "model"
	CauseNone  = "none"
)

// Verdict is the per-record detection outcome.
type Verdict struct {
	Score     float64
	IsAnomaly bool
	Cause     string
	Evidence  rules.Evidence // meaningful only when Cause == CauseRule
}

// AnomalyRecord is the full view of one detected anomaly, retained in
// history and pushed to websocket subscribers.
type AnomalyRecord struct {
	ID            string             `json:"id"`
	Timestamp     time.Time          `json:"timestamp"`
	Service       string             `json:"service"`
	Source        string             `json:"source"`
	Level         string             `json:"log_level,omitempty"`
	Message       string             `json:"message,omitempty"`
	Score         float64            `json:"anomaly_score"`
	RuleViolation bool               `json:"rule_violation"`
	Cause         string             `json:"cause"`
	Features      map[string]float64 `json:"features,omitempty"`
	RawLog        string             `json:"raw_log"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	Context       map[string]string  `json:"context,omitempty"`
}

// Engine holds the two detection layers. The threshold rule set is
// swappable at runtime for config hot reload; the model service handles
// its own atomic swapping.
type Engine struct {
	mu    sync.RWMutex
	rules rules.RuleSet
	model *model.Service
}

// NewEngine builds an engine over a rule set and the model service.
func NewEngine(rs rules.RuleSet, m *model.Service) *Engine {
	return &Engine{rules: rs, model: m}
}

// SetRules swaps the threshold rule set.
func (e *Engine) SetRules(rs rules.RuleSet) {
	e.mu.Lock()
	e.rules = rs
	e.mu.Unlock()
}

// Rules returns the active threshold rule set.
func (e *Engine) Rules() rules.RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// Decide runs the layered decision for one parsed record. Rules win:
// a threshold violation is an anomaly with score 1.0 regardless of the
// model. Otherwise the model's normality score decides; an untrained
// model yields the neutral score and never flags.
func (e *Engine) Decide(rec *parser.ParsedRecord, vec []float64) Verdict {
	e.mu.RLock()
	rs := e.rules
	e.mu.RUnlock()

	if violated, ev := rs.Evaluate(rec); violated {
		return Verdict{Score: 1.0, IsAnomaly: true, Cause: CauseRule, Evidence: ev}
	}

	score, isAnomaly := e.model.Score(vec)
	if isAnomaly {
		return Verdict{Score: score, IsAnomaly: true, Cause: CauseModel}
	}
	return Verdict{Score: score, Cause: CauseNone}
}

// Featurize extracts the model-schema feature vector for a record. An
// untrained model has no schema; the vector is empty and scoring stays
// neutral.
func (e *Engine) Featurize(rec *parser.ParsedRecord) ([]float64, feature.Schema) {
	schema := e.model.Schema()
	return feature.Extract(rec, schema), schema
}
