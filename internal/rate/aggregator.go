// Package rate watches the anomaly stream per service and fires an
// alert event when a service accumulates too many anomalies inside a
// sliding time window.
package rate

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/alert"
	"github.com/logsentry/logsentry/internal/metrics"
)

// DefaultKey is the fallback rule consulted when a service has no rule
// of its own.
const DefaultKey = "__default__"

// maxSamples bounds how many contributing anomalies ride along on an
// alert event.
const maxSamples = 5

// Rule says: fire when Count anomalies occur within WindowSeconds.
type Rule struct {
	Count         int `json:"count"`
	WindowSeconds int `json:"window_seconds"`
}

// RuleSet maps service names to rate rules, with an optional DefaultKey
// fallback.
type RuleSet map[string]Rule

// ParseRuleSet decodes the COMPLEX_ALERT_RULES JSON document.
func ParseRuleSet(raw string) (RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return nil, fmt.Errorf("parse alert rules: %w", err)
	}
	for name, r := range rs {
		if r.Count <= 0 || r.WindowSeconds <= 0 {
			return nil, fmt.Errorf("alert rule %q: count and window_seconds must be positive", name)
		}
	}
	return rs, nil
}

// Resolve returns the rule for a service, falling back to DefaultKey.
// The second return is false when neither exists.
func (rs RuleSet) Resolve(service string) (Rule, bool) {
	if r, ok := rs[service]; ok {
		return r, true
	}
	r, ok := rs[DefaultKey]
	return r, ok
}

// window holds the live anomaly timestamps and samples for one service.
type window struct {
	times   []time.Time
	samples []alert.Sample
}

// Emitter receives events when a rule fires. The dispatcher satisfies
// this; tests substitute a recorder.
type Emitter interface {
	Emit(alert.Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(alert.Event)

func (f EmitterFunc) Emit(e alert.Event) { f(e) }

// Aggregator tracks anomaly timestamps per service and emits a
// high_anomaly_rate event when a service's rule trips. After firing,
// the service's window resets so a sustained burst produces one event
// per full window rather than one per record.
type Aggregator struct {
	log     *zap.Logger
	emitter Emitter
	now     func() time.Time

	mu      sync.Mutex
	rules   RuleSet
	windows map[string]*window
}

// NewAggregator wires an aggregator to its downstream emitter.
func NewAggregator(rules RuleSet, emitter Emitter, log *zap.Logger) *Aggregator {
	return &Aggregator{
		log:     log,
		emitter: emitter,
		now:     time.Now,
		rules:   rules,
		windows: make(map[string]*window),
	}
}

// SetRules swaps the rule set. Live windows are kept; the new rules
// apply from the next Record call.
func (a *Aggregator) SetRules(rules RuleSet) {
	a.mu.Lock()
	a.rules = rules
	a.mu.Unlock()
}

// Record notes one anomaly for a service. When the service's rule (or
// the default) trips, the event is emitted outside the lock.
func (a *Aggregator) Record(service string, sample alert.Sample) {
	a.mu.Lock()
	rule, ok := a.rules.Resolve(service)
	if !ok {
		a.mu.Unlock()
		return
	}

	w := a.windows[service]
	if w == nil {
		w = &window{}
		a.windows[service] = w
	}

	now := a.now()
	cutoff := now.Add(-time.Duration(rule.WindowSeconds) * time.Second)
	w.prune(cutoff)

	w.times = append(w.times, now)
	w.samples = append(w.samples, sample)
	if len(w.samples) > maxSamples {
		w.samples = w.samples[len(w.samples)-maxSamples:]
	}

	if len(w.times) < rule.Count {
		a.mu.Unlock()
		return
	}

	count := len(w.times)
	samples := make([]alert.Sample, len(w.samples))
	copy(samples, w.samples)
	w.times = nil
	w.samples = nil
	a.mu.Unlock()

	ev := alert.NewEvent(service, count, rule.WindowSeconds, samples)
	metrics.AlertsTriggered.WithLabelValues(service).Inc()
	a.log.Warn("anomaly rate threshold crossed",
		zap.String("service", service),
		zap.Int("count", count),
		zap.Int("window_seconds", rule.WindowSeconds))
	a.emitter.Emit(ev)
}

// prune drops timestamps older than cutoff. Samples track the newest
// timestamps, so only the newest `keep` of them survive.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	keep := len(w.times) - i
	w.times = w.times[i:]
	if len(w.samples) > keep {
		w.samples = w.samples[len(w.samples)-keep:]
	}
}
