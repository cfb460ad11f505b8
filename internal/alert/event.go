// Package alert delivers rate-alert events to configured sinks (Slack,
// PagerDuty, generic webhooks, console) through a bounded asynchronous
// dispatcher with per-sink retry and circuit breaking.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// TypeHighAnomalyRate is the only event type the aggregator emits today.
const TypeHighAnomalyRate = "high_anomaly_rate"

// Sample is a compact view of one contributing anomaly, attached to an
// event for triage context.
type Sample struct {
	Service   string    `json:"service"`
	Score     float64   `json:"score"`
	Cause     string    `json:"cause"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one alert condition firing: a service crossed its anomaly
// rate threshold within the configured window.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Service       string    `json:"service"`
	Count         int       `json:"count"`
	WindowSeconds int       `json:"window_seconds"`
	Samples       []Sample  `json:"samples,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewEvent builds a high_anomaly_rate event with a fresh ID.
func NewEvent(service string, count, windowSeconds int, samples []Sample) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          TypeHighAnomalyRate,
		Service:       service,
		Count:         count,
		WindowSeconds: windowSeconds,
		Samples:       samples,
		Timestamp:     time.Now().UTC(),
	}
}
