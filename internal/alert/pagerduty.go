package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PagerDutySink sends events to the PagerDuty Events API v2 enqueue
// endpoint using a routing key.
type PagerDutySink struct {
	endpoint   string
	routingKey string
	client     *http.Client
}

// DefaultPagerDutyEndpoint is the public Events API v2 enqueue URL.
const DefaultPagerDutyEndpoint = "https://events.pagerduty.com/v2/enqueue"

// NewPagerDutySink creates a PagerDuty sink. An empty endpoint selects
// the public Events API URL.
func NewPagerDutySink(endpoint, routingKey string) *PagerDutySink {
	if endpoint == "" {
		endpoint = DefaultPagerDutyEndpoint
	}
	return &PagerDutySink{
		endpoint:   endpoint,
		routingKey: routingKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *PagerDutySink) Name() string { return "pagerduty" }

// pdEvent is the Events API v2 trigger payload.
type pdEvent struct {
	RoutingKey  string    `json:"routing_key"`
	EventAction string    `json:"event_action"`
	DedupKey    string    `json:"dedup_key,omitempty"`
	Payload     pdPayload `json:"payload"`
}

type pdPayload struct {
	Summary       string         `json:"summary"`
	Source        string         `json:"source"`
	Severity      string         `json:"severity"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details,omitempty"`
}

func (s *PagerDutySink) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(pdEvent{
		RoutingKey:  s.routingKey,
		EventAction: "trigger",
		DedupKey:    ev.ID,
		Payload: pdPayload{
			Summary: fmt.Sprintf("High anomaly rate on %s: %d anomalies in %ds",
				ev.Service, ev.Count, ev.WindowSeconds),
			Source:    ev.Service,
			Severity:  "error",
			Timestamp: ev.Timestamp.Format(time.RFC3339),
			CustomDetails: map[string]any{
				"alert_id":       ev.ID,
				"anomaly_count":  ev.Count,
				"window_seconds": ev.WindowSeconds,
				"samples":        ev.Samples,
			},
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Sink: s.Name(), Code: resp.StatusCode}
	}
	return nil
}
