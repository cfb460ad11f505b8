package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/slack-go/slack"
)

// SlackSink posts events to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
}

// NewSlackSink creates a Slack sink for the given incoming-webhook URL.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, ev Event) error {
	fields := []slack.AttachmentField{
		{Title: "Service", Value: ev.Service, Short: true},
		{Title: "Anomalies", Value: strconv.Itoa(ev.Count), Short: true},
		{Title: "Window", Value: fmt.Sprintf("%ds", ev.WindowSeconds), Short: true},
		{Title: "Alert ID", Value: ev.ID, Short: true},
	}
	for i, sm := range ev.Samples {
		fields = append(fields, slack.AttachmentField{
			Title: fmt.Sprintf("Sample %d", i+1),
			Value: fmt.Sprintf("cause=%s score=%.3f %s", sm.Cause, sm.Score, sm.Message),
		})
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":rotating_light: High anomaly rate on *%s*: %d anomalies in %ds",
			ev.Service, ev.Count, ev.WindowSeconds),
		Attachments: []slack.Attachment{{
			Color:  "danger",
			Fields: fields,
			Ts:     jsonNumber(ev.Timestamp.Unix()),
		}},
	}
	return slack.PostWebhookContext(ctx, s.webhookURL, msg)
}

func jsonNumber(n int64) json.Number {
	return json.Number(strconv.FormatInt(n, 10))
}
