package detect

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/alert"
	"github.com/logsentry/logsentry/internal/feature"
	"github.com/logsentry/logsentry/internal/history"
	"github.com/logsentry/logsentry/internal/metrics"
	"github.com/logsentry/logsentry/internal/parser"
	"github.com/logsentry/logsentry/internal/rate"
)

// ErrNoLogs reports a stream request with an empty batch.
var ErrNoLogs = errors.New("no logs provided")

// Result is the caller-facing outcome for one input record, aligned
// with batch input order.
type Result struct {
	Score     float64 `json:"score"`
	IsAnomaly bool    `json:"is_anomaly"`
}

// Broadcaster pushes anomaly records to live subscribers. The websocket
// hub satisfies this; a nil broadcaster disables pushing.
type Broadcaster interface {
	BroadcastAnomaly(AnomalyRecord)
}

// Pipeline is the per-batch orchestrator: parse, featurize, decide, and
// fan detected anomalies out to history, the rate aggregator and live
// subscribers. Fan-out never blocks response assembly.
type Pipeline struct {
	log        *zap.Logger
	engine     *Engine
	history    *history.Ring[AnomalyRecord]
	aggregator *rate.Aggregator
	broadcast  Broadcaster

	anomalies atomic.Int64
}

// NewPipeline wires the orchestrator. broadcast may be nil.
func NewPipeline(engine *Engine, hist *history.Ring[AnomalyRecord], agg *rate.Aggregator, broadcast Broadcaster, log *zap.Logger) *Pipeline {
	return &Pipeline{
		log:        log,
		engine:     engine,
		history:    hist,
		aggregator: agg,
		broadcast:  broadcast,
	}
}

// Process runs one batch through the pipeline. Results align with the
// input: results[i] belongs to logs[i]. A context deadline hit mid-batch
// discards the partial results and returns the context error.
func (p *Pipeline) Process(ctx context.Context, logs []parser.LogRecord, tags map[string]string) ([]Result, error) {
	if len(logs) == 0 {
		return nil, ErrNoLogs
	}
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	results := make([]Result, 0, len(logs))
	for i := range logs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := parser.Parse(logs[i])
		if err != nil {
			kind := "malformed_input"
			if errors.Is(err, parser.ErrMissingConfig) {
				kind = "missing_config"
			}
			metrics.ParseErrors.WithLabelValues(string(logs[i].FormatType), kind).Inc()
			p.log.Debug("log parse failed",
				zap.String("service", logs[i].Service),
				zap.String("format", string(logs[i].FormatType)),
				zap.Error(err))
		}
		metrics.LogsProcessed.WithLabelValues(rec.Service, string(logs[i].FormatType)).Inc()

		vec, schema := p.engine.Featurize(&rec)
		verdict := p.engine.Decide(&rec, vec)
		results = append(results, Result{Score: verdict.Score, IsAnomaly: verdict.IsAnomaly})

		if verdict.IsAnomaly {
			p.fanOut(p.buildRecord(&rec, vec, schema, verdict, tags))
		}
	}
	return results, nil
}

// buildRecord assembles the full anomaly view for history and alerting.
func (p *Pipeline) buildRecord(rec *parser.ParsedRecord, vec []float64, schema feature.Schema, v Verdict, tags map[string]string) AnomalyRecord {
	ar := AnomalyRecord{
		ID:            uuid.NewString(),
		Timestamp:     rec.Timestamp,
		Service:       rec.Service,
		Source:        rec.Source,
		Level:         rec.Level,
		Message:       rec.Message,
		Score:         v.Score,
		RuleViolation: v.Cause == CauseRule,
		Cause:         v.Cause,
		Features:      feature.Pairs(schema, vec),
		RawLog:        rec.RawLog,
		Context:       tags,
	}
	if v.Cause == CauseRule {
		ar.Metadata = map[string]any{
			"violated_rule": v.Evidence.Rule,
			"threshold":     v.Evidence.Threshold,
			"actual_value":  v.Evidence.Actual,
		}
	}
	return ar
}

// Anomalies returns the total number of anomalies detected across both
// causes since startup.
func (p *Pipeline) Anomalies() int64 { return p.anomalies.Load() }

func (p *Pipeline) fanOut(ar AnomalyRecord) {
	p.anomalies.Add(1)
	metrics.AnomaliesDetected.WithLabelValues(ar.Service, ar.Cause).Inc()
	p.history.Append(ar)
	p.aggregator.Record(ar.Service, alert.Sample{
		Service:   ar.Service,
		Score:     ar.Score,
		Cause:     ar.Cause,
		Message:   ar.Message,
		Timestamp: ar.Timestamp,
	})
	if p.broadcast != nil {
		p.broadcast.BroadcastAnomaly(ar)
	}
	p.log.Info("anomaly detected",
		zap.String("id", ar.ID),
		zap.String("service", ar.Service),
		zap.String("cause", ar.Cause),
		zap.Float64("score", ar.Score))
}
