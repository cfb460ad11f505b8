package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/detect"
	"github.com/logsentry/logsentry/internal/feedback"
	"github.com/logsentry/logsentry/internal/history"
	"github.com/logsentry/logsentry/internal/metrics"
	"github.com/logsentry/logsentry/internal/parser"
)

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the {detail} error envelope.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// handleHealth answers the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady answers the readiness probe. Ready means the listener is
// up; the model may legitimately be untrained.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"model_trained": s.model.Trained(),
	})
}

// handleRoot answers the /api/v1/ liveness probe.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/" && r.URL.Path != "/api/v1" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "logsentry anomaly detection service is running",
	})
}

// serviceMetricsResponse is the JSON counters view, distinct from the
// prometheus exposition at /metrics.
type serviceMetricsResponse struct {
	PredictionCount  int64   `json:"prediction_count"`
	AnomalyCount     int64   `json:"anomaly_count"`
	LastTrained      *string `json:"last_trained"`
	FeedbackReceived int64   `json:"feedback_received"`
	ModelAccuracy    float64 `json:"model_accuracy"`
}

func (s *Server) handleServiceMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// AnomalyCount is the total across both causes: rule violations
	// never reach the model counters.
	resp := serviceMetricsResponse{
		PredictionCount: s.model.Predictions(),
		AnomalyCount:    s.pipeline.Anomalies(),
	}
	if t := s.model.LastTrained(); !t.IsZero() {
		ts := t.Format(time.RFC3339)
		resp.LastTrained = &ts
	}
	if s.feedback != nil {
		if n, err := s.feedback.Count(r.Context()); err == nil {
			resp.FeedbackReceived = n
		}
		if acc, n, err := s.feedback.Accuracy(r.Context()); err == nil && n > 0 {
			resp.ModelAccuracy = acc
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamRequest is the POST /stream/multi-source body.
type streamRequest struct {
	Logs []parser.LogRecord `json:"logs"`
	Tags map[string]string  `json:"tags,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	results, err := s.pipeline.Process(r.Context(), req.Logs, req.Tags)
	if err != nil {
		switch {
		case errors.Is(err, detect.ErrNoLogs):
			writeError(w, http.StatusBadRequest, "no logs provided")
		case errors.Is(err, r.Context().Err()):
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
		default:
			s.log.Error("stream processing failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > history.MaxRecentLimit {
				writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 1000]")
				return
			}
			limit = n
		}
		records := s.history.Recent(limit)
		if records == nil {
			records = []detect.AnomalyRecord{}
		}
		writeJSON(w, http.StatusOK, records)

	case http.MethodDelete:
		s.history.Clear()
		writeJSON(w, http.StatusOK, map[string]string{"message": "anomaly history cleared"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// trainRequest is the POST /train body.
type trainRequest struct {
	Logs []parser.LogRecord `json:"logs"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if len(req.Logs) == 0 {
		writeError(w, http.StatusBadRequest, "no logs provided")
		return
	}

	// Parse up front so the training batch carries structured fields;
	// unparseable records degrade to empty field maps.
	records := make([]parser.ParsedRecord, 0, len(req.Logs))
	for i := range req.Logs {
		rec, _ := parser.Parse(req.Logs[i])
		records = append(records, rec)
	}

	jobID := s.model.SubmitTraining(records)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "training job accepted",
		"job_id":  jobID,
		"samples": len(records),
	})
}

// feedbackRequest is the POST /feedback body.
type feedbackRequest struct {
	Feedback []feedbackItem `json:"feedback"`
}

type feedbackItem struct {
	Log       parser.LogRecord `json:"log"`
	IsAnomaly bool             `json:"is_anomaly"`
	Predicted bool             `json:"predicted_anomaly"`
	Score     float64          `json:"score"`
	Comment   string           `json:"comment,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.feedback == nil {
		writeError(w, http.StatusInternalServerError, "feedback store unavailable")
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if len(req.Feedback) == 0 {
		writeError(w, http.StatusBadRequest, "no feedback provided")
		return
	}

	accepted := 0
	for _, item := range req.Feedback {
		entry := &feedback.Entry{
			Service:   item.Log.Service,
			RawLog:    item.Log.RawLog,
			Predicted: item.Predicted,
			Label:     item.IsAnomaly,
			Score:     item.Score,
			Comment:   item.Comment,
		}
		if err := s.feedback.Add(r.Context(), entry); err != nil {
			s.log.Error("feedback insert failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store feedback")
			return
		}
		metrics.FeedbackReceived.Inc()
		accepted++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "feedback accepted",
		"received": accepted,
	})
}
