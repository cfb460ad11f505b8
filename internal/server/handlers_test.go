package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/alert"
	"github.com/logsentry/logsentry/internal/detect"
	"github.com/logsentry/logsentry/internal/feedback"
	"github.com/logsentry/logsentry/internal/history"
	"github.com/logsentry/logsentry/internal/model"
	"github.com/logsentry/logsentry/internal/rate"
	"github.com/logsentry/logsentry/internal/rules"
)

func newTestServer(t *testing.T, thresholdJSON string) (*Server, *httptest.Server) {
	t.Helper()

	var rs rules.RuleSet
	if thresholdJSON != "" {
		var err error
		rs, err = rules.ParseRuleSet(thresholdJSON)
		if err != nil {
			t.Fatalf("rules: %v", err)
		}
	}

	m := model.NewService(model.Config{
		Path:          filepath.Join(t.TempDir(), "model.json"),
		Contamination: 0.05,
		Threshold:     0.75,
		MinSamples:    10,
		ForestParams:  model.ForestParams{Seed: 42, Trees: 20},
	}, zap.NewNop())
	m.Start()
	t.Cleanup(m.Stop)

	fb, err := feedback.NewStore(filepath.Join(t.TempDir(), "feedback.db"), 100)
	if err != nil {
		t.Fatalf("feedback store: %v", err)
	}
	t.Cleanup(func() { fb.Close() })

	hist := history.NewRing[detect.AnomalyRecord](500)
	engine := detect.NewEngine(rs, m)
	agg := rate.NewAggregator(rate.RuleSet{}, rate.EmitterFunc(func(alert.Event) {}), zap.NewNop())

	srv, err := New(Config{Host: "127.0.0.1", Port: 0}, Deps{
		Pipeline: detect.NewPipeline(engine, hist, agg, nil, zap.NewNop()),
		Model:    m,
		History:  hist,
		Feedback: fb,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { srv.limiter.Stop() })

	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRootLiveness(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/api/v1/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["message"] == "" {
		t.Error("liveness response missing message")
	}
}

func TestStream_RuleViolation(t *testing.T) {
	_, ts := newTestServer(t, `{"web_server": {"response_time": 2000}}`)

	resp := postJSON(t, ts.URL+"/api/v1/stream/multi-source", `{
		"logs": [
			{"raw_log": "{\"response_time\": 2500}", "service": "web_server", "source": "nginx", "format_type": "json"},
			{"raw_log": "{\"response_time\": 100}", "service": "web_server", "source": "nginx", "format_type": "json"}
		]
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	results := decodeBody[[]map[string]any](t, resp)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0]["is_anomaly"] != true || results[0]["score"] != 1.0 {
		t.Errorf("results[0] = %+v, want rule anomaly", results[0])
	}
	if results[1]["is_anomaly"] != false {
		t.Errorf("results[1] = %+v, want normal", results[1])
	}
}

func TestStream_EmptyLogs(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp := postJSON(t, ts.URL+"/api/v1/stream/multi-source", `{"logs": []}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["detail"] == "" {
		t.Error("error response missing detail")
	}
}

func TestStream_MalformedBody(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp := postJSON(t, ts.URL+"/api/v1/stream/multi-source", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAnomalies_GetAndClear(t *testing.T) {
	srv, ts := newTestServer(t, `{"svc": {"x": 10}}`)

	// Seed history through the stream endpoint.
	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/api/v1/stream/multi-source",
			fmt.Sprintf(`{"logs": [{"raw_log": "{\"x\": %d}", "service": "svc", "source": "t", "format_type": "json"}]}`, 100+i))
		resp.Body.Close()
	}
	if srv.history.Len() != 3 {
		t.Fatalf("history len = %d", srv.history.Len())
	}

	resp, _ := http.Get(ts.URL + "/api/v1/anomalies?limit=2")
	records := decodeBody[[]detect.AnomalyRecord](t, resp)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	// Newest first.
	if records[0].Metadata["actual_value"] != 102.0 {
		t.Errorf("newest record metadata = %+v", records[0].Metadata)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/anomalies", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}

	resp2, _ := http.Get(ts.URL + "/api/v1/anomalies")
	records2 := decodeBody[[]detect.AnomalyRecord](t, resp2)
	if len(records2) != 0 {
		t.Errorf("history not cleared: %d records", len(records2))
	}
}

func TestAnomalies_LimitValidation(t *testing.T) {
	_, ts := newTestServer(t, "")
	for _, limit := range []string{"0", "-1", "1001", "abc"} {
		resp, _ := http.Get(ts.URL + "/api/v1/anomalies?limit=" + limit)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestTrain_Accepted(t *testing.T) {
	srv, ts := newTestServer(t, "")

	logs := make([]string, 20)
	for i := range logs {
		logs[i] = fmt.Sprintf(`{"raw_log": "{\"response_time\": %d}", "service": "web_server", "source": "t", "format_type": "json"}`, 100+i*5)
	}
	resp := postJSON(t, ts.URL+"/api/v1/train", `{"logs": [`+strings.Join(logs, ",")+`]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["job_id"] == "" {
		t.Error("train response missing job_id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !srv.model.Trained() {
		time.Sleep(10 * time.Millisecond)
	}
	if !srv.model.Trained() {
		t.Error("training never completed")
	}
}

func TestTrain_EmptyLogs(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp := postJSON(t, ts.URL+"/api/v1/train", `{"logs": []}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFeedback_RoundTrip(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/api/v1/feedback", `{
		"feedback": [
			{"log": {"raw_log": "{\"x\": 1}", "service": "svc", "source": "t", "format_type": "json"}, "is_anomaly": true, "predicted_anomaly": true},
			{"log": {"raw_log": "{\"x\": 2}", "service": "svc", "source": "t", "format_type": "json"}, "is_anomaly": false, "predicted_anomaly": true}
		]
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["received"] != 2.0 {
		t.Errorf("received = %v, want 2", body["received"])
	}

	mResp, _ := http.Get(ts.URL + "/api/v1/metrics")
	m := decodeBody[serviceMetricsResponse](t, mResp)
	if m.FeedbackReceived != 2 {
		t.Errorf("feedback_received = %d, want 2", m.FeedbackReceived)
	}
	if m.ModelAccuracy != 0.5 {
		t.Errorf("model_accuracy = %v, want 0.5", m.ModelAccuracy)
	}
}

func TestFeedback_Empty(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp := postJSON(t, ts.URL+"/api/v1/feedback", `{"feedback": []}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestServiceMetrics_Untrained(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp, _ := http.Get(ts.URL + "/api/v1/metrics")
	m := decodeBody[serviceMetricsResponse](t, resp)
	if m.LastTrained != nil {
		t.Errorf("last_trained = %v, want null", *m.LastTrained)
	}
	if m.PredictionCount != 0 {
		t.Errorf("prediction_count = %d", m.PredictionCount)
	}
}

func TestServiceMetrics_CountsRuleAnomalies(t *testing.T) {
	_, ts := newTestServer(t, `{"web_server": {"response_time": 2000}}`)

	// A rule-caused anomaly never touches the model counters; the JSON
	// metrics total must still include it.
	resp := postJSON(t, ts.URL+"/api/v1/stream/multi-source", `{
		"logs": [
			{"raw_log": "{\"response_time\": 2500}", "service": "web_server", "source": "nginx", "format_type": "json"}
		]
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	mResp, _ := http.Get(ts.URL + "/api/v1/metrics")
	m := decodeBody[serviceMetricsResponse](t, mResp)
	if m.AnomalyCount != 1 {
		t.Errorf("anomaly_count = %d after one rule anomaly, want 1", m.AnomalyCount)
	}
}

func TestHealthAndReady(t *testing.T) {
	_, ts := newTestServer(t, "")
	for _, path := range []string{"/health"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp := postJSON(t, ts.URL+"/api/v1/metrics", `{}`)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
	resp.Body.Close()
}
