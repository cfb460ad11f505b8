package main

// Package main is a traffic simulator for exercising a running
// logsentry instance: it streams synthetic web_server, database and
// application logs, mixing in anomalous ones every fifth cycle.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/logsentry/logsentry/internal/detect"
	"github.com/logsentry/logsentry/internal/parser"
)

const appLogPattern = `(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\s+\[(\w+)\]\s+Memory usage: (\d+)%\s+CPU usage: (\d+)%\s+Thread count: (\d+)`

func webLog(rng *rand.Rand) parser.LogRecord {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return parser.LogRecord{
		RawLog: fmt.Sprintf(`{"timestamp": %q, "level": "INFO", "response_time": %d}`,
			ts, 40+rng.Intn(1961)),
		Service:    "web_server",
		Source:     "nginx",
		FormatType: parser.FormatJSON,
	}
}

func dbLog(rng *rand.Rand) parser.LogRecord {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return parser.LogRecord{
		RawLog: fmt.Sprintf("%s ERROR query_time=%dms connection_count=%d error_rate=%.2f",
			ts, 10+rng.Intn(5991), 1+rng.Intn(200), rng.Float64()),
		Service:    "database",
		Source:     "postgresql",
		FormatType: parser.FormatKeyValue,
	}
}

func appLog(rng *rand.Rand) parser.LogRecord {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return parser.LogRecord{
		RawLog: fmt.Sprintf("%s [ERROR] Memory usage: %d%% CPU usage: %d%% Thread count: %d",
			ts, 30+rng.Intn(66), 10+rng.Intn(90), 10+rng.Intn(191)),
		Service:    "application",
		Source:     "java_app",
		FormatType: parser.FormatRegex,
		CustomConfig: &parser.CustomConfig{
			Pattern: appLogPattern,
			FieldMapping: map[string]string{
				"0": "timestamp",
				"1": "level",
				"2": "memory_usage",
				"3": "cpu_usage",
				"4": "thread_count",
			},
		},
	}
}

func anomalousWebLog(rng *rand.Rand) parser.LogRecord {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return parser.LogRecord{
		RawLog: fmt.Sprintf(`{"timestamp": %q, "level": "ERROR", "response_time": %d, "status_code": 500}`,
			ts, 3000+rng.Intn(7001)),
		Service:    "web_server",
		Source:     "nginx",
		FormatType: parser.FormatJSON,
	}
}

func anomalousDBLog(rng *rand.Rand) parser.LogRecord {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return parser.LogRecord{
		RawLog: fmt.Sprintf("%s ERROR query_time=%dms connection_count=%d error_rate=%.2f",
			ts, 8000+rng.Intn(7001), 500+rng.Intn(501), 0.8+rng.Float64()*0.2),
		Service:    "database",
		Source:     "postgresql",
		FormatType: parser.FormatKeyValue,
	}
}

func main() {
	apiURL := os.Getenv("MODEL_SERVER_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8000/api/v1/stream/multi-source"
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Println("starting multi-source log simulator")
	fmt.Printf("target: %s\n", apiURL)

	for cycle := 1; ; cycle++ {
		logs := []parser.LogRecord{webLog(rng), dbLog(rng), appLog(rng)}
		if cycle%5 == 0 {
			logs = append(logs, anomalousWebLog(rng), anomalousDBLog(rng))
		}
		rng.Shuffle(len(logs), func(i, j int) { logs[i], logs[j] = logs[j], logs[i] })

		if err := send(client, apiURL, logs); err != nil {
			fmt.Fprintf(os.Stderr, "cycle %d: %v\n", cycle, err)
		}
		time.Sleep(2 * time.Second)
	}
}

func send(client *http.Client, url string, logs []parser.LogRecord) error {
	body, err := json.Marshal(map[string]any{"logs": logs})
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var results []detect.Result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return err
	}
	anomalies := 0
	for i, r := range results {
		if r.IsAnomaly {
			anomalies++
			fmt.Printf("  anomaly: %s/%s score=%.4f\n",
				logs[i].Service, logs[i].Source, r.Score)
		}
	}
	fmt.Printf("sent %d logs, %d anomalies\n", len(logs), anomalies)
	return nil
}
