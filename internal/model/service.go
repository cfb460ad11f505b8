// Package model owns the unsupervised outlier scorer: an isolation
// forest plus the feature schema it was trained with. The (schema,
// forest) pair is published atomically so concurrent scoring always
// observes a consistent model, and training runs on a single background
// worker with a coalescing one-slot queue.
//
// Score convention: the service reports a normality score in [0, 1],
// higher = more normal (1 - the forest's raw anomaly score). A record is
// anomalous by model when its normality falls below BOTH the forest's
// contamination-calibrated cutoff and the configured anomaly threshold.
// Before any training has succeeded the service is untrained: every
// score is the neutral 0.5 and nothing is anomalous by model.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/feature"
	"github.com/logsentry/logsentry/internal/metrics"
	"github.com/logsentry/logsentry/internal/parser"
)

// NeutralScore is reported while no model is loaded.
const NeutralScore = 0.5

const artifactVersion = 1

// Config holds the model service settings.
type Config struct {
	Path          string  // artifact location on disk
	Contamination float64 // assumed outlier fraction during fit
	Threshold     float64 // normality threshold for anomaly decisions
	MinSamples    int     // smallest acceptable training batch
	ForestParams  ForestParams
}

// snapshot is the immutable (schema, forest) pair a scorer observes.
type snapshot struct {
	schema    feature.Schema
	forest    *Forest
	trainedAt time.Time
}

// trainJob is one queued training request.
type trainJob struct {
	id      string
	records []parser.ParsedRecord
}

// Service manages model lifecycle: load, score, background train, persist.
type Service struct {
	cfg Config
	log *zap.Logger

	current atomic.Pointer[snapshot]

	predictions    atomic.Int64
	modelAnomalies atomic.Int64

	mu      sync.Mutex
	pending *trainJob

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewService creates a model service. Call Load before serving traffic
// and Start to launch the training worker.
func NewService(cfg Config, log *zap.Logger) *Service {
	return &Service{
		cfg:  cfg,
		log:  log,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// artifact is the on-disk model format. It bundles the forest with its
// schema so trained models are self-describing.
type artifact struct {
	Version       int            `json:"version"`
	TrainedAt     time.Time      `json:"trained_at"`
	Contamination float64        `json:"contamination"`
	Schema        feature.Schema `json:"schema"`
	Forest        *Forest        `json:"forest"`
}

// Load binds the persisted (schema, forest) pair if an artifact exists
// at the configured path. A missing or unreadable artifact leaves the
// service untrained; that is not an error.
func (s *Service) Load() {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("model artifact unreadable, starting untrained",
				zap.String("path", s.cfg.Path), zap.Error(err))
		} else {
			s.log.Info("no model artifact found, starting untrained",
				zap.String("path", s.cfg.Path))
		}
		return
	}

	var art artifact
	if err := json.Unmarshal(data, &art); err != nil || art.Forest == nil || len(art.Schema) == 0 {
		s.log.Warn("model artifact corrupt, starting untrained",
			zap.String("path", s.cfg.Path), zap.Error(err))
		return
	}

	s.current.Store(&snapshot{schema: art.Schema, forest: art.Forest, trainedAt: art.TrainedAt})
	s.log.Info("model loaded",
		zap.String("path", s.cfg.Path),
		zap.Int("features", len(art.Schema)),
		zap.Time("trained_at", art.TrainedAt))
}

// Start launches the background training worker.
func (s *Service) Start() {
	go s.worker()
}

// Stop shuts the training worker down and waits for an in-flight job.
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

// Trained reports whether a model is currently bound.
func (s *Service) Trained() bool {
	return s.current.Load() != nil
}

// Schema returns the feature schema of the current model, or nil when
// untrained. The returned slice must not be mutated.
func (s *Service) Schema() feature.Schema {
	if snap := s.current.Load(); snap != nil {
		return snap.schema
	}
	return nil
}

// LastTrained returns the time of the last successful training, zero
// when untrained.
func (s *Service) LastTrained() time.Time {
	if snap := s.current.Load(); snap != nil {
		return snap.trainedAt
	}
	return time.Time{}
}

// Predictions returns the total number of Score calls served.
func (s *Service) Predictions() int64 { return s.predictions.Load() }

// ModelAnomalies returns how many Score calls flagged an anomaly.
func (s *Service) ModelAnomalies() int64 { return s.modelAnomalies.Load() }

// Score evaluates one feature vector against the current model. It
// returns the normality score (higher = more normal) and whether the
// vector is anomalous by model. A single atomic load guarantees the
// vector is judged by one consistent (schema, forest) pair.
func (s *Service) Score(vec []float64) (float64, bool) {
	s.predictions.Add(1)
	metrics.ModelPredictions.Inc()

	snap := s.current.Load()
	if snap == nil {
		return NeutralScore, false
	}

	raw := snap.forest.AnomalyScore(vec)
	normality := 1 - raw
	isAnomaly := raw > snap.forest.Cutoff && normality < s.cfg.Threshold
	if isAnomaly {
		s.modelAnomalies.Add(1)
	}
	return normality, isAnomaly
}

// SubmitTraining enqueues a training job over the given records and
// returns its job ID immediately. While a job is running, at most one
// more may wait: a new submission replaces the pending one (coalescing),
// so a burst of train requests results in one run over the newest batch.
func (s *Service) SubmitTraining(records []parser.ParsedRecord) string {
	job := &trainJob{id: uuid.NewString(), records: records}

	s.mu.Lock()
	replaced := s.pending != nil
	s.pending = job
	s.mu.Unlock()

	if replaced {
		s.log.Info("training request coalesced with pending job", zap.String("job_id", job.id))
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return job.id
}

func (s *Service) worker() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		job := s.pending
		s.pending = nil
		s.mu.Unlock()
		if job == nil {
			continue
		}

		start := time.Now()
		if err := s.train(job); err != nil {
			metrics.TrainingRuns.WithLabelValues("failure").Inc()
			s.log.Error("training failed, previous model retained",
				zap.String("job_id", job.id), zap.Error(err))
			continue
		}
		metrics.TrainingRuns.WithLabelValues("success").Inc()
		metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	}
}

// train fits a new forest on the job's batch, atomically swaps it in
// and persists the artifact. Any failure leaves the prior state intact.
func (s *Service) train(job *trainJob) error {
	if len(job.records) < s.cfg.MinSamples {
		return fmt.Errorf("insufficient training data: %d records, need %d",
			len(job.records), s.cfg.MinSamples)
	}

	schema := feature.Derive(job.records)
	if len(schema) == 0 {
		return errors.New("no numeric features in training batch")
	}

	vectors := make([][]float64, len(job.records))
	for i := range job.records {
		vectors[i] = feature.Extract(&job.records[i], schema)
	}

	forest, err := FitForest(vectors, s.cfg.Contamination, s.cfg.ForestParams)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	snap := &snapshot{schema: schema, forest: forest, trainedAt: time.Now().UTC()}
	s.current.Store(snap)

	if err := s.persist(snap); err != nil {
		// The new model is live either way; persistence failure only
		// affects the next restart.
		s.log.Error("model persist failed", zap.Error(err))
	}

	s.log.Info("model trained",
		zap.String("job_id", job.id),
		zap.Int("samples", len(vectors)),
		zap.Int("features", len(schema)),
		zap.Float64("cutoff", forest.Cutoff))
	return nil
}

// persist writes the artifact via temp file + rename so a crash never
// leaves a torn model on disk.
func (s *Service) persist(snap *snapshot) error {
	art := artifact{
		Version:       artifactVersion,
		TrainedAt:     snap.trainedAt,
		Contamination: s.cfg.Contamination,
		Schema:        snap.schema,
		Forest:        snap.forest,
	}
	data, err := json.Marshal(art)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.cfg.Path)
}
