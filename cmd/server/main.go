package main

// Package main is the entry point for the logsentry server.
//
// Startup order:
//  1. Load and validate configuration (env + optional YAML file)
//  2. Build the structured logger
//  3. Open the feedback store, load the persisted model, start the
//     training worker
//  4. Wire sinks → dispatcher → rate aggregator → detection pipeline
//  5. Start the HTTP server and watch the config file for alert-rule
//     changes
//
// Shutdown is graceful: HTTP drains, then the dispatcher, hub, model
// worker and feedback store close in dependency order.

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/alert"
	"github.com/logsentry/logsentry/internal/config"
	"github.com/logsentry/logsentry/internal/detect"
	"github.com/logsentry/logsentry/internal/feedback"
	"github.com/logsentry/logsentry/internal/history"
	"github.com/logsentry/logsentry/internal/logging"
	"github.com/logsentry/logsentry/internal/model"
	"github.com/logsentry/logsentry/internal/rate"
	"github.com/logsentry/logsentry/internal/rules"
	"github.com/logsentry/logsentry/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "logsentry: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	manager := config.NewManager("")
	cfg, err := manager.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer log.Sync()

	thresholdRules, err := rules.ParseRuleSet(cfg.Alerts.Conditions)
	if err != nil {
		return err
	}
	rateRules, err := rate.ParseRuleSet(cfg.Alerts.ComplexRules)
	if err != nil {
		return err
	}

	fb, err := feedback.NewStore(cfg.Feedback.DBPath, cfg.Feedback.Capacity)
	if err != nil {
		return fmt.Errorf("feedback store: %w", err)
	}
	defer fb.Close()

	modelSvc := model.NewService(model.Config{
		Path:          cfg.Model.Path,
		Contamination: cfg.Model.Contamination,
		Threshold:     cfg.Model.Threshold,
		MinSamples:    cfg.Model.MinTrainSamples,
	}, log.Named("model"))
	modelSvc.Load()
	modelSvc.Start()
	defer modelSvc.Stop()

	dispatcher := alert.NewDispatcher(buildSinks(cfg, log), log.Named("alert"))
	dispatcher.Start()
	defer dispatcher.Stop()

	aggregator := rate.NewAggregator(rateRules, dispatcher, log.Named("rate"))
	engine := detect.NewEngine(thresholdRules, modelSvc)
	hist := history.NewRing[detect.AnomalyRecord](cfg.History.MaxRecentAnomalies)

	srv, err := server.New(server.Config{
		Host:            cfg.API.Host,
		Port:            cfg.API.Port,
		IngestRateLimit: cfg.API.IngestRateLimit,
	}, server.Deps{
		Model:    modelSvc,
		History:  hist,
		Feedback: fb,
	}, log.Named("http"))
	if err != nil {
		return err
	}

	pipeline := detect.NewPipeline(engine, hist, aggregator, srv.Hub(), log.Named("detect"))
	srv.SetPipeline(pipeline)

	// Alert-rule tables are hot-reloadable from the config file.
	manager.Watch(func(next *config.Config) {
		if rs, err := rules.ParseRuleSet(next.Alerts.Conditions); err == nil {
			engine.SetRules(rs)
			log.Info("threshold rules reloaded")
		}
		if rr, err := rate.ParseRuleSet(next.Alerts.ComplexRules); err == nil {
			aggregator.SetRules(rr)
			log.Info("rate rules reloaded")
		}
	})

	if err := srv.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received")

	return srv.Stop()
}

// buildSinks assembles the active sink set. Console is always on;
// external sinks join when their credentials are configured.
func buildSinks(cfg *config.Config, log *zap.Logger) []alert.Sink {
	sinks := []alert.Sink{alert.NewConsoleSink(log.Named("console"))}
	if cfg.Alerts.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewSlackSink(cfg.Alerts.SlackWebhookURL))
	}
	if cfg.Alerts.PagerDutyRoutingKey != "" {
		sinks = append(sinks, alert.NewPagerDutySink("", cfg.Alerts.PagerDutyRoutingKey))
	}
	if cfg.Alerts.GenericWebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Alerts.GenericWebhookURL))
	}
	return sinks
}
