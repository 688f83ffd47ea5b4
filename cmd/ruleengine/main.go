// Package main is the rule engine's process entry point: it wires an
// Engine from environment configuration, starts it, and serves /healthz
// and /metrics until a termination signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruleforge/engine/engine"
	"github.com/ruleforge/engine/internal/engconfig"
	"github.com/ruleforge/engine/internal/engmetrics"
	"github.com/ruleforge/engine/internal/obslog"
	"github.com/ruleforge/engine/observability"
	"github.com/ruleforge/engine/reload"
)

func main() {
	cfg := engconfig.Load()
	logger := obslog.New("rule-engine", cfg.LogLevel, cfg.LogFormat)
	log := logger.WithFields(nil)

	metrics := engmetrics.New(prometheus.DefaultRegisterer)
	recorder := observability.NewSink(logger, metrics, nil)

	eng, err := engine.New(engine.Config{
		MaxForwardDepth: cfg.MaxForwardDepth,
		MaxConcurrency:  cfg.MaxConcurrency,
		QueueBuffer:     cfg.QueueBuffer,
		Recorder:        recorder,
		ReloadSources:   rulesSources(),
		ReloadInterval:  cfg.ReloadInterval,
	})
	if err != nil {
		log.WithError(err).Fatal("construct engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Fatal("start engine")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := eng.GetStats()
		if !stats.Running {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not running"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := engconfig.GetEnv("RULE_ENGINE_LISTEN_ADDR", ":8090")
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.WithField("addr", addr).Info("serving /healthz and /metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("engine shutdown")
	}
}

// rulesSources builds the reload sources the engine restores and watches
// rule definitions from, per RULE_ENGINE_RULES_GLOB (comma-separated).
func rulesSources() []reload.Source {
	raw := engconfig.GetEnv("RULE_ENGINE_RULES_GLOB", "")
	if raw == "" {
		return nil
	}
	return []reload.Source{reload.FileSource{Globs: strings.Split(raw, ","), Recursive: true}}
}
