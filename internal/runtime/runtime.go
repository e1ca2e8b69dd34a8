// Package runtime composes the synthd service: telemetry, record feed,
// journal, admission, orchestrator and the HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cadenza-labs/synthd/internal/admission"
	"github.com/cadenza-labs/synthd/internal/bus"
	"github.com/cadenza-labs/synthd/internal/config"
	"github.com/cadenza-labs/synthd/internal/journal"
	"github.com/cadenza-labs/synthd/internal/metrics"
	"github.com/cadenza-labs/synthd/internal/natsserver"
	"github.com/cadenza-labs/synthd/internal/synth"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer   *http.Server
	metricServer *http.Server
	tracerClose  func(context.Context) error

	natsServer   *natsserver.EmbeddedServer
	busClient    *bus.Client
	store        *journal.Store
	recorder     *metrics.Recorder
	orchestrator *synth.Orchestrator

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var sinks []metrics.Sink

	if r.cfg.Bus.Enabled {
		ns, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		r.natsServer = ns

		client, err := bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			r.natsServer.Shutdown()
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.busClient = client
		sinks = append(sinks, bus.NewRecordPublisher(client, r.cfg.Bus.MetricsSubject, r.logger))
	}

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.store = store
	sinks = append(sinks, store)

	r.recorder = metrics.NewRecorder(r.logger, sinks...)

	registry, err := synth.NewRegistry(r.cfg.Models)
	if err != nil {
		return fmt.Errorf("failed to build model registry: %w", err)
	}
	gate := admission.NewGate(registry.Capacities())
	r.orchestrator = synth.NewOrchestrator(r.cfg.Synthesis, registry, gate, r.recorder, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealthz)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/health", r.handleHealth)
	mux.HandleFunc("/synthesize", r.handleSynthesize)
	mux.HandleFunc("/warmup", r.handleWarmup)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricMux := http.NewServeMux()
		metricMux.Handle("/metrics", metricHandler)
		r.metricServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("synthd started",
		slog.String("addr", addr),
		slog.Bool("bus", r.cfg.Bus.Enabled),
		slog.String("journal", r.cfg.Journal.RetentionMode))

	<-ctx.Done()
	r.logger.Info("synthd stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricServer != nil {
		if err := r.metricServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if err := r.store.Close(); err != nil {
		r.logger.Error("journal close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	r.natsServer.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}
