package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kanivox/kanivox/internal/bus"
	"github.com/kanivox/kanivox/internal/catalog"
	"github.com/kanivox/kanivox/internal/config"
	"github.com/kanivox/kanivox/internal/download"
	"github.com/kanivox/kanivox/internal/engine"
	"github.com/kanivox/kanivox/internal/history"
	"github.com/kanivox/kanivox/internal/httpapi"
	"github.com/kanivox/kanivox/internal/hub"
	"github.com/kanivox/kanivox/internal/natsserver"
	"github.com/kanivox/kanivox/internal/outputs"
	"github.com/kanivox/kanivox/internal/registry"
	"github.com/kanivox/kanivox/internal/synth"
)

// Runtime owns the whole service graph. Everything is constructed once in
// Start and passed by reference; there is no global mutable state.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
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

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := os.MkdirAll(r.cfg.Paths.ModelsDir, 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}

	var embedded *natsserver.EmbeddedServer
	var events *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
		}
		events, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("connect to bus: %w", err)
		}
	}
	defer embedded.Shutdown()
	defer events.Close()

	eng, err := buildEngine(r.cfg.Synthesis)
	if err != nil {
		return err
	}

	cat := catalog.New(r.cfg.Paths.ModelsDir)
	reg := registry.New(cat, eng, r.cfg.Synthesis.SampleRate, r.logger)
	defer reg.Close()

	out, err := outputs.New(r.cfg.Paths.OutputDir)
	if err != nil {
		return err
	}

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer hist.Close()

	fetcher := hub.NewClient(r.cfg.Download.Endpoint, r.cfg.Download.Token)
	tracker := download.New(cat, fetcher, reg,
		time.Duration(r.cfg.Download.PollIntervalMS)*time.Millisecond, events, r.logger)

	orch := synth.NewOrchestrator(r.cfg.Synthesis, cat, reg, out, hist, events, r.logger)

	api := httpapi.NewServer(r.cfg.Synthesis, cat, reg, tracker, orch, out, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           httpapi.CORS(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Any("models", cat.Keys()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildEngine(cfg config.SynthesisConfig) (engine.Engine, error) {
	switch cfg.Mode {
	case "exec":
		return engine.NewExecEngine(cfg.Command)
	default:
		return engine.NewMockEngine(cfg.SampleRate), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
