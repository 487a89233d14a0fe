package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"

	"ledgerkernel/config"
	"ledgerkernel/core"
	"ledgerkernel/core/events"
	"ledgerkernel/observability"
	"ledgerkernel/observability/logging"
	telemetry "ledgerkernel/observability/otel"
	"ledgerkernel/storage"
	"ledgerkernel/storage/substate"
)

const serviceName = "ledgerd"

// runtime is the state shared by every subcommand: configuration, logger,
// telemetry, the open database and the engine on top of it.
type runtime struct {
	configPath   string
	env          string
	allowMigrate bool

	cfg      *config.Config
	logger   *slog.Logger
	tel      *telemetry.Telemetry
	registry *prometheus.Registry
	metrics  *observability.KernelMetrics
	executed metric.Int64Counter
	server   *http.Server
	db       storage.Database
	engine   *core.Engine
}

func (rt *runtime) open(ctx context.Context) error {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.logger = logging.Setup(serviceName, rt.env, logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	exporting := cfg.Telemetry.Endpoint != ""
	rt.tel, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:   serviceName,
		Environment:   rt.env,
		SchemaVersion: uint64(substate.SchemaVersion),
		Endpoint:      cfg.Telemetry.Endpoint,
		Insecure:      cfg.Telemetry.Insecure,
		Headers:       telemetry.ParseHeaders(cfg.Telemetry.Headers),
		SampleRatio:   cfg.Telemetry.SampleRatio,
		Traces:        exporting,
		Metrics:       exporting,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	rt.executed, err = rt.tel.Meter.Int64Counter("ledgerd.transactions",
		metric.WithDescription("Transactions executed or previewed by ledgerd."))
	if err != nil {
		return err
	}

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if rt.metrics, err = observability.NewKernelMetrics(rt.registry, cfg.Metrics.Namespace); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.Metrics.Enabled {
		rt.serveMetrics(cfg.Metrics.Address)
	}

	db, err := openDatabase(cfg.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open %s database: %w", cfg.Backend, err)
	}
	rt.db = db
	rt.engine, err = core.NewEngine(rt.db, rt.engineOptions()...)
	if err != nil {
		return err
	}
	rt.logger.Debug("ledger opened", "backend", string(cfg.Backend), "dir", cfg.DataDir)
	return nil
}

func (rt *runtime) engineOptions() []core.EngineOption {
	return []core.EngineOption{
		core.WithLogger(rt.logger),
		core.WithMetrics(rt.metrics),
		core.WithTracer(rt.tel.Tracer),
		core.WithSchemaMigration(rt.allowMigrate),
		core.WithEmitter(logEmitter{logger: rt.logger}),
	}
}

// logEmitter writes committed ledger events to the debug log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(ev events.Event) {
	attrs := []any{"type", ev.EventType()}
	if rec, ok := ev.(events.Record); ok {
		attrs = append(attrs, "emitter", rec.Emitter.Short())
	}
	l.logger.Debug("ledger event", attrs...)
}

func (rt *runtime) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}), "metrics"))
	rt.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", "error", err)
		}
	}()
	rt.logger.Info("serving metrics", "component", "metrics", "address", addr)
}

func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	if rt.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, rt.server.Shutdown(shutdownCtx))
		cancel()
	}
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
	}
	if rt.tel != nil {
		errs = append(errs, rt.tel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// openDatabase opens the configured backend below dir.
func openDatabase(backend config.Backend, dir string) (storage.Database, error) {
	if backend == config.BackendMemory {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	switch backend {
	case config.BackendLevelDB:
		return storage.NewLevelDB(filepath.Join(dir, "leveldb"))
	case config.BackendPebble:
		return storage.NewPebbleDB(filepath.Join(dir, "pebble"))
	case config.BackendBolt:
		return storage.NewBoltDB(filepath.Join(dir, "ledger.db"), nil)
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}
