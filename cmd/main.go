package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/okian/gigtrust/internal/adapters/http/api"
	"github.com/okian/gigtrust/internal/adapters/http/swagger"
	"github.com/okian/gigtrust/internal/adapters/notify"
	"github.com/okian/gigtrust/internal/adapters/repository"
	app "github.com/okian/gigtrust/internal/app"
	"github.com/okian/gigtrust/internal/config"
	"github.com/okian/gigtrust/pkg/logger"
	"github.com/okian/gigtrust/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Default Go collectors live on the default registry; ours is separate.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gigtrust",
		Short:         "Trust and reputation engine for a gig marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(rescoreCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(loadCmd())
	return root
}

// setup loads configuration and initializes logging.
func setup(ctx context.Context) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.InitWith(os.Stderr, logger.Format(cfg.LogFormat)); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	l := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		l.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, l, nil
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.DBDriver == config.DriverMemory {
		return repository.NewMemoryStore(), nil
	}
	store, err := repository.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openDispatcher builds the configured notification channel.
func openDispatcher(ctx context.Context, cfg *config.Config) (notify.Dispatcher, error) {
	if cfg.Notifier == config.NotifierRedis {
		return notify.NewRedisDispatcher(ctx, cfg.RedisAddr, cfg.RedisChannel)
	}
	return notify.NewLogDispatcher(logger.Named("notify")), nil
}

// newService wires a Service from configuration. The caller closes store
// and dispatcher.
func newService(cfg *config.Config, l logger.Logger, store repository.Store, d notify.Dispatcher) *app.Service {
	return app.New(
		app.WithLogger(l),
		app.WithStore(store),
		app.WithDispatcher(d),
		app.WithWorkerCount(cfg.RescoreWorkers),
		app.WithQueueSize(cfg.RescoreQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithScoreWindow(cfg.ScoreWindow),
		app.WithOverdueAfter(cfg.OverdueAfter),
		app.WithOverduePenalty(cfg.OverduePenalty),
		app.WithSweepBatchSize(cfg.SweepBatchSize),
		app.WithSweepTimeout(cfg.SweepTimeout),
		app.WithSweepInterval(cfg.SweepInterval),
		app.WithImpacts(cfg.Impacts),
	)
}

// withService runs fn against a fully wired, unstarted service.
func withService(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, l logger.Logger, svc *app.Service) error) error {
	cfg, l, err := setup(ctx)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	d, err := openDispatcher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open notifier: %w", err)
	}
	defer d.Close()

	return fn(ctx, cfg, l, newService(cfg, l, store, d))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, rescore workers and optional sweep ticker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), serve)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, l logger.Logger, svc *app.Service) error {
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			l.Error(stopCtx, "service stop failed", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	apiServer := api.NewServer(svc, svc,
		api.WithAdminToken(cfg.AdminToken),
		api.WithCronSecret(cfg.CronSecret),
		api.WithLogger(l.Named("api")),
	)
	apiServer.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	l.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	l.Info(shutdownCtx, "server stopped")
	return nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes queue gauges from the service stats.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if workerCount, ok := stats["workerCount"].(int); ok && stats["started"] == true {
		metrics.UpdateWorkerActiveCount(workerCount)
	}
}
