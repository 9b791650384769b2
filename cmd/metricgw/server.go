package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/metricgw/internal/dbpool"
	"github.com/tinytelemetry/metricgw/internal/health"
	"github.com/tinytelemetry/metricgw/internal/instrument"
	"github.com/tinytelemetry/metricgw/internal/logging"
	"github.com/tinytelemetry/metricgw/internal/model"
	"github.com/tinytelemetry/metricgw/internal/ratelimit"
	"github.com/tinytelemetry/metricgw/internal/store"
)

// runServer wires the pool, store and ingest surfaces and blocks until a
// shutdown signal.
func runServer(cfg appConfig) error {
	logger, cleanupLogger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanupLogger()

	dialect, err := dbpool.LookupDialect(cfg.DBDriver)
	if err != nil {
		return err
	}

	var metrics *instrument.Metrics
	if cfg.MetricsEnabled {
		metrics = instrument.New()
	}

	dsn := cfg.dataSource(dialect)
	pool := dbpool.New(dbpool.Config{
		Dialect:         dialect,
		DSN:             dsn,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		RetryInterval:   cfg.DBRetryInterval,
		ConnectTimeout:  cfg.DBConnectTimeout,
		OnRetry: func(int, error) {
			if metrics != nil {
				metrics.PoolInitRetries.Inc()
			}
		},
	}, logger)
	if metrics != nil {
		metrics.RegisterPool(pool)
	}

	executor := store.NewExecutor(pool, cfg.QueryTimeout)
	executor.Logger = logger
	metricStore, err := store.NewMetricStore(executor, dialect, cfg.DBTable, logger)
	if err != nil {
		return err
	}

	checker, err := health.NewChecker(metricStore, health.Config{
		Timeout:  cfg.HealthTimeout,
		CacheTTL: cfg.HealthCacheTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize health checker: %w", err)
	}
	defer checker.Close()

	limiter := ratelimit.NewStore(ratelimit.Config{
		RPS:       cfg.RateLimitRPS,
		Burst:     cfg.RateLimitBurst,
		ExpiresIn: cfg.RateLimitExpire,
	})

	surfaces := buildSurfaces(cfg, surfaceDeps{
		store:   metricStore,
		health:  checker,
		ready:   pool,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	})

	// Listeners come up before the database so processors can connect while
	// the pool is still retrying; writes wait for readiness.
	started := make([]IngestSurface, 0, len(surfaces))
	stopSurfaces := func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(); err != nil {
				logger.Warn("stop surface", zap.String("surface", started[i].Name()), zap.Error(err))
			}
		}
		started = nil
	}
	for _, s := range surfaces {
		if !s.Enabled() {
			continue
		}
		if err := s.Start(); err != nil {
			stopSurfaces()
			_ = pool.Shutdown()
			return err
		}
		started = append(started, s)
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg, started, dialect.Redact(dsn))
	logger.Info("metric gateway started",
		zap.String("version", version),
		zap.String("driver", dialect.Name),
		zap.String("table", metricStore.Table()))

	g, gctx := errgroup.WithContext(ctx)

	// Pool startup retries until the database answers or we shut down.
	g.Go(func() error {
		err := pool.Initialize(gctx)
		if errors.Is(err, model.ErrPoolClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}

	cancel()
	stopSurfaces()
	if err := pool.Shutdown(); err != nil {
		logger.Warn("pool shutdown", zap.Error(err))
	}

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)
	logger.Info("metric gateway stopped")
	return nil
}

func printStartupBanner(cfg appConfig, started []IngestSurface, dsn string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╦╗╔═╗╔╦╗╦═╗╦╔═╗╔═╗╦ ╦
    ║║║║╣  ║ ╠╦╝║║  ║ ╦║║║
    ╩ ╩╚═╝ ╩ ╩╚═╩╚═╝╚═╝╚╩╝`)

	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Ingest"), "")
	addrs := make(map[string]string, len(started))
	for _, s := range started {
		addrs[s.Name()] = s.Addr()
	}
	for _, name := range []string{"http", "tcp"} {
		label := fmt.Sprintf("%-14s", strings.ToUpper(name))
		if addr, ok := addrs[name]; ok {
			lines = append(lines, fmt.Sprintf("    %s  %s %s", check, label, cyan.Render(addr)))
		} else {
			lines = append(lines, fmt.Sprintf("    %s  %s %s", dot, label, dim.Render("disabled")))
		}
	}
	if cfg.MetricsEnabled && cfg.HTTPEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Prometheus     %s", check, dim.Render("/metrics")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Prometheus     %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Database"), "")
	lines = append(lines, fmt.Sprintf("    %s  Driver         %s", check, dim.Render(cfg.DBDriver)))
	lines = append(lines, fmt.Sprintf("    %s  Target         %s", check, dim.Render(dsn)))
	lines = append(lines, fmt.Sprintf("    %s  Table          %s", check, dim.Render(cfg.DBTable)))
	lines = append(lines, fmt.Sprintf("    %s  Pool           %s", check,
		dim.Render(fmt.Sprintf("%d conns, retry every %s", cfg.DBMaxOpenConns, cfg.DBRetryInterval))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(cfg.ConfigPath)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}
