package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tinytelemetry/metricgw/internal/health"
	"github.com/tinytelemetry/metricgw/internal/httpserver"
	"github.com/tinytelemetry/metricgw/internal/ingest"
	"github.com/tinytelemetry/metricgw/internal/instrument"
	"github.com/tinytelemetry/metricgw/internal/model"
	"github.com/tinytelemetry/metricgw/internal/ratelimit"
	"github.com/tinytelemetry/metricgw/internal/tcpserver"
)

// IngestSurface is a small plugin primitive for wiring processor-facing
// listeners.
type IngestSurface interface {
	Name() string
	Enabled() bool
	Start() error
	Stop() error
	Addr() string
}

// surfaceDeps are the shared collaborators every surface is built from.
type surfaceDeps struct {
	store   httpserver.MetricStore
	health  *health.Checker
	ready   model.Readiness
	limiter *ratelimit.Store
	metrics *instrument.Metrics
	logger  *zap.Logger
}

func buildSurfaces(cfg appConfig, deps surfaceDeps) []IngestSurface {
	return []IngestSurface{
		newHTTPSurface(cfg, deps),
		newTCPSurface(cfg, deps),
	}
}

type listener interface {
	Start() error
	Stop() error
	Addr() string
}

type surface struct {
	name    string
	enabled bool
	server  listener
}

func (s surface) Name() string  { return s.name }
func (s surface) Enabled() bool { return s.enabled }
func (s surface) Addr() string  { return s.server.Addr() }
func (s surface) Stop() error   { return s.server.Stop() }

func (s surface) Start() error {
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("start %s server: %w", s.name, err)
	}
	return nil
}

func newHTTPSurface(cfg appConfig, deps surfaceDeps) surface {
	hcfg := httpserver.Config{
		ReadyWait:      cfg.ReadyWait,
		MaxConnections: cfg.HTTPMaxConnections,
		Metrics:        deps.metrics,
	}
	if deps.limiter != nil {
		hcfg.Limiter = deps.limiter
	}
	return surface{
		name:    "http",
		enabled: cfg.HTTPEnabled,
		server:  httpserver.NewServer(cfg.HTTPAddr, deps.store, deps.health, deps.ready, hcfg, deps.logger),
	}
}

func newTCPSurface(cfg appConfig, deps surfaceDeps) surface {
	handler := ingest.NewTCPHandler(deps.store, deps.ready, ingest.HandlerConfig{
		ReadyWait: cfg.ReadyWait,
	}, deps.metrics, deps.logger)

	tcfg := tcpserver.ServerConfig{
		MaxFrameSize:   cfg.TCPMaxFrameSize,
		ReadTimeout:    cfg.TCPReadTimeout,
		MaxConnections: cfg.TCPMaxConnections,
	}
	if deps.limiter != nil {
		tcfg.Limiter = deps.limiter
	}
	if deps.metrics != nil {
		tcfg.OnRateLimited = func(string) {
			deps.metrics.FramesRejected.WithLabelValues(instrument.ReasonRateLimited).Inc()
		}
	}
	return surface{
		name:    "tcp",
		enabled: cfg.TCPEnabled,
		server:  tcpserver.NewServer(cfg.TCPAddr, handler, deps.logger, tcfg),
	}
}
