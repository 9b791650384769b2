package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/tinytelemetry/metricgw/internal/instrument"
	"github.com/tinytelemetry/metricgw/internal/model"
)

const (
	// DefaultAddr is the control-processor HTTP port.
	DefaultAddr = "0.0.0.0:8080"

	DefaultReadyWait      = 10 * time.Second
	DefaultMaxConnections = 512
)

// MetricStore is the narrow store contract required by the HTTP API.
type MetricStore interface {
	model.MetricWriter
	model.MetricReader
}

// HealthChecker answers the liveness routes.
type HealthChecker interface {
	Check(ctx context.Context) model.HealthStatus
	Enabled(ctx context.Context) bool
}

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(key string) bool
}

// Config holds optional server collaborators and limits.
type Config struct {
	ReadyWait      time.Duration
	MaxConnections int
	Limiter        Limiter
	Metrics        *instrument.Metrics // nil disables /metrics and counters
}

// Server exposes the REST surface used by control processors.
type Server struct {
	addr     string
	store    MetricStore
	health   HealthChecker
	ready    model.Readiness
	cfg      Config
	logger   *zap.Logger
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer creates a new HTTP API server. ready may be nil, in which case
// writes go straight to the store.
func NewServer(addr string, store MetricStore, health HealthChecker, ready model.Readiness, cfg Config, logger *zap.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if cfg.ReadyWait <= 0 {
		cfg.ReadyWait = DefaultReadyWait
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		store:  store,
		health: health,
		ready:  ready,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "httpserver")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler builds the gin engine with every route and middleware.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger))
	if s.cfg.Metrics != nil {
		r.Use(observe(s.cfg.Metrics))
	}
	if s.cfg.Limiter != nil {
		r.Use(rateLimit(s.cfg.Limiter, s.logger))
	}

	r.GET("/", s.handleRoot)
	r.POST("/data", s.handleData)
	r.POST("/metric", s.handleMetric)
	r.GET("/data/recent", s.handleRecent)
	r.GET("/data/global/enable", s.handleEnable)
	r.GET("/check", s.handleCheck)
	r.GET("/status", s.handleStatus)
	if s.cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.cfg.Metrics.Handler()))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = netutil.LimitListener(listener, s.cfg.MaxConnections)

	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", s.Addr()))
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the active listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
