package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/metricgw/internal/instrument"
	"github.com/tinytelemetry/metricgw/internal/model"
)

// DefaultReadyWait is how long a frame may wait for the database pool.
const DefaultReadyWait = 10 * time.Second

// HandlerConfig tunes TCPHandler.
type HandlerConfig struct {
	ReadyWait time.Duration
}

// TCPHandler parses, validates and persists frames handed over by the TCP
// server. Frames that fail are logged and counted; nothing is reported back
// to the peer.
type TCPHandler struct {
	writer    model.MetricWriter
	ready     model.Readiness
	readyWait time.Duration
	metrics   *instrument.Metrics
	logger    *zap.Logger
}

// NewTCPHandler builds a handler. ready and metrics may be nil.
func NewTCPHandler(writer model.MetricWriter, ready model.Readiness, cfg HandlerConfig, metrics *instrument.Metrics, logger *zap.Logger) *TCPHandler {
	if cfg.ReadyWait <= 0 {
		cfg.ReadyWait = DefaultReadyWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPHandler{
		writer:    writer,
		ready:     ready,
		readyWait: cfg.ReadyWait,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "ingest")),
	}
}

// HandleFrame implements tcpserver.FrameHandler.
func (h *TCPHandler) HandleFrame(ctx context.Context, frame model.IngestFrame) {
	_ = h.Process(ctx, frame)
}

// Process runs one frame through parse, readiness wait and write.
func (h *TCPHandler) Process(ctx context.Context, frame model.IngestFrame) error {
	log := h.logger.With(
		zap.String("conn_id", frame.ConnID),
		zap.String("remote", frame.RemoteAddr))
	h.received()

	if frame.Truncated {
		log.Warn("frame exceeded size cap and was truncated",
			zap.Int("size", len(frame.Payload)))
		h.rejected(instrument.ReasonTruncated)
	}

	receivedAt := frame.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	rec, err := ParseFrame(frame.Payload, receivedAt)
	if err != nil {
		log.Warn("dropping malformed frame",
			zap.ByteString("payload", frame.Payload),
			zap.Error(err))
		h.rejected(instrument.ReasonMalformed)
		return err
	}

	if h.ready != nil {
		wctx, cancel := context.WithTimeout(ctx, h.readyWait)
		err := h.ready.WaitReady(wctx)
		cancel()
		if err != nil {
			log.Error("database not ready, dropping metric",
				zap.String("room", rec.Subject),
				zap.Error(err))
			h.rejected(instrument.ReasonNotReady)
			if !errors.Is(err, model.ErrConnectivity) {
				err = fmt.Errorf("%w: %w", model.ErrConnectivity, err)
			}
			return err
		}
	}

	if err := h.writer.WriteMetric(ctx, rec); err != nil {
		log.Error("failed to write metric",
			zap.String("room", rec.Subject),
			zap.Error(err))
		if h.metrics != nil {
			h.metrics.WriteFailures.WithLabelValues(instrument.SourceTCP).Inc()
		}
		return err
	}

	if h.metrics != nil {
		h.metrics.MetricsWritten.WithLabelValues(instrument.SourceTCP).Inc()
	}
	log.Info("metric received",
		zap.String("room", rec.Subject),
		zap.String("metric", rec.MetricName),
		zap.String("action", rec.Action))
	return nil
}

func (h *TCPHandler) received() {
	if h.metrics != nil {
		h.metrics.FramesReceived.Inc()
	}
}

func (h *TCPHandler) rejected(reason string) {
	if h.metrics != nil {
		h.metrics.FramesRejected.WithLabelValues(reason).Inc()
	}
}
