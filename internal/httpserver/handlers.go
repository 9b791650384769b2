package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinytelemetry/metricgw/internal/instrument"
	"github.com/tinytelemetry/metricgw/internal/model"
)

const (
	rootMessage  = "You have reached the dev proxy server"
	checkOK      = "DB Connection is good"
	checkFailure = "Could not connect to the Database.  \nThis message is returned from the proxy server \n%s"
)

// dataRequest is the body processors POST to /data. Key matching is
// case-insensitive, so their capitalized "Processor"/"Time" keys bind too.
type dataRequest struct {
	Processor string `json:"processor" binding:"required"`
	Time      string `json:"time" binding:"required"`
	Metric    string `json:"metric" binding:"required"`
	Action    string `json:"action" binding:"required"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, rootMessage)
}

func (s *Server) handleData(c *gin.Context) {
	var req dataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid JSON body or missing fields"})
		return
	}

	rec := model.MetricRecord{
		Subject:    req.Processor,
		Timestamp:  req.Time,
		MetricName: req.Metric,
		Action:     req.Action,
	}
	if status, msg := s.persist(c, rec); status != http.StatusOK {
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "200"})
}

func (s *Server) handleMetric(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON data"})
		return
	}

	rec := model.MetricRecord{
		Subject:    stringValue(body, "room"),
		Timestamp:  stringValue(body, "time"),
		MetricName: stringValue(body, "metric"),
		Action:     stringValue(body, "action"),
	}
	if rec.Validate() != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid fields in JSON data"})
		return
	}

	if status, _ := s.persist(c, rec); status != http.StatusOK {
		c.JSON(status, gin.H{"error": "Failed to insert data into database"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Success"})
}

// persist waits for the pool, writes rec and maps the outcome to a status.
func (s *Server) persist(c *gin.Context, rec model.MetricRecord) (int, string) {
	ctx := c.Request.Context()
	log := s.logger.With(zap.String("request_id", c.GetString(requestIDKey)), zap.String("room", rec.Subject))

	if s.ready != nil {
		wctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyWait)
		err := s.ready.WaitReady(wctx)
		cancel()
		if err != nil {
			log.Warn("database not ready", zap.Error(err))
			s.countWrite(false)
			return http.StatusServiceUnavailable, "database not ready"
		}
	}

	if err := s.store.WriteMetric(ctx, rec); err != nil {
		s.countWrite(false)
		switch {
		case errors.Is(err, model.ErrMalformedInput):
			return http.StatusUnprocessableEntity, err.Error()
		case errors.Is(err, model.ErrNotReady):
			log.Warn("database not ready", zap.Error(err))
			return http.StatusServiceUnavailable, "database not ready"
		default:
			log.Error("failed to write metric", zap.Error(err))
			return http.StatusInternalServerError, "failed to write metric"
		}
	}
	s.countWrite(true)
	return http.StatusOK, ""
}

func (s *Server) countWrite(ok bool) {
	if s.cfg.Metrics == nil {
		return
	}
	if ok {
		s.cfg.Metrics.MetricsWritten.WithLabelValues(instrument.SourceHTTP).Inc()
	} else {
		s.cfg.Metrics.WriteFailures.WithLabelValues(instrument.SourceHTTP).Inc()
	}
}

func (s *Server) handleRecent(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	records, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read recent metrics", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrConnectivity) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "failed to read recent metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// handleEnable is the fleet-wide kill switch processors poll before
// reporting. It answers with the JSON strings "True" or "False".
func (s *Server) handleEnable(c *gin.Context) {
	if s.health.Enabled(c.Request.Context()) {
		c.JSON(http.StatusOK, "True")
		return
	}
	c.JSON(http.StatusOK, "False")
}

func (s *Server) handleCheck(c *gin.Context) {
	status := s.health.Check(c.Request.Context())
	if status.OK {
		c.JSON(http.StatusOK, checkOK)
		return
	}
	c.JSON(http.StatusOK, fmt.Sprintf(checkFailure, status.Message))
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.health.Check(c.Request.Context())
	if status.OK {
		c.JSON(http.StatusOK, gin.H{"message": "Okay"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Error connecting to database :" + status.Message})
}

func stringValue(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}
