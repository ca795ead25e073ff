// Package api is the synchronous Control API surface over the
// coordinator: read endpoints for every component, write endpoints for
// operator actions, and the Prometheus exposition.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omni-platform/cladc/pkg/coordinator"
	"github.com/omni-platform/cladc/pkg/errkind"
)

// Server is the Control API HTTP server.
type Server struct {
	coord  *coordinator.Coordinator
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the server and its routes. When promReg is nil a
// dedicated registry with the standard process collectors is created.
func NewServer(coord *coordinator.Coordinator, promReg *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{coord: coord, engine: engine}

	if promReg == nil {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	coord.Monitor().EnablePrometheus(promReg)

	engine.Use(s.recordRequests())

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/events", s.listEvents)
		v1.GET("/events/summary", s.getDailySummary)
		v1.GET("/insights", s.listInsights)
		v1.GET("/patterns", s.listPatterns)
		v1.GET("/models", s.listModels)
		v1.GET("/models/:name/versions", s.getModelVersions)
		v1.GET("/tasks", s.listTasks)
		v1.GET("/alerts", s.listAlerts)
		v1.GET("/incidents", s.listIncidents)
		v1.GET("/reports", s.listReports)
		v1.GET("/docs", s.listDocs)

		v1.POST("/models/:name/improve", s.triggerImprovement)
		v1.POST("/models/:name/rollback", s.triggerRollback)
		v1.POST("/alerts/:id/acknowledge", s.acknowledgeAlert)
		v1.POST("/incidents/:id/resolve", s.resolveIncident)
		v1.POST("/health-check", s.triggerHealthCheck)
		v1.POST("/reports", s.generateReport)
		v1.POST("/ingest/events", s.ingestEvent)
		v1.POST("/ingest/experiences", s.ingestExperience)
		v1.POST("/buffers/flush", s.flushBuffers)
	}

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
	engine.GET("/healthz", s.healthz)

	return s
}

// Handler exposes the routed engine for embedding and tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Control API listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// recordRequests feeds every request into the monitoring subsystem's
// application metrics. Server errors count against the error rate.
func (s *Server) recordRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.coord.Monitor().RecordRequest(time.Since(start), c.Writer.Status() >= http.StatusInternalServerError)
	}
}

// apiError renders a typed error as {error: {kind, message}} with the
// kind-specific status code.
func apiError(c *gin.Context, err error) {
	kind := errkind.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errkind.Validation, errkind.Serialization:
		status = http.StatusBadRequest
	case errkind.NotFound:
		status = http.StatusNotFound
	case errkind.Conflict:
		status = http.StatusConflict
	case errkind.CapacityExceeded:
		status = http.StatusTooManyRequests
	case errkind.BusUnavailable, errkind.Timeout:
		status = http.StatusServiceUnavailable
	}
	if kind == "" {
		kind = "internal"
		slog.Error("Unexpected error on API surface", "error", err)
	}
	c.JSON(status, gin.H{"error": gin.H{"kind": string(kind), "message": err.Error()}})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
