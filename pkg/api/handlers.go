package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
)

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Status(c.Request.Context()))
}

func (s *Server) listEvents(c *gin.Context) {
	filters := models.EventFilters{
		Angel:  c.Query("angel"),
		Domain: c.Query("domain"),
		Limit:  intQuery(c, "limit", 100),
	}
	if since, ok := timeQuery(c, "since"); ok {
		filters.Since = &since
	} else if c.Query("since") != "" {
		apiError(c, errkind.New(errkind.Validation, "api", "since must be RFC3339"))
		return
	}
	c.JSON(http.StatusOK, s.coord.Events().Query(filters))
}

func (s *Server) getDailySummary(c *gin.Context) {
	filters := models.EventFilters{
		Angel:  c.Query("angel"),
		Domain: c.Query("domain"),
	}
	c.JSON(http.StatusOK, s.coord.Events().DailySummary(filters))
}

func (s *Server) listInsights(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Events().Insights())
}

func (s *Server) listPatterns(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Events().PatternAnalysis())
}

func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Registry().List())
}

func (s *Server) getModelVersions(c *gin.Context) {
	model, err := s.coord.Registry().Lookup(c.Param("name"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model":              model.Name,
		"version":            model.Version.String(),
		"deployment_history": model.DeploymentHistory,
		"backups":            model.Backups,
	})
}

func (s *Server) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Pipeline().Tasks())
}

func (s *Server) listAlerts(c *gin.Context) {
	filters := models.AlertFilters{
		Monitor:  c.Query("monitor"),
		Severity: models.AlertSeverity(c.Query("severity")),
		Limit:    intQuery(c, "limit", 0),
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			apiError(c, errkind.New(errkind.Validation, "api", "active must be a boolean"))
			return
		}
		filters.Active = &active
	}
	c.JSON(http.StatusOK, s.coord.Monitor().Alerts(filters))
}

func (s *Server) listIncidents(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Monitor().Incidents())
}

func (s *Server) listReports(c *gin.Context) {
	filters := models.ReportFilters{
		Type:  models.ReportType(c.Query("type")),
		Limit: intQuery(c, "limit", 0),
	}
	if since, ok := timeQuery(c, "since"); ok {
		filters.Since = &since
	}
	c.JSON(http.StatusOK, s.coord.Reports().Reports(filters))
}

// listDocs returns the generated documentation reports, newest-first.
func (s *Server) listDocs(c *gin.Context) {
	docs := s.coord.Reports().Reports(models.ReportFilters{Type: models.ReportAPIDocumentation, Limit: 1})
	arch := s.coord.Reports().Reports(models.ReportFilters{Type: models.ReportSystemArchitecture, Limit: 1})
	c.JSON(http.StatusOK, gin.H{
		"api_documentation":   docs,
		"system_architecture": arch,
	})
}

// improveRequest is the body of POST /models/:name/improve.
type improveRequest struct {
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
	Rigorous bool   `json:"rigorous"`
}

func (s *Server) triggerImprovement(c *gin.Context) {
	var req improveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apiError(c, errkind.Wrap(errkind.Validation, "api", err, "invalid improve request"))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}
	priority := models.PriorityMedium
	if req.Priority != "" {
		priority = models.TaskPriority(req.Priority)
	}

	task, err := s.coord.Pipeline().Trigger(c.Param("name"),
		models.TaskIssue{Kind: "manual", Severity: "medium", Description: req.Reason},
		priority, req.Rigorous)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (s *Server) triggerRollback(c *gin.Context) {
	model, err := s.coord.Registry().Rollback(c.Request.Context(), c.Param("name"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	alert, err := s.coord.Monitor().AcknowledgeAlert(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// resolveRequest is the body of POST /incidents/:id/resolve.
type resolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

func (s *Server) resolveIncident(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errkind.Wrap(errkind.Validation, "api", err, "resolution is required"))
		return
	}
	incident, err := s.coord.Monitor().ResolveIncident(c.Param("id"), req.Resolution)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (s *Server) triggerHealthCheck(c *gin.Context) {
	s.coord.Monitor().ManagementTick(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":    "completed",
		"incidents": len(s.coord.Monitor().Incidents()),
	})
}

// generateReportRequest is the body of POST /reports.
type generateReportRequest struct {
	Type    string   `json:"type" binding:"required"`
	Formats []string `json:"formats"`
	Period  string   `json:"period"`
}

func (s *Server) generateReport(c *gin.Context) {
	var req generateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errkind.Wrap(errkind.Validation, "api", err, "report type is required"))
		return
	}

	opts := models.GenerateOptions{Author: "operator"}
	for _, f := range req.Formats {
		opts.Formats = append(opts.Formats, models.ReportFormat(f))
	}
	if req.Period != "" {
		period, err := time.ParseDuration(req.Period)
		if err != nil {
			apiError(c, errkind.New(errkind.Validation, "api", "period must be a duration"))
			return
		}
		opts.Period = period
	}

	report, err := s.coord.Reports().Generate(c.Request.Context(), models.ReportType(req.Type), opts)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

func (s *Server) ingestEvent(c *gin.Context) {
	var event models.LearningEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		apiError(c, errkind.Wrap(errkind.Validation, "api", err, "invalid learning event"))
		return
	}
	if err := s.coord.PublishLearningEvent(c.Request.Context(), event); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "published"})
}

func (s *Server) ingestExperience(c *gin.Context) {
	var exp models.Experience
	if err := c.ShouldBindJSON(&exp); err != nil {
		apiError(c, errkind.Wrap(errkind.Validation, "api", err, "invalid experience"))
		return
	}
	if err := s.coord.PublishExperience(c.Request.Context(), exp); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "published"})
}

func (s *Server) flushBuffers(c *gin.Context) {
	delivered, failed := s.coord.Buffer().FlushAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"batches_delivered": delivered,
		"batches_dropped":   failed,
		"buffered":          s.coord.Buffer().Len(),
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
