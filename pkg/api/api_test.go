package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omni-platform/cladc/pkg/bus"
	"github.com/omni-platform/cladc/pkg/capability"
	"github.com/omni-platform/cladc/pkg/config"
	"github.com/omni-platform/cladc/pkg/coordinator"
	"github.com/omni-platform/cladc/pkg/models"
)

type apiEnv struct {
	server *Server
	coord  *coordinator.Coordinator
	kafka  *bus.MemBackend
	amqp   *bus.MemBackend
}

// newAPIEnv runs a full coordinator over in-memory backends behind the
// HTTP surface. The periodic loops tick at production intervals so they
// stay quiet for the duration of a test.
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Paths.ReportsDir = t.TempDir()
	cfg.Paths.DocsDir = t.TempDir()

	kafka := bus.NewMemBackend()
	amqp := bus.NewMemBackend()
	adapter := bus.NewAdapter(bus.DefaultRoutingTable(), map[bus.BackendKind]bus.Backend{
		bus.KindKafka: kafka,
		bus.KindAMQP:  amqp,
	}, 10*time.Millisecond, 100*time.Millisecond)

	sim := capability.NewSimulator(1)
	sim.Noise = 0

	coord, err := coordinator.New(cfg, adapter, sim, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(func() { coord.Stop(ctx) })

	return &apiEnv{
		server: NewServer(coord, prometheus.NewRegistry()),
		coord:  coord,
		kafka:  kafka,
		amqp:   amqp,
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %s", rec.Body.String())
	kind, _ := errObj["kind"].(string)
	return kind
}

func TestStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["degraded"])
	assert.Contains(t, body, "bus")
	assert.Contains(t, body, "counts")
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestIngestEventRoundTrip(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/ingest/events", map[string]any{
		"angel":  "LearningAngel",
		"domain": "traffic",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/events?angel=LearningAngel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []models.LearningEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "traffic", events[0].Domain)
}

func TestIngestEventWithoutAngelRejected(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/ingest/events", map[string]any{
		"domain": "traffic",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", errorKind(t, rec))
}

func TestIngestUnavailableBusMapsTo503(t *testing.T) {
	env := newAPIEnv(t)
	env.kafka.SetAvailable(false)

	rec := env.do(t, http.MethodPost, "/api/v1/ingest/events", map[string]any{
		"angel": "LearningAngel",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "bus_unavailable", errorKind(t, rec))
}

func TestUnknownModelVersionsReturns404(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/models/no_such_model/versions", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorKind(t, rec))
}

func TestImproveConflictsWhileTaskLive(t *testing.T) {
	env := newAPIEnv(t)
	require.NoError(t, env.coord.Registry().Register(models.Model{
		Name:               models.AlgorithmQLearning,
		Version:            models.Version{Major: 1},
		CurrentPerformance: 0.72,
	}))

	rec := env.do(t, http.MethodPost, "/api/v1/models/q_learning/improve", map[string]any{
		"reason": "operator smoke test",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/models/q_learning/improve", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorKind(t, rec))
}

func TestGenerateReportEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/reports", map[string]any{
		"type":    "system_status",
		"formats": []string{"markdown"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, models.ReportSystemStatus, report.Type)
	assert.NotEmpty(t, report.ID)

	rec = env.do(t, http.MethodGet, "/api/v1/reports?type=system_status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reports []models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
}

func TestGenerateReportUnknownTypeReturns400(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/reports", map[string]any{
		"type": "quarterly_review",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", errorKind(t, rec))
}

func TestAlertsActiveFilterValidation(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/alerts?active=sometimes", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", errorKind(t, rec))

	rec = env.do(t, http.MethodGet, "/api/v1/alerts?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFlushBuffersDeliversExperiences(t *testing.T) {
	env := newAPIEnv(t)

	for range 3 {
		rec := env.do(t, http.MethodPost, "/api/v1/ingest/experiences", map[string]any{
			"agent_id":  "agent-1",
			"algorithm": "q_learning",
			"reward":    1.0,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/buffers/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["batches_delivered"])
	assert.Equal(t, float64(0), body["batches_dropped"])
	assert.Equal(t, float64(0), body["buffered"])
}

func TestMetricsExposition(t *testing.T) {
	env := newAPIEnv(t)

	// Generate one request so the counter vector has a sample.
	env.do(t, http.MethodGet, "/api/v1/status", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cladc_api_requests_total")
}

func TestResolveIncidentRequiresResolution(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/incidents/inc-1/resolve", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", errorKind(t, rec))

	rec = env.do(t, http.MethodPost, "/api/v1/incidents/inc-1/resolve", map[string]any{
		"resolution": "manually restarted",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
