package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/omni-platform/cladc/pkg/models"
)

// promMetrics exports the monitoring state to Prometheus under the
// cladc_ prefix.
type promMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	activeAlerts    prometheus.Gauge
	openIncidents   prometheus.Gauge
	bufferedSamples prometheus.Gauge
}

// EnablePrometheus registers the service's collectors with reg.
func (s *Service) EnablePrometheus(reg prometheus.Registerer) {
	pm := &promMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cladc_api_requests_total",
			Help: "Control API requests by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cladc_api_request_duration_seconds",
			Help:    "Control API request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		activeAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cladc_active_alerts",
			Help: "Currently active alerts.",
		}),
		openIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cladc_open_incidents",
			Help: "Incidents not yet recovered or resolved.",
		}),
		bufferedSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cladc_metric_samples",
			Help: "Buffered metric samples.",
		}),
	}
	reg.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.activeAlerts,
		pm.openIncidents,
		pm.bufferedSamples,
	)
	s.prom = pm
}

func (p *promMetrics) observeRequest(d time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	p.requestsTotal.WithLabelValues(outcome).Inc()
	p.requestDuration.Observe(d.Seconds())
}

func (p *promMetrics) setGauges(s *Service) {
	p.activeAlerts.Set(float64(len(s.alerts.activeSnapshot())))

	var open int
	for _, inc := range s.incidents.list() {
		if inc.Status == models.IncidentDetected || inc.Status == models.IncidentInvestigating {
			open++
		}
	}
	p.openIncidents.Set(float64(open))
	p.bufferedSamples.Set(float64(s.metrics.len()))
}
