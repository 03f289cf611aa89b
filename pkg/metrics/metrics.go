package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics tracks registry, election and certificate activity
type Metrics struct {
	// Membership
	RegistryMembers   prometheus.Gauge
	InstitutesRemoved prometheus.Counter

	// Elections
	ElectionsOpened    prometheus.Counter
	ElectionsActive    prometheus.Gauge
	ElectionsConcluded *prometheus.CounterVec
	VotesCast          *prometheus.CounterVec

	// Certificates
	CertificatesIssued    prometheus.Counter
	CertificatesCorrected prometheus.Counter
	TrustFailures         prometheus.Counter
	FilterRejections      prometheus.Counter

	// Operations
	OperationLatency  *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
	EventEmitFailures prometheus.Counter
}

// New creates and registers the metrics with registry. A nil registry means
// the default registerer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Metrics{
		RegistryMembers: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "accredit_registry_members",
			Help: "Number of institutes in the registry",
		}),
		InstitutesRemoved: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "accredit_institutes_removed_total",
			Help: "Total number of institutes removed by the authority",
		}),

		ElectionsOpened: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "accredit_elections_opened_total",
			Help: "Total number of admission elections opened",
		}),
		ElectionsActive: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "accredit_elections_active",
			Help: "Number of elections still collecting votes",
		}),
		ElectionsConcluded: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "accredit_elections_concluded_total",
			Help: "Total number of concluded elections by outcome",
		}, []string{"outcome"}),
		VotesCast: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "accredit_votes_cast_total",
			Help: "Total number of votes recorded",
		}, []string{"choice"}),

		CertificatesIssued: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "accredit_certificates_issued_total",
			Help: "Total number of certificates issued",
		}),
		CertificatesCorrected: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "accredit_certificates_corrected_total",
			Help: "Total number of certificate corrections",
		}),
		TrustFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "accredit_registry_trust_failures_total",
			Help: "Total number of requests presenting an untrusted registry",
		}),
		FilterRejections: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "accredit_certificate_filter_rejections_total",
			Help: "Total number of hash lookups answered by the issued-hash filter alone",
		}),

		OperationLatency: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accredit_operation_latency_seconds",
			Help:    "Latency of state-changing operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		OperationErrors: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "accredit_operation_errors_total",
			Help: "Total number of failed operations",
		}, []string{"operation"}),
		EventEmitFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "accredit_event_emit_failures_total",
			Help: "Total number of events that could not be published",
		}),
	}
}

// Observe records the outcome of one operation started at start
func (m *Metrics) Observe(operation string, start time.Time, err error) {
	m.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(operation).Inc()
	}
}

func voteChoice(inFavor bool) string {
	if inFavor {
		return "for"
	}
	return "against"
}

func (m *Metrics) RecordVote(inFavor bool) {
	m.VotesCast.WithLabelValues(voteChoice(inFavor)).Inc()
}

// RecordConclusion moves an election out of the active set
func (m *Metrics) RecordConclusion(approved bool) {
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	m.ElectionsConcluded.WithLabelValues(outcome).Inc()
	m.ElectionsActive.Dec()
}

// Endpoint serves metrics and liveness and readiness checks
type Endpoint struct {
	gatherer prometheus.Gatherer
	ready    func() error
	logger   *zap.Logger
}

// NewEndpoint creates the HTTP handlers. ready may be nil, in which case the
// service always reports ready.
func NewEndpoint(gatherer prometheus.Gatherer, ready func() error, logger *zap.Logger) *Endpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Endpoint{gatherer: gatherer, ready: ready, logger: logger}
}

func (e *Endpoint) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health/live", e.handleLiveness)
	mux.HandleFunc("/health/ready", e.handleReadiness)
	mux.Handle("/metrics", promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{}))
}

func (e *Endpoint) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (e *Endpoint) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if e.ready != nil {
		if err := e.ready(); err != nil {
			e.logger.Debug("Readiness check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// StartServer serves the endpoint on addr in the background
func StartServer(addr string, endpoint *Endpoint, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	endpoint.RegisterHandlers(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}

// AlertingRules returns Prometheus alerting rule templates for the service
func AlertingRules() string {
	return `
groups:
  - name: accredit
    rules:
      - alert: UntrustedRegistryPresented
        expr: increase(accredit_registry_trust_failures_total[10m]) > 0
        labels:
          severity: warning
        annotations:
          summary: "Certificate requests presented an untrusted registry"

      - alert: EventPublishFailing
        expr: increase(accredit_event_emit_failures_total[5m]) > 0
        labels:
          severity: warning
        annotations:
          summary: "Audit events are not being recorded"

      - alert: ElectionsStalled
        expr: accredit_elections_active > 0 and increase(accredit_votes_cast_total[24h]) == 0
        labels:
          severity: info
        annotations:
          summary: "Open elections have received no votes for a day"
`
}
