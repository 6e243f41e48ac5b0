package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scratchcards"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	draws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prizes",
			Name:      "draws_total",
			Help:      "Prize draws by outcome.",
		},
		[]string{"outcome"},
	)

	gridFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grids",
			Name:      "generation_failures_total",
			Help:      "Card faces that could not be generated without an unintended line.",
		},
	)

	cardsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cards",
			Name:      "provisioned_total",
			Help:      "Cards returned by provisioning, by how they were obtained.",
		},
		[]string{"result"},
	)

	cardReveals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cards",
			Name:      "reveals_total",
			Help:      "Cards scratched for the first time.",
		},
	)

	claimAuthorizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "authorizations_total",
			Help:      "Claim authorization attempts by result.",
		},
		[]string{"result"},
	)

	claimAuthorizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "authorization_duration_seconds",
			Help:      "Duration of a single claim authorization, hashing and signing included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	claimHashSource = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "hash_source_total",
			Help:      "Claim message hashes by the hasher that produced them.",
		},
		[]string{"source"},
	)

	claimsConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "confirmed_total",
			Help:      "Claim confirmations by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		draws,
		gridFailures,
		cardsProvisioned,
		cardReveals,
		claimAuthorizations,
		claimAuthorizationDuration,
		claimHashSource,
		claimsConfirmed,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordDraw counts one prize draw.
func RecordDraw(outcome string) {
	draws.WithLabelValues(outcome).Inc()
}

// RecordGridFailure counts a card face that could not be generated.
func RecordGridFailure() {
	gridFailures.Inc()
}

// RecordProvisioned counts provisioned cards; result is created, existing or conflict.
func RecordProvisioned(result string, n int) {
	if n <= 0 {
		return
	}
	cardsProvisioned.WithLabelValues(result).Add(float64(n))
}

// RecordReveal counts a first-time scratch.
func RecordReveal() {
	cardReveals.Inc()
}

// RecordClaimAuthorization records one authorization attempt.
func RecordClaimAuthorization(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	claimAuthorizations.WithLabelValues(result).Inc()
	claimAuthorizationDuration.Observe(duration.Seconds())
}

// RecordHashSource records which hasher produced a claim message hash.
func RecordHashSource(source string) {
	claimHashSource.WithLabelValues(source).Inc()
}

// RecordClaimConfirmed records one claim confirmation.
func RecordClaimConfirmed(result string) {
	claimsConfirmed.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses contract addresses and token ids so label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if i > 0 && parts[i-1] == "contracts" {
			parts[i] = ":contract"
			continue
		}
		if i > 0 && parts[i-1] == "cards" && p != "" {
			parts[i] = ":token"
		}
	}
	return "/" + strings.Join(parts, "/")
}
