package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP module (simplified)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "http",
			Name:      "request_total",
			Help:      "Total number of HTTP requests by method and path",
		},
		[]string{"method", "path", "code"},
	)

	// Login attempts by provider and result (success, failure, denied)
	loginAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatehouse",
		Subsystem: "auth",
		Name:      "login_total",
		Help:      "Login attempts by provider and result",
	}, []string{"provider", "result"})

	// Organization membership checks by result (member, denied, cached, error)
	orgChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatehouse",
		Subsystem: "auth",
		Name:      "org_check_total",
		Help:      "Organization membership checks by result",
	}, []string{"result"})

	// Duration of the outbound organization-listing call
	orgCheckDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "gatehouse",
		Subsystem: "auth",
		Name:      "org_check_seconds",
		Help:      "Duration of the organization membership check",
	})

	// Errors consumed from the error endpoint
	authErrorsServed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gatehouse",
		Subsystem: "auth",
		Name:      "errors_served_total",
		Help:      "Number of auth error messages delivered to clients",
	})
)

var initOnce sync.Once

// Init registers the collectors (idempotent).
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpRequestsTotal)
		prometheus.MustRegister(loginAttemptsTotal)
		prometheus.MustRegister(orgChecksTotal)
		prometheus.MustRegister(orgCheckDuration)
		prometheus.MustRegister(authErrorsServed)
	})
}

// Handler returns a Prometheus metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

// IncHTTP increments HTTP request counters.
func IncHTTP(method, path, code string) {
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
}

// IncLogin increments login attempt counters.
func IncLogin(provider, result string) {
	loginAttemptsTotal.WithLabelValues(provider, result).Inc()
}

// IncOrgCheck increments org check counters.
func IncOrgCheck(result string) {
	orgChecksTotal.WithLabelValues(result).Inc()
}

// ObserveOrgCheck records the duration of one org membership check.
func ObserveOrgCheck(seconds float64) {
	orgCheckDuration.Observe(seconds)
}

// IncAuthErrorServed counts delivered auth error messages.
func IncAuthErrorServed() {
	authErrorsServed.Inc()
}
