// Package metrics exposes Prometheus instrumentation for the HTTP server and
// the glosa engine.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicflow/tiss/internal/tiss"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Engine metrics
	guidesValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiss_guides_validated_total",
			Help: "Total number of guides validated",
		},
		[]string{"result"},
	)

	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiss_risk_analyses_total",
			Help: "Total number of glosa risk analyses by operator and risk level",
		},
		[]string{"operator", "risk_level"},
	)

	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiss_predicted_issues_total",
			Help: "Predicted glosa issues by producing stage",
		},
		[]string{"source"},
	)

	analysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiss_risk_analysis_duration_seconds",
			Help:    "Time to analyze one guide, including the augmentor",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"operator"},
	)

	augmentorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiss_augmentor_failures_total",
			Help: "Augmentor calls that produced no predictions because of a failure",
		},
		[]string{"reason"},
	)

	autoFixChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiss_autofix_changes_total",
			Help: "Total number of field changes applied by auto-fix",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route template.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Recorder feeds engine observations into Prometheus. It implements
// tiss.Recorder.
type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (*Recorder) ObserveAnalysis(operator string, risk tiss.GlosaRisk, elapsed time.Duration) {
	analysesTotal.WithLabelValues(operator, string(risk.RiskLevel)).Inc()
	analysisDuration.WithLabelValues(operator).Observe(elapsed.Seconds())
	for _, p := range risk.PredictedIssues {
		predictionsTotal.WithLabelValues(string(p.Source)).Inc()
	}
}

func (*Recorder) ObserveAugmentorFailure(reason string) {
	augmentorFailures.WithLabelValues(reason).Inc()
}

// RecordValidation counts one validated guide.
func RecordValidation(valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	guidesValidated.WithLabelValues(result).Inc()
}

// RecordAutoFix counts applied auto-fix changes.
func RecordAutoFix(changes int) {
	autoFixChanges.Add(float64(changes))
}
