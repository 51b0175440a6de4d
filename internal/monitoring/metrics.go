package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Decision metrics
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_decisions_total",
			Help: "Total number of gate decisions",
		},
		[]string{"result", "reason"},
	)

	checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riskgate_check_duration_seconds",
			Help:    "Latency of each gate check",
			Buckets: []float64{.0005, .001, .002, .003, .005, .008, .013, .021, .05, .1},
		},
		[]string{"check"},
	)

	// Reservation metrics
	reservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_reservations_total",
			Help: "Reservation operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	reservedQuantity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riskgate_reserved_quantity",
			Help: "Aggregate reserved quantity per symbol as last observed",
		},
		[]string{"symbol"},
	)

	// Halt flags
	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskgate_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half open, 2 open)",
		},
	)

	killSwitchEngaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskgate_kill_switch_engaged",
			Help: "1 when the kill switch is engaged",
		},
	)

	// Data quality
	freshnessChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_freshness_checks_total",
			Help: "Freshness checks by mode and result",
		},
		[]string{"mode", "result"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(checkDuration)
	prometheus.MustRegister(reservationsTotal)
	prometheus.MustRegister(reservedQuantity)
	prometheus.MustRegister(breakerState)
	prometheus.MustRegister(killSwitchEngaged)
	prometheus.MustRegister(freshnessChecks)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordDecision counts an approval ("approved") or rejection with its reason
func RecordDecision(result, reason string) {
	decisionsTotal.WithLabelValues(result, reason).Inc()
}

// ObserveCheck records how long a single check took
func ObserveCheck(check string, elapsed time.Duration) {
	checkDuration.WithLabelValues(check).Observe(elapsed.Seconds())
}

// RecordReservation counts a reservation operation outcome
func RecordReservation(op, outcome string) {
	reservationsTotal.WithLabelValues(op, outcome).Inc()
}

// UpdateReserved sets the last observed aggregate for a symbol
func UpdateReserved(symbol string, reserved int64) {
	reservedQuantity.WithLabelValues(symbol).Set(float64(reserved))
}

// UpdateBreakerState exports the breaker state as a number
func UpdateBreakerState(value float64) {
	breakerState.Set(value)
}

// UpdateKillSwitch exports the kill switch flag
func UpdateKillSwitch(engaged bool) {
	if engaged {
		killSwitchEngaged.Set(1)
		return
	}
	killSwitchEngaged.Set(0)
}

// RecordFreshness counts a freshness check
func RecordFreshness(mode string, passed bool) {
	result := "stale"
	if passed {
		result = "fresh"
	}
	freshnessChecks.WithLabelValues(mode, result).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
