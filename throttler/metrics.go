/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttler

import "github.com/prometheus/client_golang/prometheus"

// Eviction reasons used as values of the "reason" label.
const (
	EvictionReasonExpired = "expired"
	EvictionReasonOldest  = "oldest"
)

// MetricsCollector represents a collector of metrics to analyze how keys are throttled.
type MetricsCollector interface {
	// IncGrants increments the total number of granted accesses.
	IncGrants()

	// IncDenials increments the total number of denied accesses.
	IncDenials()

	// SetKeysAmount sets the number of tracked keys.
	SetKeysAmount(int)

	// AddExpiredEvictions increments the number of keys evicted because all their grants expired.
	AddExpiredEvictions(int)

	// AddOldestEvictions increments the number of keys evicted because they were granted least recently.
	AddOldestEvictions(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// PrometheusMetrics.MustCurryWith must be called further with the same labels if the list is not empty.
	CurriedLabelNames []string
}

// PrometheusMetrics represents Prometheus metrics for the throttler.
type PrometheusMetrics struct {
	KeysAmount     *prometheus.GaugeVec
	GrantsTotal    *prometheus.CounterVec
	DenialsTotal   *prometheus.CounterVec
	EvictionsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	keysAmount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_keys_amount",
			Help:        "Number of tracked throttling keys.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	grantsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_grants_total",
			Help:        "Number of granted accesses.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	denialsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_denials_total",
			Help:        "Number of denied accesses.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	evictionsLabelNames := append(append([]string(nil), opts.CurriedLabelNames...), "reason")
	evictionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_evictions_total",
			Help:        "Number of evicted throttling keys.",
			ConstLabels: opts.ConstLabels,
		},
		evictionsLabelNames,
	)

	return &PrometheusMetrics{
		KeysAmount:     keysAmount,
		GrantsTotal:    grantsTotal,
		DenialsTotal:   denialsTotal,
		EvictionsTotal: evictionsTotal,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		KeysAmount:     pm.KeysAmount.MustCurryWith(labels),
		GrantsTotal:    pm.GrantsTotal.MustCurryWith(labels),
		DenialsTotal:   pm.DenialsTotal.MustCurryWith(labels),
		EvictionsTotal: pm.EvictionsTotal.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.KeysAmount,
		pm.GrantsTotal,
		pm.DenialsTotal,
		pm.EvictionsTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.KeysAmount)
	prometheus.Unregister(pm.GrantsTotal)
	prometheus.Unregister(pm.DenialsTotal)
	prometheus.Unregister(pm.EvictionsTotal)
}

// IncGrants increments the total number of granted accesses.
func (pm *PrometheusMetrics) IncGrants() {
	pm.GrantsTotal.With(nil).Inc()
}

// IncDenials increments the total number of denied accesses.
func (pm *PrometheusMetrics) IncDenials() {
	pm.DenialsTotal.With(nil).Inc()
}

// SetKeysAmount sets the number of tracked keys.
func (pm *PrometheusMetrics) SetKeysAmount(amount int) {
	pm.KeysAmount.With(nil).Set(float64(amount))
}

// AddExpiredEvictions increments the number of keys evicted because all their grants expired.
func (pm *PrometheusMetrics) AddExpiredEvictions(n int) {
	pm.EvictionsTotal.With(prometheus.Labels{"reason": EvictionReasonExpired}).Add(float64(n))
}

// AddOldestEvictions increments the number of keys evicted because they were granted least recently.
func (pm *PrometheusMetrics) AddOldestEvictions(n int) {
	pm.EvictionsTotal.With(prometheus.Labels{"reason": EvictionReasonOldest}).Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) IncGrants()              {}
func (disabledMetrics) IncDenials()             {}
func (disabledMetrics) SetKeysAmount(int)       {}
func (disabledMetrics) AddExpiredEvictions(int) {}
func (disabledMetrics) AddOldestEvictions(int)  {}

var disabledMetricsCollector = disabledMetrics{}
