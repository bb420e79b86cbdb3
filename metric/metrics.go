// Package metric exposes the bridge's Prometheus instrumentation. A nil
// *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metric

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "capbridge"

// Metrics contains all bridge-level metrics.
type Metrics struct {
	CallsTotal     *prometheus.CounterVec
	SubcallsTotal  *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
	NativeLatency  *prometheus.HistogramVec
	ModuleLoaded   *prometheus.GaugeVec
	CanaryPassed   *prometheus.GaugeVec
}

// NewMetrics creates a new, unregistered Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of bridge calls",
			},
			[]string{"operation", "mode", "backend"},
		),

		SubcallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subcalls_total",
				Help:      "Total number of capability sub-operations by backend",
			},
			[]string{"capability", "backend"},
		),

		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of fallbacks by reason",
			},
			[]string{"capability", "reason"},
		),

		NativeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "native_latency_seconds",
				Help:      "Native call latency in seconds, including instantiation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"capability"},
		),

		ModuleLoaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "module_loaded",
				Help:      "Native module load state (0=failed, 1=loaded)",
			},
			[]string{"module"},
		),

		CanaryPassed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "canary_passed",
				Help:      "Result of the last canary run (0=failed, 1=passed)",
			},
			[]string{"module"},
		),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CallsTotal,
		m.SubcallsTotal,
		m.FallbacksTotal,
		m.NativeLatency,
		m.ModuleLoaded,
		m.CanaryPassed,
	}
}

// Register registers all collectors with reg. Collectors that are already
// registered are skipped.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			var alreadyRegErr prometheus.AlreadyRegisteredError
			if errors.As(err, &alreadyRegErr) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCall counts a completed bridge call.
func (m *Metrics) ObserveCall(operation, mode, backend string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(operation, mode, backend).Inc()
}

// ObserveSubcall counts one capability sub-operation.
func (m *Metrics) ObserveSubcall(capability, backend string) {
	if m == nil {
		return
	}
	m.SubcallsTotal.WithLabelValues(capability, backend).Inc()
}

// ObserveFallback counts a fallback and why it happened.
func (m *Metrics) ObserveFallback(capability, reason string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(capability, reason).Inc()
}

// ObserveNativeLatency records how long a native invocation took.
func (m *Metrics) ObserveNativeLatency(capability string, d time.Duration) {
	if m == nil {
		return
	}
	m.NativeLatency.WithLabelValues(capability).Observe(d.Seconds())
}

// SetModuleLoaded records a module's terminal load state.
func (m *Metrics) SetModuleLoaded(module string, loaded bool) {
	if m == nil {
		return
	}
	m.ModuleLoaded.WithLabelValues(module).Set(boolToFloat(loaded))
}

// SetCanaryPassed records a module's last canary result.
func (m *Metrics) SetCanaryPassed(module string, passed bool) {
	if m == nil {
		return
	}
	m.CanaryPassed.WithLabelValues(module).Set(boolToFloat(passed))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
