package reload

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/hotreload/errors"
)

const namespace = "hotreload"

// Metrics holds the controller's Prometheus collectors in a private registry.
// There is no listener; WriteTextfile dumps the registry for node_exporter's
// textfile collector.
type Metrics struct {
	registry     *prometheus.Registry
	iterations   prometheus.Counter
	softReloads  prometheus.Counter
	hardRestarts prometheus.Counter
	loadFailures *prometheus.CounterVec
	generation   prometheus.Gauge
	arenaBytes   prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Update calls made on the current module.",
		}),
		softReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soft_reloads_total",
			Help:      "Generation swaps that preserved state.",
		}),
		hardRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hard_restarts_total",
			Help:      "Generation swaps that reinitialised state.",
		}),
		loadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Failed load attempts by error kind.",
		}, []string{"kind"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Generation number of the running module.",
		}),
		arenaBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "arena_bytes_in_use",
			Help:      "Bytes allocated from the state arena.",
		}),
	}
	m.registry.MustRegister(m.iterations, m.softReloads, m.hardRestarts,
		m.loadFailures, m.generation, m.arenaBytes)
	return m
}

// WriteTextfile writes the registry in text exposition format, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) iteration() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

func (m *Metrics) observe(ev Event) {
	if m == nil {
		return
	}
	switch ev.Action {
	case ActionSkipped:
		m.loadFailures.WithLabelValues(failureKind(ev.Err)).Inc()
	case ActionSoftReload:
		m.softReloads.Inc()
	case ActionHardRestart:
		m.hardRestarts.Inc()
	}
	m.generation.Set(float64(ev.Generation))
}

func (m *Metrics) setArenaBytes(n uint32) {
	if m == nil {
		return
	}
	m.arenaBytes.Set(float64(n))
}

func failureKind(err error) string {
	var cv *errors.ContractViolationError
	if stderrors.As(err, &cv) {
		return string(errors.KindContractViolation)
	}
	var he *errors.Error
	if stderrors.As(err, &he) {
		return string(he.Kind)
	}
	return "unknown"
}
