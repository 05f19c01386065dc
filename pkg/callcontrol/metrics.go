package callcontrol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "softphone"

// metrics Prometheus метрики менеджера вызовов.
type metrics struct {
	connectionTransitions *prometheus.CounterVec
	connectionState       prometheus.Gauge
	authAttempts          *prometheus.CounterVec
	configFetches         *prometheus.CounterVec
	relayedEvents         *prometheus.CounterVec
	activeCalls           prometheus.Gauge
}

// newMetrics регистрирует метрики в reg. Для каждого менеджера нужен
// свой Registerer, повторная регистрация в том же паникует.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		connectionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Number of connection state machine transitions",
		}, []string{"from", "to"}),
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (0=idle, 1=registering, 2=ready, 3=failed)",
		}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Device directory retrievals per server by result",
		}, []string{"result"}),
		configFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "config",
			Name:      "fetches_total",
			Help:      "Device config retrievals by result",
		}, []string{"result"}),
		relayedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "events",
			Name:      "relayed_total",
			Help:      "Device session events relayed to observers by category",
		}, []string{"category"}),
		activeCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "calls",
			Name:      "active",
			Help:      "Number of calls not in ONHOOK state on the active device",
		}),
	}
}
