package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Sync outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeDeferred = "deferred"
	OutcomeFailed   = "failed"
	OutcomeDegraded = "degraded"
	OutcomeAbsorbed = "absorbed"
)

var (
	once sync.Once

	syncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmbridge",
			Name:      "sync_total",
			Help:      "CRM sync attempts by entity, action and outcome.",
		},
		[]string{"entity", "action", "outcome"},
	)

	resyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmbridge",
			Name:      "resync_total",
			Help:      "Drained pending-entity replays by entity, action and outcome.",
		},
		[]string{"entity", "action", "outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crmbridge",
			Name:      "pending_queue_depth",
			Help:      "Active pending sync records.",
		},
	)

	stuckTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crmbridge",
			Name:      "stuck_records_total",
			Help:      "Pending records moved to the terminal stuck state.",
		},
	)

	crmUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crmbridge",
			Name:      "crm_up",
			Help:      "Result of the latest CRM liveness probe (1 = alive).",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncTotal, resyncTotal, queueDepth, stuckTotal, crmUp)
	})
}

// IncSync counts one coordinator sync attempt.
func IncSync(entity, action, outcome string) {
	syncTotal.WithLabelValues(entity, action, outcome).Inc()
}

// IncResync counts one drain replay.
func IncResync(entity, action, outcome string) {
	resyncTotal.WithLabelValues(entity, action, outcome).Inc()
}

// SetQueueDepth records the current number of active pending records.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// AddStuck counts records moved to the stuck state.
func AddStuck(n int) {
	stuckTotal.Add(float64(n))
}

// SetCrmUp records the latest liveness probe result.
func SetCrmUp(alive bool) {
	if alive {
		crmUp.Set(1)
		return
	}
	crmUp.Set(0)
}
