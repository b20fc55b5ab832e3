package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for registry replication.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	// Outbound profileInfo sends by result ("ok", "error")
	MessagesSent *prometheus.CounterVec

	// Inbound profileInfo messages by outcome ("accepted", "malformed", "rejected")
	MessagesReceived *prometheus.CounterVec

	// Current number of registry entries
	RegistryEntries prometheus.Gauge

	// Entries removed by the stale-entry sweep
	SweepEvictions prometheus.Counter

	// Cache reconciliation runs by result
	CacheReconciles *prometheus.CounterVec

	// Mutation triggers folded into an already pending reconciliation
	DebounceCoalesced prometheus.Counter
}

// New registers all instruments with reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "profilesync_messages_sent_total",
			Help: "Outbound profileInfo messages by result",
		}, []string{"result"}),

		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "profilesync_messages_received_total",
			Help: "Inbound profileInfo messages by outcome",
		}, []string{"outcome"}),

		RegistryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "profilesync_registry_entries",
			Help: "Number of peer profiles currently held in the registry",
		}),

		SweepEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "profilesync_sweep_evictions_total",
			Help: "Registry entries evicted because their participant left",
		}),

		CacheReconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "profilesync_cache_reconciles_total",
			Help: "Profile cache reconciliation runs by result",
		}, []string{"result"}),

		DebounceCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "profilesync_debounce_coalesced_total",
			Help: "Reconciliation requests folded into an already pending run",
		}),
	}
}

func (m *Metrics) IncSent(err error) {
	if m != nil {
		m.MessagesSent.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) IncReceived(outcome string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetRegistryEntries(n int) {
	if m != nil {
		m.RegistryEntries.Set(float64(n))
	}
}

func (m *Metrics) AddSweepEvictions(n int) {
	if m != nil {
		m.SweepEvictions.Add(float64(n))
	}
}

func (m *Metrics) IncCacheReconcile(err error) {
	if m != nil {
		m.CacheReconciles.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) IncDebounceCoalesced() {
	if m != nil {
		m.DebounceCoalesced.Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
