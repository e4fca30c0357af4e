package definition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/log"
)

// PrometheusSink is the ObservabilitySink meant for production use (the
// components themselves fall back to NoopSink when given none): it
// turns engine events into a small set of counters/gauges instead of
// pushing every field through a logger, pairing with the teacher's
// already-present prometheus/common dependency.
type PrometheusSink struct {
	SyncPercent      prometheus.Gauge
	DesyncCount      prometheus.Counter
	RollbackCount    prometheus.Counter
	ResyncCount      prometheus.Counter
	PartitionsSkipped prometheus.Counter
	NoMajorityCount  prometheus.Counter
}

// NewPrometheusSink registers its metrics on reg (pass prometheus.NewRegistry()
// or prometheus.DefaultRegisterer) and returns the sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		SyncPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netsync",
			Name:      "sync_percent",
			Help:      "Percentage of frames where the local state hash matched the majority.",
		}),
		DesyncCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "desync_total",
			Help:      "Number of frames where the local hash diverged from majority.",
		}),
		RollbackCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "rollback_total",
			Help:      "Number of prediction rollbacks executed.",
		}),
		ResyncCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "resync_total",
			Help:      "Number of completed snapshot resyncs.",
		}),
		PartitionsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "partitions_skipped_total",
			Help:      "Number of frames where delta application was skipped due to degradation.",
		}),
		NoMajorityCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "no_majority_hash_total",
			Help:      "Number of frames where no hash held a strict majority of reports.",
		}),
	}

	for _, c := range []prometheus.Collector{
		s.SyncPercent, s.DesyncCount, s.RollbackCount, s.ResyncCount,
		s.PartitionsSkipped, s.NoMajorityCount,
	} {
		if err := reg.Register(c); err != nil {
			log.Warnf("netsync: metric already registered: %v", err)
		}
	}

	return s
}

// Event implements ObservabilitySink.
func (s *PrometheusSink) Event(kind string, fields map[string]interface{}) {
	switch kind {
	case EventDesynced:
		s.DesyncCount.Inc()
	case EventResynced:
		s.ResyncCount.Inc()
	case EventRollback:
		s.RollbackCount.Inc()
	case EventNoMajorityHash:
		s.NoMajorityCount.Inc()
	case EventDegradation:
		if tier, ok := fields["tier"]; ok && tier == "skip" {
			s.PartitionsSkipped.Inc()
		}
	}
	if pct, ok := fields["sync_percent"].(float64); ok {
		s.SyncPercent.Set(pct)
	}
}
