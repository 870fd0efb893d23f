package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "challenge_submissions_total",
		Help: "Graded submissions by challenge kind and completion status.",
	}, []string{"kind", "status"})

	JudgeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "challenge_judge_duration_seconds",
		Help:    "Latency of a single judge invocation.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 9),
	})

	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "challenge_realtime_connections",
		Help: "Currently open realtime connections.",
	})

	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "challenge_transitions_total",
		Help: "Lifecycle transitions by target state.",
	}, []string{"to"})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{Submissions, JudgeDuration, Connections, Transitions} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
