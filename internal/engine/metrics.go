package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	advanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rotation_turn_advance_total", Help: "Turn advance attempts by outcome"},
		[]string{"outcome"},
	)
	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rotation_turn_pass_seconds",
			Help:    "Time spent in an admitted turn pass",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15, 60},
		},
	)
	currentTurn = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "rotation_current_turn", Help: "Last committed turn number"},
	)
	subjectFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rotation_subject_failures_total", Help: "Tracks skipped during a pass"},
	)
	leaseTakeovers = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rotation_lease_takeovers_total", Help: "Claims that replaced an expired lease"},
	)
	turnStuck = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "rotation_turn_stuck", Help: "1 while the current boundary keeps losing its lease"},
	)
)

func init() {
	prometheus.MustRegister(advanceTotal, passDuration, currentTurn, subjectFailures, leaseTakeovers, turnStuck)
}
