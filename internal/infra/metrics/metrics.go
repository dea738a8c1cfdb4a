package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_consume_total",
		Help: "Consume calls by operation and outcome.",
	}, []string{"operation", "status"})

	SweepResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_sweep_resets_total",
		Help: "Ledger period resets by scope kind.",
	}, []string{"kind"})

	PlanReviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plan_request_reviews_total",
		Help: "Plan request reviews by action.",
	}, []string{"action"})
)
