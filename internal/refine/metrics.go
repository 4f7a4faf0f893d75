package refine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoopOutcomes counts finished refinement loops.
	LoopOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repoctx",
			Subsystem: "refine",
			Name:      "loops_total",
			Help:      "Refinement loops by final state and reason",
		},
		[]string{"state", "reason"},
	)

	// LoopIterations observes the rounds each loop ran.
	LoopIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repoctx",
			Subsystem: "refine",
			Name:      "iterations",
			Help:      "Controller rounds per refinement loop",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// ToolCalls counts executed tool calls.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repoctx",
			Subsystem: "refine",
			Name:      "tool_calls_total",
			Help:      "Tool calls executed by tool and result",
		},
		[]string{"tool", "result"},
	)
)
