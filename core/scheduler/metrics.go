package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchesCreated   *prometheus.CounterVec
	dispatchesCancelled prometheus.Counter
	slotConflicts       prometheus.Counter
	blockedAttempts     *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Counter, *prometheus.CounterVec) {
	created := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_dispatches_created_total",
			Help: "Number of dispatches created by automatic assignment",
		},
		[]string{"route"},
	)
	cancelled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rotation_dispatches_cancelled_total",
			Help: "Number of dispatches cancelled",
		},
	)
	conflicts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rotation_slot_conflicts_total",
			Help: "Number of rotation slot write conflicts",
		},
	)
	blocked := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_blocked_attempts_total",
			Help: "Number of assignments refused by the eligibility gate",
		},
		[]string{"reason"},
	)
	return created, cancelled, conflicts, blocked
}

func init() {
	dispatchesCreated, dispatchesCancelled, slotConflicts, blockedAttempts = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers scheduler metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(dispatchesCreated, dispatchesCancelled, slotConflicts, blockedAttempts)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	dispatchesCreated, dispatchesCancelled, slotConflicts, blockedAttempts = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
