// Package metrics exposes the prometheus instruments for the core
// attendance flows, served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsIssued counts QR sessions generated.
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_sessions_issued_total",
		Help: "QR attendance sessions generated.",
	})

	// Submissions counts attendance submissions by outcome.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_submissions_total",
		Help: "Attendance submissions by result.",
	}, []string{"result"})

	// GeofenceRejections counts submissions outside the geofence.
	GeofenceRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_geofence_rejections_total",
		Help: "Submissions rejected for exceeding the geofence radius.",
	})

	// ScheduleConflicts counts rejected schedule mutations.
	ScheduleConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_schedule_conflicts_total",
		Help: "Schedule writes rejected by the overlap check.",
	})

	// SyncItems counts offline-sync items by outcome.
	SyncItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_sync_items_total",
		Help: "Offline sync items by outcome.",
	}, []string{"outcome"})
)
