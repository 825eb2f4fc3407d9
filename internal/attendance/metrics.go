package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "irl",
		Name:      "attendee_submissions_total",
		Help:      "Attendee form submissions by route and result.",
	}, []string{"route", "result"})

	removalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "irl",
		Name:      "attendee_removals_total",
		Help:      "Bulk attendee removals by mode and result.",
	}, []string{"mode", "result"})

	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "irl",
		Name:      "guest_list_refreshes_total",
		Help:      "Guest list fetches by result.",
	}, []string{"result"})
)

const (
	resultOK      = "ok"
	resultInvalid = "invalid"
	resultFailed  = "failed"
)
