package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synchub_sync_jobs_total",
		Help: "Number of sync jobs consumed per source",
	}, []string{"source"})

	jobsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synchub_sync_jobs_dropped_total",
		Help: "Number of jobs dropped because the queue was full",
	})

	syncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synchub_sync_failures_total",
		Help: "Number of hostnames whose reconciliation failed",
	})
)
