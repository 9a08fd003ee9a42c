package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synchub_poll_fetches_total",
		Help: "Number of poll ticks per source",
	}, []string{"source"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synchub_poll_fetch_errors_total",
		Help: "Number of failed poll ticks per source",
	}, []string{"source"})
)
