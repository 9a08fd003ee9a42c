package cloudflare

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synchub_dns_records_created_total",
		Help: "Number of DNS records created at the provider",
	})

	recordsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synchub_dns_records_updated_total",
		Help: "Number of DNS records updated at the provider",
	})
)
