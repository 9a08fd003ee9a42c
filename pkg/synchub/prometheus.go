package synchub

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datawire/dlib/dhttp"
	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/syncer"
)

// servePrometheus exposes the counters registered across the packages plus a
// gauge over the synced map.
func servePrometheus(ctx context.Context, port uint16, manager *syncer.Manager) error {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "synchub_synced_host_count",
		Help: "Number of hostnames currently recorded as synced",
	}, func() float64 { return float64(manager.SyncedCount()) })

	sc := &dhttp.ServerConfig{
		Handler: promhttp.Handler(),
	}
	dlog.Infof(ctx, "Prometheus metrics server started on port %d", port)
	defer dlog.Info(ctx, "Prometheus metrics server stopped")
	return sc.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
}
