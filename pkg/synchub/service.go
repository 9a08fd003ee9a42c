// Package synchub wires the pollers, the sync manager and the DNS
// reconciler together and supervises them as one group of goroutines.
package synchub

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/cloudflare"
	"github.com/inean/dns-synchub/pkg/poller"
	"github.com/inean/dns-synchub/pkg/settings"
	"github.com/inean/dns-synchub/pkg/syncer"
)

type options struct {
	api     cloudflare.API
	pollers []*poller.Poller
}

type Option func(*options)

// WithAPI injects the provider client. Intended for tests.
func WithAPI(api cloudflare.API) Option {
	return func(o *options) { o.api = api }
}

// WithPoller adds an extra hostname source next to the built-in ones.
func WithPoller(p *poller.Poller) Option {
	return func(o *options) { o.pollers = append(o.pollers, p) }
}

// Run builds every component from the settings and blocks until shutdown.
// SIGINT/SIGTERM triggers a graceful stop with a short drain period; a nil
// return means a clean shutdown.
func Run(ctx context.Context, cfg *settings.Settings, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	apiMode := "Scoped"
	if cfg.CFEmail != "" {
		apiMode = "Global"
	}
	dlog.Debugf(ctx, "API Mode: %s", apiMode)

	api := o.api
	if api == nil {
		api = cloudflare.NewClient(cfg.CFToken, cfg.CFEmail)
	}
	updater := cloudflare.NewUpdater(api, cfg)
	manager := syncer.NewManager(updater)

	pollers := o.pollers
	if cfg.EnableDockerPoll {
		dockerPoller, err := poller.NewDockerPoller(ctx, cfg)
		if err != nil {
			return errors.Wrap(err, "docker poller")
		}
		pollers = append(pollers, dockerPoller)
	}
	if cfg.EnableTraefikPoll {
		pollers = append(pollers, poller.NewTraefikPoller(cfg))
	}
	if len(pollers) == 0 {
		dlog.Warn(ctx, "No pollers enabled; nothing will be discovered")
	}

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
		SoftShutdownTimeout:  2 * time.Second,
	})

	for _, p := range pollers {
		p.Subscribe(manager.OnSnapshot)
		g.Go(fmt.Sprintf("poller-%s", p.Source()), p.Run)
	}
	g.Go("sync-manager", manager.Run)
	if cfg.PrometheusPort > 0 {
		g.Go("prometheus", func(ctx context.Context) error {
			return servePrometheus(ctx, cfg.PrometheusPort, manager)
		})
	}

	return g.Wait()
}
