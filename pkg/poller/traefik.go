package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/settings"
)

type traefikFetcher struct {
	client   *http.Client
	url      string
	interval time.Duration
	includes []*regexp.Regexp
	excludes []*regexp.Regexp

	fetch func(ctx context.Context) (Snapshot, error)
}

type routerSpec struct {
	Status string `json:"status"`
	Name   string `json:"name"`
	Rule   string `json:"rule"`
}

type TraefikOption func(*traefikFetcher)

// WithHTTPClient replaces the transport. Intended for tests.
func WithHTTPClient(c *http.Client) TraefikOption {
	return func(f *traefikFetcher) { f.client = c }
}

// NewTraefikPoller builds a poller over the Traefik router API. Transport
// failures are retried with exponential backoff and eventually degrade to an
// empty snapshot.
func NewTraefikPoller(cfg *settings.Settings, opts ...TraefikOption) *Poller {
	f := &traefikFetcher{
		url:      strings.TrimSuffix(cfg.TraefikPollURL, "/") + "/api/http/routers",
		interval: time.Duration(cfg.TraefikPollSeconds) * time.Second,
		includes: cfg.TraefikIncludedHosts,
		excludes: cfg.TraefikExcludedHosts,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: time.Duration(cfg.TraefikTimeoutSeconds) * time.Second}
	}
	f.fetch = WithBackoff(DefaultBackoffAttempts, f.fetchOnce)
	return New(f)
}

func (f *traefikFetcher) Source() Source {
	return SourceTraefik
}

func (f *traefikFetcher) Interval() time.Duration {
	return f.interval
}

func (f *traefikFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	return f.fetch(ctx)
}

func (f *traefikFetcher) fetchOnce(ctx context.Context) (Snapshot, error) {
	dlog.Debug(ctx, "Fetching routers from Traefik API")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		dlog.Errorf(ctx, "Failed to fetch routers from Traefik API: %v", err)
		return Snapshot{}, &BackoffError{Snapshot: NewSnapshot(SourceTraefik, nil), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("traefik API returned status %d", resp.StatusCode)
		dlog.Errorf(ctx, "Failed to fetch routers from Traefik API: %v", err)
		return Snapshot{}, &BackoffError{Snapshot: NewSnapshot(SourceTraefik, nil), Err: err}
	}

	var routers []routerSpec
	if err := json.NewDecoder(resp.Body).Decode(&routers); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode traefik routers")
	}
	return NewSnapshot(SourceTraefik, f.validate(ctx, routers)), nil
}

// validate winnows the router list down to the hostnames worth syncing.
func (f *traefikFetcher) validate(ctx context.Context, routers []routerSpec) []string {
	var hosts []string
	seen := make(map[string]bool)
	for _, route := range routers {
		if !f.validRoute(ctx, route) {
			continue
		}
		extracted := ExtractHosts(route.Rule)
		dlog.Debugf(ctx, "Traefik Router Name: %s domains: %v", route.Name, extracted)
		for _, host := range extracted {
			if !f.validHost(ctx, host) || seen[host] {
				continue
			}
			seen[host] = true
			hosts = append(hosts, host)
			dlog.Infof(ctx, "Found Traefik Router: %s with Hostname %s", route.Name, host)
		}
	}
	return hosts
}

func (f *traefikFetcher) validRoute(ctx context.Context, route routerSpec) bool {
	if route.Status == "" || route.Name == "" || route.Rule == "" {
		dlog.Debugf(ctx, "Traefik Router: %+v - Missing Key", route)
		return false
	}
	if route.Status != "enabled" {
		dlog.Debugf(ctx, "Traefik Router Name: %s - Not Enabled", route.Name)
		return false
	}
	if !strings.Contains(route.Rule, "Host") {
		dlog.Debugf(ctx, "Traefik Router Name: %s - Missing Host", route.Name)
		return false
	}
	return true
}

func (f *traefikFetcher) validHost(ctx context.Context, host string) bool {
	if !matchAny(host, f.includes) {
		dlog.Debugf(ctx, "Traefik Router Host: %s - No Match with Included Hosts", host)
		return false
	}
	if matchAny(host, f.excludes) {
		dlog.Debugf(ctx, "Traefik Router Host: %s - Match with Excluded Hosts", host)
		return false
	}
	return true
}

func matchAny(host string, patterns []*regexp.Regexp) bool {
	for _, rx := range patterns {
		if rx.MatchString(host) {
			return true
		}
	}
	return false
}
