package poller

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	dockerClient "github.com/docker/docker/client"
	"github.com/pkg/errors"

	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/settings"
)

// ContainerLister is the slice of the Docker API the poller needs. The
// concrete docker client satisfies it; tests inject fakes.
type ContainerLister interface {
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
}

type dockerFetcher struct {
	client      ContainerLister
	interval    time.Duration
	filterLabel *regexp.Regexp
	filterValue *regexp.Regexp
}

type DockerOption func(*dockerFetcher)

// WithDockerClient bypasses client construction. Intended for tests.
func WithDockerClient(c ContainerLister) DockerOption {
	return func(f *dockerFetcher) { f.client = c }
}

// NewDockerPoller builds a poller over the container runtime. A client that
// cannot be constructed is a startup failure; the caller is expected to treat
// it as fatal.
func NewDockerPoller(ctx context.Context, cfg *settings.Settings, opts ...DockerOption) (*Poller, error) {
	f := &dockerFetcher{
		interval:    time.Duration(cfg.DockerPollSeconds) * time.Second,
		filterLabel: cfg.TraefikFilterLabel.Regexp,
		filterValue: cfg.TraefikFilterValue.Regexp,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		cli, err := dockerClient.NewClientWithOpts(
			dockerClient.FromEnv,
			dockerClient.WithAPIVersionNegotiation(),
			dockerClient.WithTimeout(time.Duration(cfg.DockerTimeoutSeconds)*time.Second),
		)
		if err != nil {
			return nil, errors.Wrap(err, "could not connect to Docker")
		}
		dlog.Debug(ctx, "Connected to Docker")
		f.client = cli
	}
	return New(f), nil
}

func (f *dockerFetcher) Source() Source {
	return SourceDocker
}

func (f *dockerFetcher) Interval() time.Duration {
	return f.interval
}

func (f *dockerFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	containers, err := f.client.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "list containers")
	}
	var hosts []string
	seen := make(map[string]bool)
	for _, ctr := range containers {
		if !f.enabled(ctr.Labels) {
			dlog.Debugf(ctx, "Skipping container %s: no matching filter label", shortID(ctr.ID))
			continue
		}
		for label, value := range ctr.Labels {
			if !ruleLabelRx.MatchString(label) {
				continue
			}
			if !strings.Contains(value, "Host") {
				dlog.Debugf(ctx, "Skipping label %s on container %s: missing Host", label, shortID(ctr.ID))
				continue
			}
			extracted := ExtractHosts(value)
			dlog.Debugf(ctx, "Container %s domains: %v", shortID(ctr.ID), extracted)
			for _, host := range extracted {
				if !seen[host] {
					seen[host] = true
					hosts = append(hosts, host)
					dlog.Infof(ctx, "Found container %s with hostname %s", shortID(ctr.ID), host)
				}
			}
		}
	}
	return NewSnapshot(SourceDocker, hosts), nil
}

// enabled reports whether some label pair matches both the key and the value
// filter. A nil value filter accepts any value.
func (f *dockerFetcher) enabled(labels map[string]string) bool {
	for label, value := range labels {
		if !f.filterLabel.MatchString(label) {
			continue
		}
		if f.filterValue == nil || f.filterValue.MatchString(value) {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
