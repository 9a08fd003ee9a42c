// Package settings holds the immutable runtime configuration for dns-synchub.
//
// All parsing of environment strings happens here. No parsing of such strings
// should be made elsewhere in the code. Values are resolved from the process
// environment first, then from a secrets directory (filename = lowercase key),
// then from .env and .env.prod files in the working directory.
package settings

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"

	"github.com/datawire/dlib/dlog"
)

const (
	// DefaultSecretsDir is where container orchestrators mount secret files.
	DefaultSecretsDir = "/var/run"

	defaultFilterLabel = `traefik\.constraint`
)

var defaultEnvFiles = []string{".env", ".env.prod"}

// RegexpList is a comma-separated list of regular expressions.
type RegexpList []*regexp.Regexp

func (l *RegexpList) EnvDecode(val string) error {
	if val == "" {
		return nil
	}
	for _, expr := range strings.Split(val, ",") {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		rx, err := regexp.Compile(expr)
		if err != nil {
			return errors.Wrapf(err, "invalid pattern %q", expr)
		}
		*l = append(*l, rx)
	}
	return nil
}

// Regexp is a single regular expression value.
type Regexp struct {
	*regexp.Regexp
}

func (r *Regexp) EnvDecode(val string) error {
	if val == "" {
		return nil
	}
	rx, err := regexp.Compile(val)
	if err != nil {
		return errors.Wrapf(err, "invalid pattern %q", val)
	}
	r.Regexp = rx
	return nil
}

type Settings struct {
	DryRun bool `env:"DRY_RUN,default=false"`

	LogFile  string `env:"LOG_FILE,default=/logs/synchub.log"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`
	LogType  string `env:"LOG_TYPE,default=BOTH"`

	EnableDockerPoll     bool `env:"ENABLE_DOCKER_POLL,default=true"`
	DockerPollSeconds    int  `env:"DOCKER_POLL_SECONDS,default=5"`
	DockerTimeoutSeconds int  `env:"DOCKER_TIMEOUT_SECONDS,default=0"`

	EnableTraefikPoll     bool       `env:"ENABLE_TRAEFIK_POLL,default=false"`
	TraefikPollURL        string     `env:"TRAEFIK_POLL_URL"`
	TraefikPollSeconds    int        `env:"TRAEFIK_POLL_SECONDS,default=5"`
	TraefikTimeoutSeconds int        `env:"TRAEFIK_TIMEOUT_SECONDS,default=5"`
	TraefikFilterLabel    Regexp     `env:"TRAEFIK_FILTER_LABEL,default=traefik\\.constraint"`
	TraefikFilterValue    Regexp     `env:"TRAEFIK_FILTER_VALUE"`
	TraefikIncludedHosts  RegexpList `env:"TRAEFIK_INCLUDED_HOSTS"`
	TraefikExcludedHosts  RegexpList `env:"TRAEFIK_EXCLUDED_HOSTS"`

	RefreshEntries bool `env:"REFRESH_ENTRIES,default=false"`

	// CFEmail selects "global" API mode when present; without it the token is
	// used as a scoped API token.
	CFToken      string `env:"CF_TOKEN"`
	CFEmail      string `env:"CF_EMAIL"`
	TargetDomain string `env:"TARGET_DOMAIN"`
	DefaultTTL   int    `env:"DEFAULT_TTL,default=1"`
	RecordType   string `env:"RC_TYPE,default=CNAME"`
	MaxRetries   int    `env:"MAX_RETRIES,default=5"`

	PrometheusPort uint16 `env:"PROMETHEUS_PORT,default=0"`

	// DomainsFile optionally names a YAML file with additional zone specs.
	// Zones from DOMAINS__<i>__* environment groups win when a file zone has
	// the same name.
	DomainsFile string `env:"DOMAINS_FILE"`

	Domains []Zone
}

type loadOptions struct {
	lookuper   envconfig.Lookuper
	secretsDir string
	envFiles   []string
}

type Option func(*loadOptions)

// WithLookuper replaces the whole lookup chain. Intended for tests.
func WithLookuper(l envconfig.Lookuper) Option {
	return func(o *loadOptions) { o.lookuper = l }
}

func WithSecretsDir(dir string) Option {
	return func(o *loadOptions) { o.secretsDir = dir }
}

func WithEnvFiles(paths ...string) Option {
	return func(o *loadOptions) { o.envFiles = paths }
}

// Load resolves the settings through the layered lookup chain and applies the
// post-parse defaults (zone TTL and target inheritance, the match-all include
// fallback). It does not validate; call Validate before using the result.
func Load(ctx context.Context, opts ...Option) (*Settings, error) {
	o := loadOptions{
		secretsDir: DefaultSecretsDir,
		envFiles:   defaultEnvFiles,
	}
	for _, opt := range opts {
		opt(&o)
	}
	lookuper := o.lookuper
	if lookuper == nil {
		chain := []envconfig.Lookuper{envconfig.OsLookuper(), secretsLookuper(o.secretsDir)}
		for _, path := range o.envFiles {
			chain = append(chain, envFileLookuper(path))
		}
		lookuper = envconfig.MultiLookuper(chain...)
	}

	s := &Settings{}
	if err := envconfig.ProcessWith(ctx, s, lookuper); err != nil {
		return nil, err
	}

	zones, err := zonesFromEnv(lookuper)
	if err != nil {
		return nil, err
	}
	if s.DomainsFile != "" {
		fileZones, err := zonesFromFile(s.DomainsFile)
		if err != nil {
			return nil, err
		}
		zones = mergeZones(zones, fileZones)
	}
	s.Domains = zones

	s.normalize()
	return s, nil
}

func (s *Settings) normalize() {
	for i := range s.Domains {
		dom := &s.Domains[i]
		if dom.TTL == 0 {
			dom.TTL = s.DefaultTTL
		}
		if dom.TargetDomain == "" {
			dom.TargetDomain = s.TargetDomain
		}
	}
	if len(s.TraefikIncludedHosts) == 0 {
		s.TraefikIncludedHosts = RegexpList{regexp.MustCompile(".*")}
	}
	if s.TraefikFilterLabel.Regexp == nil {
		s.TraefikFilterLabel.Regexp = regexp.MustCompile(defaultFilterLabel)
	}
	if s.DockerTimeoutSeconds <= 0 {
		s.DockerTimeoutSeconds = s.DockerPollSeconds
	}
}

// Validate reports everything wrong with the configuration, one error per
// field, so the operator can fix all of it in one go.
func (s *Settings) Validate() error {
	var result *multierror.Error
	if s.CFToken == "" {
		result = multierror.Append(result, errors.New("CF_TOKEN is required"))
	}
	if s.TargetDomain == "" {
		result = multierror.Append(result, errors.New("TARGET_DOMAIN is required"))
	}
	if len(s.Domains) == 0 {
		result = multierror.Append(result, errors.New("at least one zone is required (DOMAINS__0__NAME)"))
	}
	for i, dom := range s.Domains {
		if dom.Name == "" {
			result = multierror.Append(result, errors.Errorf("DOMAINS__%d__NAME must not be empty", i))
		}
		if dom.ZoneID == "" {
			result = multierror.Append(result, errors.Errorf("DOMAINS__%d__ZONE_ID must not be empty", i))
		}
		if dom.TTL < 1 {
			result = multierror.Append(result, errors.Errorf("DOMAINS__%d__TTL must be >= 1, got %d", i, dom.TTL))
		}
		if dom.TargetDomain == "" {
			result = multierror.Append(result, errors.Errorf("DOMAINS__%d__TARGET_DOMAIN must not be empty", i))
		}
	}
	if s.DockerPollSeconds < 1 {
		result = multierror.Append(result, errors.Errorf("DOCKER_POLL_SECONDS must be >= 1, got %d", s.DockerPollSeconds))
	}
	if s.TraefikPollSeconds < 1 {
		result = multierror.Append(result, errors.Errorf("TRAEFIK_POLL_SECONDS must be >= 1, got %d", s.TraefikPollSeconds))
	}
	if s.MaxRetries < 1 {
		result = multierror.Append(result, errors.Errorf("MAX_RETRIES must be >= 1, got %d", s.MaxRetries))
	}
	if s.EnableTraefikPoll && s.TraefikPollURL == "" {
		result = multierror.Append(result, errors.New("traefik polling is enabled but TRAEFIK_POLL_URL is not set"))
	}
	return result.ErrorOrNil()
}

// Report logs the effective configuration. A traefik poll URL that is present
// but unparseable demotes traefik polling to disabled rather than aborting.
func (s *Settings) Report(ctx context.Context) {
	if s.DryRun {
		dlog.Warnf(ctx, "Dry Run: %v", s.DryRun)
	}
	dlog.Debugf(ctx, "Default TTL: %d", s.DefaultTTL)
	dlog.Debugf(ctx, "Refresh Entries: %v", s.RefreshEntries)

	if s.EnableTraefikPoll {
		if uriValid(s.TraefikPollURL) {
			dlog.Debugf(ctx, "Traefik Poll Url: %s", s.TraefikPollURL)
			dlog.Debugf(ctx, "Traefik Poll Seconds: %d", s.TraefikPollSeconds)
		} else {
			s.EnableTraefikPoll = false
			dlog.Errorf(ctx, "Traefik polling disabled: bad url: %s", s.TraefikPollURL)
		}
	}
	dlog.Debugf(ctx, "Traefik Polling Mode: %s", onOff(s.EnableTraefikPoll))
	dlog.Debugf(ctx, "Docker Polling Mode: %s", onOff(s.EnableDockerPoll))

	for i := range s.Domains {
		dlog.Debugf(ctx, "Zone Configuration: %s", s.Domains[i].String())
	}
}

func uriValid(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

func (z *Zone) String() string {
	return fmt.Sprintf("name=%s zone_id=%s ttl=%d proxied=%v target=%s excluded=%v",
		z.Name, z.ZoneID, z.TTL, z.Proxied, z.TargetDomain, z.ExcludedSubDomains)
}
