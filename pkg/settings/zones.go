package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Zone describes one managed DNS zone. TTL and TargetDomain inherit the
// global defaults when left unset.
type Zone struct {
	Name               string   `yaml:"name"`
	ZoneID             string   `yaml:"zone_id"`
	Proxied            bool     `yaml:"proxied"`
	TTL                int      `yaml:"ttl"`
	TargetDomain       string   `yaml:"target_domain"`
	Comment            string   `yaml:"comment"`
	ExcludedSubDomains []string `yaml:"excluded_sub_domains"`
}

// zonesFromEnv reads DOMAINS__<i>__* groups through the lookup chain so that
// individual zone fields can live in the secrets directory too. Indices start
// at 0 and must be contiguous; the scan stops at the first index without a
// NAME.
func zonesFromEnv(l envconfig.Lookuper) ([]Zone, error) {
	var zones []Zone
	for i := 0; ; i++ {
		prefix := fmt.Sprintf("DOMAINS__%d__", i)
		name, ok := l.Lookup(prefix + "NAME")
		if !ok {
			break
		}
		zone := Zone{Name: name, Proxied: true}
		if v, ok := l.Lookup(prefix + "ZONE_ID"); ok {
			zone.ZoneID = v
		}
		if v, ok := l.Lookup(prefix + "TTL"); ok {
			ttl, err := strconv.Atoi(v)
			if err != nil {
				return nil, errors.Wrapf(err, "%sTTL", prefix)
			}
			zone.TTL = ttl
		}
		if v, ok := l.Lookup(prefix + "TARGET_DOMAIN"); ok {
			zone.TargetDomain = v
		}
		if v, ok := l.Lookup(prefix + "PROXIED"); ok {
			proxied, err := strconv.ParseBool(v)
			if err != nil {
				return nil, errors.Wrapf(err, "%sPROXIED", prefix)
			}
			zone.Proxied = proxied
		}
		if v, ok := l.Lookup(prefix + "COMMENT"); ok {
			zone.Comment = v
		}
		if v, ok := l.Lookup(prefix + "EXCLUDED_SUB_DOMAINS"); ok {
			zone.ExcludedSubDomains = splitList(v)
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

type zonesFile struct {
	Domains []zoneSpec `yaml:"domains"`
}

// zoneSpec distinguishes "unset" from explicit false/zero so the YAML form
// keeps the same defaulting behavior as the environment form.
type zoneSpec struct {
	Name               string   `yaml:"name"`
	ZoneID             string   `yaml:"zone_id"`
	Proxied            *bool    `yaml:"proxied"`
	TTL                int      `yaml:"ttl"`
	TargetDomain       string   `yaml:"target_domain"`
	Comment            string   `yaml:"comment"`
	ExcludedSubDomains []string `yaml:"excluded_sub_domains"`
}

func zonesFromFile(path string) ([]Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read zones file %s", path)
	}
	var zf zonesFile
	if err := yaml.Unmarshal(data, &zf); err != nil {
		return nil, errors.Wrapf(err, "parse zones file %s", path)
	}
	zones := make([]Zone, 0, len(zf.Domains))
	for _, spec := range zf.Domains {
		zone := Zone{
			Name:               spec.Name,
			ZoneID:             spec.ZoneID,
			Proxied:            true,
			TTL:                spec.TTL,
			TargetDomain:       spec.TargetDomain,
			Comment:            spec.Comment,
			ExcludedSubDomains: spec.ExcludedSubDomains,
		}
		if spec.Proxied != nil {
			zone.Proxied = *spec.Proxied
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

// mergeZones appends file zones that do not collide with an env zone of the
// same name. Environment groups win.
func mergeZones(envZones, fileZones []Zone) []Zone {
	seen := make(map[string]bool, len(envZones))
	for _, z := range envZones {
		seen[z.Name] = true
	}
	merged := envZones
	for _, z := range fileZones {
		if !seen[z.Name] {
			merged = append(merged, z)
		}
	}
	return merged
}

// Redacted returns a copy of the settings safe to print, with credentials
// masked. Used by --config-dump.
func (s *Settings) Redacted() map[string]interface{} {
	token := ""
	if s.CFToken != "" {
		token = "********"
	}
	includes := make([]string, 0, len(s.TraefikIncludedHosts))
	for _, rx := range s.TraefikIncludedHosts {
		includes = append(includes, rx.String())
	}
	excludes := make([]string, 0, len(s.TraefikExcludedHosts))
	for _, rx := range s.TraefikExcludedHosts {
		excludes = append(excludes, rx.String())
	}
	doms := make([]map[string]interface{}, 0, len(s.Domains))
	for _, z := range s.Domains {
		doms = append(doms, map[string]interface{}{
			"name":                 z.Name,
			"zone_id":              z.ZoneID,
			"proxied":              z.Proxied,
			"ttl":                  z.TTL,
			"target_domain":        z.TargetDomain,
			"comment":              z.Comment,
			"excluded_sub_domains": z.ExcludedSubDomains,
		})
	}
	out := map[string]interface{}{
		"dry_run":                 s.DryRun,
		"log_file":                s.LogFile,
		"log_level":               s.LogLevel,
		"log_type":                s.LogType,
		"enable_docker_poll":      s.EnableDockerPoll,
		"docker_poll_seconds":     s.DockerPollSeconds,
		"docker_timeout_seconds":  s.DockerTimeoutSeconds,
		"enable_traefik_poll":     s.EnableTraefikPoll,
		"traefik_poll_url":        s.TraefikPollURL,
		"traefik_poll_seconds":    s.TraefikPollSeconds,
		"traefik_timeout_seconds": s.TraefikTimeoutSeconds,
		"traefik_included_hosts":  includes,
		"traefik_excluded_hosts":  excludes,
		"refresh_entries":         s.RefreshEntries,
		"cf_token":                token,
		"cf_email":                s.CFEmail,
		"target_domain":           s.TargetDomain,
		"default_ttl":             s.DefaultTTL,
		"rc_type":                 s.RecordType,
		"max_retries":             s.MaxRetries,
		"prometheus_port":         s.PrometheusPort,
		"domains":                 doms,
	}
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
