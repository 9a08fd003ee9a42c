// Package hostfilter decides whether a discovered hostname should be synced
// against a given zone.
package hostfilter

import (
	"context"
	"regexp"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/settings"
)

type Filter struct {
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
}

func New(includes, excludes []*regexp.Regexp) *Filter {
	return &Filter{includes: includes, excludes: excludes}
}

// Accept applies the filter rules in order, short-circuiting on the first
// rejection:
//
//  1. the zone target itself is never synced (it would CNAME to itself)
//  2. the hostname must contain the zone name
//  3. excluded subdomains of the zone are skipped
//  4. an empty include list accepts everything
//  5. some include pattern must match
//  6. no exclude pattern may match
func (f *Filter) Accept(ctx context.Context, host string, zone *settings.Zone) bool {
	if host == zone.TargetDomain {
		return false
	}
	if !strings.Contains(host, zone.Name) {
		return false
	}
	for _, sub := range zone.ExcludedSubDomains {
		if strings.Contains(host, sub+"."+zone.Name) {
			dlog.Infof(ctx, "Ignoring %s because it falls under excluded sub domain: %s", host, sub)
			return false
		}
	}
	if len(f.includes) > 0 && !matchAny(host, f.includes) {
		dlog.Debugf(ctx, "Host %s does not match any include pattern", host)
		return false
	}
	if matchAny(host, f.excludes) {
		dlog.Debugf(ctx, "Host %s matches an exclude pattern", host)
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
