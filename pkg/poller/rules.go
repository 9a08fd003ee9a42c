package poller

import "regexp"

var (
	// hostRuleRx captures every Host(`…`) expression in a Traefik router rule.
	hostRuleRx = regexp.MustCompile("Host\\(`([^`]+)`\\)")

	// ruleLabelRx matches router-rule label keys such as
	// traefik.http.routers.web.rule.
	ruleLabelRx = regexp.MustCompile(`traefik.*?\.rule`)
)

// ExtractHosts returns the hostnames captured by Host(`…`) expressions in
// rule, deduplicated in order of appearance.
func ExtractHosts(rule string) []string {
	matches := hostRuleRx.FindAllStringSubmatch(rule, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	hosts := make([]string, 0, len(matches))
	for _, m := range matches {
		if host := m[1]; !seen[host] {
			seen[host] = true
			hosts = append(hosts, host)
		}
	}
	return hosts
}
