// Package policy decides which request origins the cache is allowed to touch.
package policy

import (
	"net/url"
	"strings"
)

// Origin is the allow-list predicate applied before any cache interaction.
// Same-origin requests are always eligible; cross-origin requests only when
// their host is allow-listed. Everything else must be passed through
// untouched. Immutable once built; a new deploy manifest builds a new one.
type Origin struct {
	site    string
	allowed map[string]struct{}
}

// NewOrigin builds the predicate from the site's own host and the manifest's
// allowed cross-origin hosts. Hosts are compared case-insensitively.
func NewOrigin(siteHost string, allowedHosts []string) *Origin {
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, host := range allowedHosts {
		trimmed := strings.ToLower(strings.TrimSpace(host))
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}
	return &Origin{site: strings.ToLower(siteHost), allowed: allowed}
}

// SiteHost reports the host this policy considers same-origin.
func (o *Origin) SiteHost() string {
	if o == nil {
		return ""
	}
	return o.site
}

// Cacheable reports whether responses from the URL's origin may be cached.
func (o *Origin) Cacheable(u *url.URL) bool {
	if o == nil || u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == o.site {
		return true
	}
	_, ok := o.allowed[host]
	return ok
}

// CrossOrigin reports whether the URL points away from the site host.
func (o *Origin) CrossOrigin(u *url.URL) bool {
	if o == nil || u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host != "" && host != o.site
}
