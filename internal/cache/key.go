package cache

import (
	"net/url"
	"strings"
)

// Key normalizes a request URL into the store key for the read-only GET it
// represents. Fragments are dropped, hosts lowercased, and default ports
// elided so equivalent URLs share an entry.
func Key(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	host := strings.ToLower(c.Host)
	switch c.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	c.Host = host
	if c.Path == "" {
		c.Path = "/"
	}
	return "GET " + c.String()
}
