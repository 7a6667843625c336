package interceptor

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAllowedHost is the external API mediated next to same-origin traffic
const DefaultAllowedHost = "jsonplaceholder.typicode.com"

// Scope decides which requests are mediated: same-origin requests, and requests
// whose host contains one of AllowedHosts.
type Scope struct {
	origin       *url.URL
	allowedHosts []string
}

// NewScope parses origin (scheme://host[:port]). An empty origin matches no request.
func NewScope(origin string, allowedHosts []string) (Scope, error) {
	scope := Scope{}
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			scope.allowedHosts = append(scope.allowedHosts, h)
		}
	}
	if origin == "" {
		return scope, nil
	}

	u, err := url.Parse(origin)
	if err != nil {
		return Scope{}, fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Scope{}, fmt.Errorf("invalid origin %q: scheme and host are required", origin)
	}
	scope.origin = u
	return scope, nil
}

// Allows reports whether the request is in scope
func (s Scope) Allows(req *http.Request) bool {
	target := targetURL(req)
	if s.origin != nil && sameOrigin(s.origin, target) {
		return true
	}

	host := strings.ToLower(target.Hostname())
	for _, allowed := range s.allowedHosts {
		if strings.Contains(host, allowed) {
			return true
		}
	}
	return false
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// targetURL returns the absolute URL a request is aimed at
func targetURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}

	// Reconstruct URL from Host header
	u := *r.URL
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = r.Host
	return &u
}
