package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Key returns the lookup key of a request: its absolute URL without fragment
func Key(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	if !u.IsAbs() {
		// Server side requests carry the host outside of the URL
		u.Host = req.Host
		u.Scheme = "http"
		if req.TLS != nil {
			u.Scheme = "https"
		}
	}
	return u.String()
}

// requestForKey rebuilds a GET request from a key returned by Key
func requestForKey(ctx context.Context, key string) (*http.Request, error) {
	if _, err := url.Parse(key); err != nil {
		return nil, fmt.Errorf("invalid cache key %q: %w", key, err)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
}
