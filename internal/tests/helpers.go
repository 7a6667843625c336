package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/proxy"
)

// upstream is a test origin server counting the requests it answers
type upstream struct {
	*httptest.Server
	hits atomic.Int32
}

// fixture_upstream creates a test upstream server
func fixture_upstream() *upstream {
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.hits.Add(1)
		if requ.URL.Path == "/error" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": "boom"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "Hello from upstream", "method": "` + requ.Method + `", "path": "` + requ.URL.Path + `"}`))
	}))
	return u
}

// fixture_config creates a test config caching requests to origin in tempDir
func fixture_config(origin, tempDir string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Cache.Folder = tempDir
	cfg.Cache.Version = "integ-v1"
	cfg.Cache.SweepProbability = 0
	cfg.Scope.Origin = origin
	return &cfg
}

// fixture_proxy creates and activates a proxy server with the given config and returns the server, test server, and HTTP client
func fixture_proxy(t *testing.T, cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	t.Cleanup(func() { _ = proxyServer.Close() })

	if err := proxyServer.Activate(context.Background()); err != nil {
		t.Fatalf("Failed to activate proxy server: %v", err)
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())
	t.Cleanup(proxyTestServer.Close)

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client
}
