package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/interceptor"
)

const shutdownTimeout = 5 * time.Second

// Server represents the caching proxy server
type Server struct {
	config  *config.Config
	storage cache.Storage
	scope   interceptor.Scope
	worker  *interceptor.Worker
	proxy   *goproxy.ProxyHttpServer
}

// New creates a new proxy server. Its worker still has to be activated, see Activate
func New(cfg *config.Config) (*Server, error) {
	window, err := cfg.GetFreshnessWindow()
	if err != nil {
		return nil, fmt.Errorf("invalid cache freshness window: %w", err)
	}

	scope, err := interceptor.NewScope(cfg.Scope.Origin, cfg.Scope.AllowedHosts)
	if err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}

	location := cfg.Cache.Folder
	if cfg.Cache.Backend == cache.BackendSQLite {
		location = cfg.Cache.Database
	}
	storage, err := cache.NewStorage(cfg.Cache.Backend, location)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache storage: %w", err)
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.CertStore = newCertStore()

	worker, err := interceptor.New(interceptor.Options{
		Version:          cfg.Cache.Version,
		Storage:          storage,
		Fetcher:          proxy.Tr,
		Scope:            scope,
		FreshnessWindow:  window,
		SweepProbability: cfg.Cache.SweepProbability,
	})
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to create cache worker: %w", err)
	}

	s := &Server{
		config:  cfg,
		storage: storage,
		scope:   scope,
		worker:  worker,
		proxy:   proxy,
	}

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			_ = storage.Close()
			return nil, err
		}
	}
	proxy.OnRequest().DoFunc(s.handleRequest)
	proxy.NonproxyHandler = s.adminRouter()

	return s, nil
}

// GetProxy returns the HTTP handler of the proxy
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

// Worker returns the cache worker mediating proxied requests
func (s *Server) Worker() *interceptor.Worker {
	return s.worker
}

// Activate installs and activates the cache worker. Until it returns, requests are
// proxied without cache
func (s *Server) Activate(ctx context.Context) error {
	s.worker.Install()
	return s.worker.Activate(ctx)
}

// Start activates the worker and serves the proxy until ctx is done
func (s *Server) Start(ctx context.Context) error {
	if err := s.Activate(ctx); err != nil {
		return fmt.Errorf("failed to activate cache: %w", err)
	}

	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" {
		go func() {
			if err := s.StartTransparentHTTPS(addr); err != nil {
				logrus.Errorf("Transparent HTTPS listener failed: %v", err)
			}
		}()
	}

	logrus.Infof("Starting caching proxy on port %d", s.config.Server.Port)
	logrus.Infof("Cache backend: %s", s.config.Cache.Backend)
	logrus.Infof("Cache generation: %s", s.config.Cache.Version)
	logrus.Infof("Cache freshness window: %s", s.config.Cache.FreshnessWindow)
	logrus.Infof("Origin: %s, allowed hosts: %v", s.config.Scope.Origin, s.config.Scope.AllowedHosts)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Server.Port),
		Handler: s.proxy,
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		logrus.Infof("Shutting down caching proxy")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Failed to shut down proxy server: %v", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close waits for background cache maintenance and closes the storage
func (s *Server) Close() error {
	s.worker.Close()
	return s.storage.Close()
}
