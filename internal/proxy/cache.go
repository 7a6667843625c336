package proxy

import (
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-proxy/internal/interceptor"
	"github.com/iTrooz/offline-cache-proxy/internal/logging"
)

// cacheStatus is the X-Cache value of an outcome
func cacheStatus(outcome interceptor.Outcome) string {
	switch outcome {
	case interceptor.ServedFromCache:
		return "HIT"
	case interceptor.Stored:
		return "MISS"
	case interceptor.ServedStale:
		return "STALE"
	}
	return "BYPASS"
}

// handleRequest lets the worker answer proxied requests. Requests it declines are
// forwarded by goproxy as usual
func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	outcome, resp, err := s.worker.Handle(upstreamRequest(requ))
	log := logrus.WithFields(logging.ProxyFields(uuid.NewString(), requ.Method, requ.URL.String(), outcome.String()))

	switch outcome {
	case interceptor.Ignored:
		log.Debugf("Forwarding request without cache")
		return requ, nil
	case interceptor.Failed:
		log.Errorf("Failed to fetch %s: %v", requ.URL, err)
		return requ, goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, err.Error())
	}

	resp.Header.Set("X-Cache", cacheStatus(outcome))
	log.Infof("%s %s -> %d", requ.Method, requ.URL, resp.StatusCode)
	return requ, resp
}
