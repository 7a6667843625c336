package proxy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// adminRouter serves requests addressed to the proxy itself rather than proxied through it
func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", s.handleStatus)
	r.Post("/sweep", s.handleSweep)
	r.Get("/config", s.handleConfig)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.worker.Status(r.Context())
	if err != nil {
		logrus.Errorf("Failed to read cache status: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeYAML(w, http.StatusOK, status)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.worker.SweepCurrent(r.Context())
	if err != nil {
		logrus.Errorf("Failed to sweep cache: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	logrus.Infof("Swept %d expired entries on request", deleted)
	writeYAML(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeYAML(w, http.StatusOK, s.config)
}

func writeYAML(w http.ResponseWriter, code int, v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(code)
	_, _ = w.Write(out)
}
