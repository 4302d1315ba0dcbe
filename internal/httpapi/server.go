package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Mozart409/uptime-forge/internal/config"
	"github.com/Mozart409/uptime-forge/internal/status"
)

// Supervisor is the slice of the scheduler the API needs: reading the
// status table and triggering an out-of-band reconciliation.
type Supervisor interface {
	Snapshot() map[string]status.EndpointStatus
	Reconcile(endpoints []config.Endpoint)
}

type Server struct {
	Logger     *zap.Logger
	Sup        Supervisor
	ConfigPath string
}

func NewServer(l *zap.Logger, sup Supervisor, configPath string) *Server {
	return &Server{Logger: l, Sup: sup, ConfigPath: configPath}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/status", s.handleStatus)
	r.Post("/api/reload", s.handleReload)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Sup.Snapshot()
	out := make([]status.EndpointStatus, 0, len(snap))
	for _, st := range snap {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleReload loads a fresh config snapshot and reconciles the live task
// set against it. A malformed config aborts the pass and leaves the running
// tasks untouched.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	cfg, warnings, err := config.Load(s.ConfigPath)
	for _, warn := range warnings {
		s.Logger.Warn("config_warning",
			zap.String("endpoint", warn.Endpoint),
			zap.String("message", warn.Message),
		)
	}
	if err != nil {
		s.Logger.Warn("reload_rejected", zap.Error(err))
		http.Error(w, "config invalid: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.Sup.Reconcile(cfg.Endpoints)
	s.Logger.Info("manual_reload", zap.Int("endpoints", len(cfg.Endpoints)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"reloaded": len(cfg.Endpoints)})
}
