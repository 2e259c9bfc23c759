package health

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/archive"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

// Stats reads aggregated delivery history.
type Stats interface {
	Stats(ctx context.Context) ([]archive.ChainStats, error)
}

// Admin holds the read-only sources behind the /api endpoints. Nil fields
// disable the matching endpoint.
type Admin struct {
	Token   string
	Store   storage.ConfigStore
	Ledger  storage.DedupLedger
	Pending storage.PendingQueue
	Stats   Stats
}

// Server provides HTTP endpoints for health monitoring and inspection.
type Server struct {
	monitor *Monitor
	reports Reports
	admin   Admin
	server  *http.Server
	log     *slog.Logger
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, reports Reports, admin Admin, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		reports: reports,
		admin:   admin,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.Default().With("component", "health"),
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/admin/configs", s.authorized(s.handleConfigs))
	mux.HandleFunc("/api/admin/stats", s.authorized(s.handleStats))

	return s
}

// Handler exposes the routes for in-process use.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := Worst(s.monitor.CheckHealth(r.Context()))

	code := http.StatusOK
	if status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"status": string(status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	chains := s.monitor.CheckHealth(r.Context())
	s.writeJSON(w, http.StatusOK, HealthReport{SystemStatus: Worst(chains), Chains: chains})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cycle := s.reports.LastCycle()
	if cycle == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"cycle": nil, "chains": s.reports.LastReports()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"cycle":  cycle,
		"totals": cycle.Totals(),
		"chains": s.reports.LastReports(),
	})
}

type destinationView struct {
	Destination string                      `json:"destination"`
	Animation   string                      `json:"animation_url,omitempty"`
	Emoji       string                      `json:"emoji"`
	Watches     map[domain.ChainID][]string `json:"watches"`
	Notified    map[domain.ChainID]int      `json:"notified,omitempty"`
	Pending     map[domain.ChainID]int      `json:"pending,omitempty"`
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	if s.admin.Store == nil {
		http.NotFound(w, r)
		return
	}
	cfgs, err := s.admin.Store.List(r.Context())
	if err != nil {
		s.fail(w, "list configs", err)
		return
	}

	out := make([]destinationView, 0, len(cfgs))
	for _, cfg := range cfgs {
		v := destinationView{
			Destination: cfg.ID,
			Animation:   cfg.AnimationURL,
			Emoji:       cfg.Glyph(),
			Watches:     make(map[domain.ChainID][]string),
		}
		for chain := range cfg.Watches {
			for _, t := range cfg.Watching(chain) {
				v.Watches[chain] = append(v.Watches[chain], string(t))
			}
			if s.admin.Ledger != nil {
				n, err := s.admin.Ledger.Count(r.Context(), cfg.ID, chain)
				if err != nil {
					s.fail(w, "count ledger", err)
					return
				}
				if v.Notified == nil {
					v.Notified = make(map[domain.ChainID]int)
				}
				v.Notified[chain] = n
			}
			if s.admin.Pending != nil {
				n, err := s.admin.Pending.Count(r.Context(), cfg.ID, chain)
				if err != nil {
					s.fail(w, "count pending", err)
					return
				}
				if n > 0 {
					if v.Pending == nil {
						v.Pending = make(map[domain.ChainID]int)
					}
					v.Pending[chain] = n
				}
			}
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.admin.Stats == nil {
		http.NotFound(w, r)
		return
	}
	stats, err := s.admin.Stats.Stats(r.Context())
	if err != nil {
		s.fail(w, "read stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.admin.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.admin.Token)) != 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error("Admin request failed", "op", op, "error", err)
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": op + " failed"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}
