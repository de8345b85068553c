// Package server provides the admin HTTP server of a store node.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/health"
	"github.com/opennetworkinglab/onos-sub118/internal/metrics"
	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"github.com/opennetworkinglab/onos-sub118/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds admin server settings
type Config struct {
	Host          string
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MetricsPath   string
	ReadyMinPeers int
	RateLimit     float64
	RateBurst     int
}

// Server serves metrics, health and read-only debug views of one node.
type Server struct {
	cfg        *Config
	router     *mux.Router
	httpServer *http.Server
	node       *service.Node
	metrics    *metrics.Metrics
	health     *health.Checker
	logger     *zap.Logger
}

// DigestSummary is the body of /debug/digest.
type DigestSummary struct {
	NodeID         string   `json:"node_id"`
	Entities       int      `json:"entities"`
	LiveFragments  int      `json:"live_fragments"`
	Tombstones     int      `json:"tombstones"`
	DigestRemovals int      `json:"digest_removals"`
	Peers          []string `json:"peers"`
}

// EntityView is the body of /debug/entities/{key}.
type EntityView struct {
	Entity    *model.Entity    `json:"entity,omitempty"`
	Fragments []FragmentView   `json:"fragments,omitempty"`
	Removed   *model.Timestamp `json:"removed,omitempty"`
}

// FragmentView is one provider's contribution to an entity.
type FragmentView struct {
	Provider    model.ProviderID   `json:"provider"`
	Description *model.Description `json:"description"`
	Timestamp   model.Timestamp    `json:"timestamp"`
}

// NewServer creates the admin server. m may be nil, in which case no
// metrics route is served.
func NewServer(cfg *Config, node *service.Node, m *metrics.Metrics, logger *zap.Logger) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	router := mux.NewRouter()
	s := &Server{
		cfg:     cfg,
		router:  router,
		node:    node,
		metrics: m,
		health:  health.NewChecker(5*time.Second, logger),
		logger:  logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.health.Register("cluster", s.checkPeers)
	s.SetupRoutes()
	return s
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		Recovery(s.logger),
		RequestID,
		Logging(s.logger),
	}
	if s.cfg.RateLimit > 0 {
		middlewareChain = append(middlewareChain, NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst, s.logger).Limit)
	}
	s.router.Use(mux.MiddlewareFunc(Chain(middlewareChain...)))

	if s.metrics != nil {
		s.router.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/health", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.ReadinessHandler).Methods(http.MethodGet)

	debug := s.router.PathPrefix("/debug").Subrouter()
	debug.HandleFunc("/digest", s.handleDigest).Methods(http.MethodGet)
	debug.HandleFunc("/entities", s.handleListEntities).Methods(http.MethodGet)
	debug.HandleFunc("/entities/{key}", s.handleGetEntity).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
}

// Start runs readiness checks and serves until Shutdown.
func (s *Server) Start() error {
	s.health.Start()
	s.logger.Info("Starting admin server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin server")
	s.health.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) checkPeers(context.Context) error {
	if len(s.node.Messenger.Peers()) < s.cfg.ReadyMinPeers {
		return storeerrors.NoPeers()
	}
	return nil
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	d := s.node.Store.Digest()
	peers := s.node.Messenger.Peers()
	if peers == nil {
		peers = []string{}
	}
	writeJSON(w, http.StatusOK, DigestSummary{
		NodeID:         s.node.ID,
		Entities:       s.node.Store.Count(),
		LiveFragments:  len(d.Live),
		Tombstones:     s.node.Store.TombstoneCount(),
		DigestRemovals: len(d.Tombstones),
		Peers:          peers,
	})
}

// handleListEntities answers at most one filter: location, provider,
// address or attribute=name=value. No filter lists everything.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entities := s.node.Entities
	var result []*model.Entity
	switch {
	case q.Has("location"):
		result = entities.GetByLocation(q.Get("location"))
	case q.Has("provider"):
		result = entities.GetByProvider(model.ProviderID(q.Get("provider")))
	case q.Has("address"):
		result = entities.GetByAddress(q.Get("address"))
	case q.Has("attribute"):
		name, value, ok := strings.Cut(q.Get("attribute"), "=")
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "attribute filter must be name=value")
			return
		}
		result = entities.GetByAttribute(name, value)
	default:
		result = entities.GetAll()
	}
	if result == nil {
		result = []*model.Entity{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	key := model.EntityKey(mux.Vars(r)["key"])

	var view EntityView
	if e, ok := s.node.Entities.Get(key); ok {
		view.Entity = e
		for _, p := range e.Providers {
			if f, ok := s.node.Store.Fragment(model.FragmentKey{Key: key, Provider: p}); ok {
				view.Fragments = append(view.Fragments, FragmentView{
					Provider:    f.Provider,
					Description: f.Description,
					Timestamp:   f.Timestamp,
				})
			}
		}
		sort.Slice(view.Fragments, func(i, j int) bool { return view.Fragments[i].Provider < view.Fragments[j].Provider })
	}
	if ts, ok := s.node.Store.Tombstone(key); ok {
		view.Removed = &ts
	}

	if view.Entity == nil {
		if view.Removed != nil {
			writeJSON(w, http.StatusNotFound, view)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("entity '%s' not found", key))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"status":     "error",
		"error_code": code,
		"message":    message,
	})
}
