package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	syncpkg "github.com/dash-sync/internal/sync"
	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

// SnapshotStore serves last-known state recorded on a previous run, so the
// bridge has something to answer with before a live watcher exists.
type SnapshotStore interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetListing(ctx context.Context, kind string) ([]models.Job, error)
	Health(ctx context.Context) error
}

// Server re-serves mirrored backend state to local consumers: snapshot REST
// endpoints plus a WebSocket fanout of live updates.
type Server struct {
	cfg       *config.BridgeConfig
	log       *logrus.Entry
	registry  *Registry
	hub       *Hub
	snapshots SnapshotStore
	server    *http.Server
	started   time.Time
}

// NewServer creates the bridge HTTP server. snapshots is nil when the
// snapshot store is disabled.
func NewServer(cfg *config.BridgeConfig, registry *Registry, hub *Hub, snapshots SnapshotStore, log *logrus.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log.WithField("component", "bridge"),
		registry:  registry,
		hub:       hub,
		snapshots: snapshots,
	}

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws", hub.ServeWS)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/watch", s.handleWatchJob).Methods(http.MethodPost)
	api.HandleFunc("/history/{id}", s.handleGetHistory).Methods(http.MethodGet)
	api.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)

	var handler http.Handler = router
	if cfg.CORSEnabled {
		handler = handlers.CORS(
			handlers.AllowedOrigins(cfg.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(router)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins serving; blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.started = time.Now()
	s.log.WithField("addr", s.server.Addr).Info("Bridge server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("bridge server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.started).String(),
		"clients":     s.hub.ClientCount(),
		"subscribers": s.registry.Stats(),
	}
	if s.snapshots != nil {
		if err := s.snapshots.Health(r.Context()); err != nil {
			payload["store"] = err.Error()
		} else {
			payload["store"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	listing, err := s.registry.EnsureListing(r.Context())
	if err != nil {
		// Degrade to the last listing the store saw before failing the
		// request outright.
		if s.snapshots != nil {
			if jobs, storeErr := s.snapshots.GetListing(r.Context(), "jobs"); storeErr == nil && jobs != nil {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"jobs":    jobs,
					"loading": true,
					"cached":  true,
				})
				return
			}
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":    listing.Items(),
		"loading": listing.Loading(),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	watcher := s.registry.Job(id)
	if watcher == nil {
		if s.snapshots != nil {
			job, err := s.snapshots.GetJob(r.Context(), id)
			if err != nil {
				s.log.WithError(err).Warn("Snapshot store lookup failed")
			} else if job != nil {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"phase":  syncpkg.PhaseIdle,
					"job":    job,
					"cached": true,
				})
				return
			}
		}
		writeError(w, http.StatusNotFound, fmt.Errorf("no active subscription for job %s", id))
		return
	}

	state := watcher.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":        state.Phase,
		"job":          state.Job,
		"result":       state.Result,
		"transactions": state.Transactions,
		"loading":      state.Loading,
		"completed":    state.Completed,
	})
}

func (s *Server) handleWatchJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	// Subscriptions outlive the request, so they bind to the background
	// context rather than the request's.
	watcher, err := s.registry.WatchJob(context.Background(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": id,
		"phase":  watcher.Snapshot().Phase,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	intervals := r.URL.Query()["interval"]
	if len(intervals) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at least one interval is required"))
		return
	}

	opts := syncpkg.HistoryOptions{ResourceID: id, Intervals: intervals}
	watcher := s.registry.History(opts.Key())
	if watcher == nil {
		var err error
		watcher, err = s.registry.WatchHistory(context.Background(), opts)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intervals": watcher.Snapshot(),
		"loading":   watcher.Loading(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.registry.EnsureStrategies(context.Background())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": strategies.Items(),
		"loading":    strategies.Loading(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
