// Package http serves the sync client's local status surface: Prometheus
// metrics, liveness, and a JSON snapshot of the connection, cache, and
// health state.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"picpic.sync/internal/adapters/realtime"
	"picpic.sync/internal/core/domain"
	"picpic.sync/internal/core/events"
	"picpic.sync/internal/core/services"
)

type Server struct {
	router        *chi.Mux
	conn          *realtime.Manager
	registry      *realtime.Registry
	store         *services.JobStore
	health        *services.HealthService
	notifications *services.NotificationCenter
	srv           *http.Server
}

func NewServer(
	conn *realtime.Manager,
	registry *realtime.Registry,
	store *services.JobStore,
	health *services.HealthService,
	notifications *services.NotificationCenter,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		conn:          conn,
		registry:      registry,
		store:         store,
		health:        health,
		notifications: notifications,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})
	s.router.Get("/healthz", s.handleLiveness)
	s.router.Get("/statusz", s.handleStatus)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/stats", s.handleJobStats)
		r.Get("/notifications", s.handleNotifications)
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type statusResponse struct {
	Connection    string                   `json:"connection"`
	Subscriptions []realtime.Subscription  `json:"subscriptions"`
	Jobs          int                      `json:"jobs"`
	JobStats      map[domain.JobStatus]int `json:"job_stats"`
	Notifications int                      `json:"notifications"`
	Health        *services.HealthReport   `json:"health,omitempty"`
	Timestamp     time.Time                `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Connection:    string(s.conn.State()),
		Subscriptions: s.registry.Active(),
		Jobs:          s.store.Len(),
		JobStats:      s.store.Stats(),
		Notifications: len(s.notifications.Active()),
		Health:        s.health.LastReport(),
		Timestamp:     time.Now(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.View())
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notifications.Active())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ObserveBus wires the dispatcher into the Prometheus metrics.
func ObserveBus(bus *events.Dispatcher, store *services.JobStore) {
	// A connection is a reconnection only after a disconnect was seen; the
	// first successful connect does not count.
	var connMu sync.Mutex
	sawDisconnect := false
	bus.On(events.KindConnectionStatus, func(payload any) {
		status, ok := payload.(events.ConnectionStatus)
		if !ok {
			return
		}
		SetConnectionUp(status.Connected)
		connMu.Lock()
		if status.Connected {
			if sawDisconnect {
				RecordReconnect()
			}
		} else {
			sawDisconnect = true
		}
		connMu.Unlock()
	})
	for _, kind := range []events.Kind{
		events.KindJobUpdate,
		events.KindResourceUpdate,
		events.KindNotification,
		events.KindSystemMessage,
	} {
		k := kind
		bus.On(k, func(any) {
			RecordMessage(string(k))
		})
	}
	bus.On(events.KindJobUpdate, func(any) {
		SetJobCounts(store.Stats())
	})
}
