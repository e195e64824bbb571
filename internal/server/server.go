// Package server exposes the guard pipeline over HTTP and WebSocket. It is a
// thin transport front end: it accepts text, forwards it through the
// pipeline governed by the active policy, and returns the sanitized result.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/audit"
	"github.com/slkreddy/SafeLayer/internal/cache"
	"github.com/slkreddy/SafeLayer/internal/config"
	"github.com/slkreddy/SafeLayer/internal/guard"
	"github.com/slkreddy/SafeLayer/internal/logger"
	"github.com/slkreddy/SafeLayer/internal/policy"
	wshub "github.com/slkreddy/SafeLayer/internal/websocket"
)

// Server represents the SafeLayer HTTP server
type Server struct {
	config *config.Config
	logger *logger.Logger
	store  *policy.Store
	sink   audit.Sink
	cache  *cache.ResultCache
	router *mux.Router
	server *http.Server
	wsHub  *wshub.Hub

	mu      sync.RWMutex
	manager *guard.Manager

	recognizer guard.EntityRecognizer
	limiters   *ipLimiters
	startTime  time.Time

	totalRequests   int64
	totalDetections int64
}

// New creates a new server instance. The result cache may be nil when
// caching is disabled.
func New(cfg *config.Config, log *logger.Logger, store *policy.Store, sink audit.Sink, resultCache *cache.ResultCache, recognizer guard.EntityRecognizer) (*Server, error) {
	hub := wshub.NewHub(&wshub.HubConfig{
		BroadcastDetections:  cfg.WebSocket.Events.BroadcastDetections,
		BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
	}, log.WithComponent("websocket").Logger)

	s := &Server{
		config:     cfg,
		logger:     log.WithComponent("server"),
		store:      store,
		cache:      resultCache,
		router:     mux.NewRouter(),
		wsHub:      hub,
		recognizer: recognizer,
		limiters:   newIPLimiters(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
		startTime:  time.Now(),
	}

	// Every audit record also feeds the event hub.
	s.sink = &eventSink{next: sink, hub: hub, detections: &s.totalDetections}

	if err := s.rebuildManager(); err != nil {
		return nil, err
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// rebuildManager rebuilds the guard chain from the active policy. Called at
// startup and whenever the active policy changes.
func (s *Server) rebuildManager() error {
	active := s.store.ActivePolicy()

	guards, err := guard.FromPolicy(active, guard.Options{
		Explain:    s.config.Policy.Explain,
		Recognizer: s.recognizer,
	}, s.logger.WithComponent("guard"))
	if err != nil {
		return fmt.Errorf("failed to build guard chain: %w", err)
	}

	manager := guard.NewManager(guards, s.sink, s.logger.WithPolicy(active.Name))

	s.mu.Lock()
	s.manager = manager
	s.mu.Unlock()

	s.logger.Info("Pipeline rebuilt",
		zap.String("policy", active.Name),
		zap.String("version", active.Version),
		zap.Int("guards", len(guards)),
	)

	return nil
}

// currentManager returns the manager for the currently active policy.
func (s *Server) currentManager() *guard.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// Sanitize-over-WebSocket endpoint
	s.router.HandleFunc(s.config.WebSocket.Path, s.handleSanitizeWS).Methods("GET")

	// Observer event stream
	s.router.HandleFunc("/ws/events", s.wsHub.HandleWebSocket).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/process", s.handleProcess).Methods("POST")
	api.HandleFunc("/policies", s.handleListPolicies).Methods("GET")
	api.HandleFunc("/policies/active", s.handleActivePolicy).Methods("GET")
	api.HandleFunc("/policies/active", s.handleSetActivePolicy).Methods("PUT")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting SafeLayer server",
		zap.Int("port", s.config.Server.Port),
		zap.String("active_policy", s.store.ActivePolicy().Name),
	)

	go s.wsHub.Run()
	go s.broadcastStatus()

	return s.server.ListenAndServe()
}

// broadcastStatus periodically pushes a system status event to observers.
func (s *Server) broadcastStatus() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.wsHub.BroadcastEvent(wshub.Event{
			Type:      wshub.EventTypeSystemStatus,
			Timestamp: time.Now(),
			Data: wshub.SystemStatusEvent{
				Status:           "healthy",
				Uptime:           time.Since(s.startTime).String(),
				ActivePolicy:     s.store.ActivePolicy().Name,
				TotalRequests:    atomic.LoadInt64(&s.totalRequests),
				TotalDetections:  atomic.LoadInt64(&s.totalDetections),
				ConnectedClients: s.wsHub.ClientCount(),
			},
		})
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping SafeLayer server")
	return s.server.Shutdown(ctx)
}

// Router exposes the route table, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// eventSink forwards every audit record to the underlying sink and then
// broadcasts it to WebSocket observers.
type eventSink struct {
	next       audit.Sink
	hub        *wshub.Hub
	detections *int64
}

func (s *eventSink) Record(entry audit.Entry) error {
	if err := s.next.Record(entry); err != nil {
		return err
	}

	atomic.AddInt64(s.detections, 1)

	s.hub.BroadcastEvent(wshub.Event{
		Type:      wshub.EventTypeDetection,
		Timestamp: entry.Timestamp,
		Data: wshub.DetectionEvent{
			Guard:       entry.Guard,
			Entity:      entry.Entity,
			Start:       entry.Start,
			End:         entry.End,
			Explanation: entry.Explanation,
		},
	})

	return nil
}

func (s *eventSink) Close() error {
	return s.next.Close()
}
