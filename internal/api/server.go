// Package api provides the read-only HTTP and WebSocket adapter of
// spec.md §4.19: a snapshot/health/control endpoint set plus a WebSocket
// feed of the events internal/observer.Hub publishes, and a /metrics
// endpoint serving internal/metrics.Registry. Grounded on the teacher's
// internal/api/server.go Server/Client/Message shape, trimmed to the
// read-only surface this engine exposes — there is no "run a backtest"
// or "place an order" endpoint here, since every mutation path in this
// engine runs through the driver's own cycle, not the API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/polytrader/polytrader/internal/control"
	"github.com/polytrader/polytrader/internal/metrics"
	"github.com/polytrader/polytrader/internal/observer"
	"github.com/polytrader/polytrader/internal/snapshot"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server. It never mutates engine state;
// every field it holds is either read-only or belongs to the hub.
type Server struct {
	mu     sync.RWMutex
	logger *zap.Logger
	cfg    types.ServerConfig

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	hub         *observer.Hub
	snapshotPath string
	ctrl        *control.Channel

	clients map[string]*client
}

// client is one connected WebSocket dashboard consumer.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	sub  *observer.Subscription
}

// Message is the envelope every WebSocket frame uses.
type Message struct {
	Type      string      `json:"type"` // event, response, error
	Kind      string      `json:"kind,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer builds the API server. snapshotPath is read fresh on every
// /api/v1/snapshot request rather than cached, so it always reflects the
// last cycle the driver persisted.
func NewServer(logger *zap.Logger, cfg types.ServerConfig, hub *observer.Hub, ctrl *control.Channel, snapshotPath string) *Server {
	s := &Server{
		logger:       logger,
		cfg:          cfg,
		router:       mux.NewRouter(),
		hub:          hub,
		ctrl:         ctrl,
		snapshotPath: snapshotPath,
		clients:      make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router for tests that want to drive
// requests through httptest.NewServer without binding a real port.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/snapshot", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/api/v1/control", s.handleControl).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	path := s.cfg.WebSocketPath
	if path == "" {
		path = "/ws"
	}
	s.router.HandleFunc(path, s.handleWebSocket)
}

// Start runs the HTTP server until it errors or Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := s.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, closing every WebSocket client.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := snapshot.Read(s.snapshotPath)
	if err != nil {
		http.Error(w, "snapshot not available: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
