// Package api is the HTTP surface for recovery operations, event
// queries, and live streaming.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hanoibanhcuon/automaker/internal/bus"
	"github.com/hanoibanhcuon/automaker/internal/eventstore"
	"github.com/hanoibanhcuon/automaker/internal/recovery"
	"github.com/hanoibanhcuon/automaker/internal/reportstore"
)

// Server is the HTTP API server
type Server struct {
	svc      *recovery.Service
	events   *eventstore.Store
	reports  *reportstore.Store
	bus      *bus.Bus
	log      zerolog.Logger
	addr     string
	mux      *http.ServeMux
	hub      *streamHub
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. The report store may be nil when
// sweep archiving is disabled.
func NewServer(svc *recovery.Service, events *eventstore.Store, reports *reportstore.Store, eventBus *bus.Bus, addr string, log zerolog.Logger) *Server {
	s := &Server{
		svc:     svc,
		events:  events,
		reports: reports,
		bus:     eventBus,
		log:     log,
		addr:    addr,
		mux:     http.NewServeMux(),
		hub:     newStreamHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/recovery/report", s.reportHandler())
	s.mux.HandleFunc("/api/recovery/history", s.historyHandler())
	s.mux.HandleFunc("/api/recovery/reconcile", s.reconcileHandler())
	s.mux.HandleFunc("/api/recovery/rebuild-output", s.rebuildOutputHandler())
	s.mux.HandleFunc("/api/recovery/resume", s.resumeHandler())
	s.mux.HandleFunc("/api/recovery/restore-deps", s.restoreDepsHandler())
	s.mux.HandleFunc("/api/records/", s.recordTimelineHandler())
	s.mux.HandleFunc("/api/events", s.eventsHandler())
	s.mux.HandleFunc("/api/events/", s.eventHandler())
	s.mux.HandleFunc("/api/stream", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Start starts the HTTP server. When a bus is present its events are
// bridged to both live streams.
func (s *Server) Start() error {
	go s.hub.Run()
	if s.bus != nil {
		s.bus.Subscribe(s.hub.Broadcast)
	}
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the routing mux, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broadcast sends an event to all connected stream clients.
func (s *Server) Broadcast(event bus.Event) {
	s.hub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
