// Package web is the HTTP view collaborator: a JSON API over the engine's
// read-side accessors and command operations, plus a WebSocket stream of core
// events.
package web

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tansel/livewatch/client"
	"github.com/tansel/livewatch/proto"
)

// Core is the slice of the engine the web layer consumes.
type Core interface {
	Objects() []string
	Object(path string) (any, bool)
	Schema(path string) (*proto.Schema, bool)
	History(path, field string) []client.HistoryEntry
	HistoryFields(path string) []string
	IsSubscribed(path string) bool
	Subscriptions() []string
	DisplayKind(path string) string
	Connected() bool
	Strict() bool
	SetStrict(strict bool)

	Discover(path string) error
	Get(path string) error
	Subscribe(path string) error
	Unsubscribe(path string) error
	Set(path string, changes map[string]any) error
	Delete(path, field string) error
	Evict(path string)
}

// Server serves the JSON API and fans core events out to WebSocket clients.
type Server struct {
	core     Core
	upgrader websocket.Upgrader

	wsMu    sync.Mutex
	wsConns map[string]chan client.Event
}

func NewServer(core Core) *Server {
	return &Server{
		core: core,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		wsConns: make(map[string]chan client.Event),
	}
}

// Routes returns the HTTP routes for the API and the event stream.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/status", s.HandleStatus)
	r.Put("/api/strict", s.HandleSetStrict)

	r.Get("/api/objects", s.HandleObjects)
	r.Get("/api/objects/{path}", s.HandleObjectDetail)
	r.Delete("/api/objects/{path}", s.HandleEvict)
	r.Get("/api/objects/{path}/history/{field}", s.HandleHistory)

	r.Post("/api/objects/{path}/discover", s.HandleDiscover)
	r.Post("/api/objects/{path}/get", s.HandleGet)
	r.Post("/api/objects/{path}/subscribe", s.HandleSubscribe)
	r.Post("/api/objects/{path}/unsubscribe", s.HandleUnsubscribe)

	r.Put("/api/objects/{path}/fields/{field}", s.HandleSetField)
	r.Delete("/api/objects/{path}/fields/{field}", s.HandleDeleteField)

	r.Get("/ws", s.HandleEvents)
	return r
}

// Broadcast fans a core event out to every connected WebSocket client. It is
// registered as the engine's event callback and must never block, so slow
// clients drop events instead of stalling the processing tick.
func (s *Server) Broadcast(ev client.Event) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for id, ch := range s.wsConns {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping event for slow WebSocket client", "id", id, "kind", ev.Kind)
		}
	}
}

// HandleEvents upgrades to WebSocket and streams core events until the client
// disconnects.
func (s *Server) HandleEvents(wr http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()[:8]
	ch := make(chan client.Event, 64)
	s.wsMu.Lock()
	s.wsConns[id] = ch
	s.wsMu.Unlock()
	defer func() {
		s.wsMu.Lock()
		delete(s.wsConns, id)
		s.wsMu.Unlock()
	}()
	slog.Info("WebSocket client connected", "id", id)

	// reader only watches for close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("WebSocket write failed", "id", id, "err", err)
				return
			}
		}
	}
}
