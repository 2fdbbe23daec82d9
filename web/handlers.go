package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tansel/livewatch/client"
	"github.com/tansel/livewatch/proto"
)

// objectSummary is one row of the object listing.
type objectSummary struct {
	Path        string        `json:"path"`
	DisplayKind string        `json:"displayKind"`
	Subscribed  bool          `json:"subscribed"`
	Value       any           `json:"value,omitempty"`
	Schema      *proto.Schema `json:"schema,omitempty"`
}

func (s *Server) summarize(path string) objectSummary {
	sum := objectSummary{
		Path:        path,
		DisplayKind: s.core.DisplayKind(path),
		Subscribed:  s.core.IsSubscribed(path),
	}
	if value, ok := s.core.Object(path); ok {
		sum.Value = value
	}
	if schema, ok := s.core.Schema(path); ok {
		sum.Schema = schema
	}
	return sum
}

func (s *Server) HandleStatus(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, map[string]any{
		"connected":     s.core.Connected(),
		"strict":        s.core.Strict(),
		"subscriptions": s.core.Subscriptions(),
	})
}

func (s *Server) HandleSetStrict(wr http.ResponseWriter, r *http.Request) {
	var req struct {
		Strict bool `json:"strict"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(wr, "invalid request body", http.StatusBadRequest)
		return
	}
	s.core.SetStrict(req.Strict)
	writeJSON(wr, http.StatusOK, map[string]any{"strict": req.Strict})
}

func (s *Server) HandleObjects(wr http.ResponseWriter, r *http.Request) {
	paths := s.core.Objects()
	summaries := make([]objectSummary, 0, len(paths))
	for _, path := range paths {
		summaries = append(summaries, s.summarize(path))
	}
	writeJSON(wr, http.StatusOK, summaries)
}

func (s *Server) HandleObjectDetail(wr http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	_, hasValue := s.core.Object(path)
	_, hasSchema := s.core.Schema(path)
	if !hasValue && !hasSchema {
		http.Error(wr, "object not known", http.StatusNotFound)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{
		"object":        s.summarize(path),
		"historyFields": s.core.HistoryFields(path),
	})
}

func (s *Server) HandleEvict(wr http.ResponseWriter, r *http.Request) {
	s.core.Evict(chi.URLParam(r, "path"))
	wr.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleHistory(wr http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	field := chi.URLParam(r, "field")
	history := s.core.History(path, field)
	if history == nil {
		history = []client.HistoryEntry{}
	}
	writeJSON(wr, http.StatusOK, history)
}

func (s *Server) HandleDiscover(wr http.ResponseWriter, r *http.Request) {
	s.command(wr, s.core.Discover(chi.URLParam(r, "path")))
}

func (s *Server) HandleGet(wr http.ResponseWriter, r *http.Request) {
	s.command(wr, s.core.Get(chi.URLParam(r, "path")))
}

func (s *Server) HandleSubscribe(wr http.ResponseWriter, r *http.Request) {
	s.command(wr, s.core.Subscribe(chi.URLParam(r, "path")))
}

func (s *Server) HandleUnsubscribe(wr http.ResponseWriter, r *http.Request) {
	s.command(wr, s.core.Unsubscribe(chi.URLParam(r, "path")))
}

func (s *Server) HandleSetField(wr http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	field := chi.URLParam(r, "field")

	var req struct {
		Value any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(wr, "invalid request body", http.StatusBadRequest)
		return
	}
	s.command(wr, s.core.Set(path, map[string]any{field: req.Value}))
}

func (s *Server) HandleDeleteField(wr http.ResponseWriter, r *http.Request) {
	s.command(wr, s.core.Delete(chi.URLParam(r, "path"), chi.URLParam(r, "field")))
}

// command maps the engine's send result onto HTTP: accepted means the command
// went out, effects arrive later over the event stream.
func (s *Server) command(wr http.ResponseWriter, err error) {
	switch {
	case err == nil:
		wr.WriteHeader(http.StatusAccepted)
	case errors.Is(err, client.ErrNotConnected):
		http.Error(wr, "device not connected", http.StatusServiceUnavailable)
	default:
		slog.Error("Command failed", "err", err)
		http.Error(wr, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Error("Encode response", "err", err)
	}
}
