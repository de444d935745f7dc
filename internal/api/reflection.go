// ABOUTME: Operator endpoints for the reflection scheduler.
// ABOUTME: Stats, history, trigger, enable toggle and the state event stream

package api

import (
	"net/http"
	"strconv"

	"github.com/micktaiwan/eko/internal/reflection"
)

func (s *Server) reflector(w http.ResponseWriter) (Reflector, bool) {
	if s.deps.Reflector == nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "reflection unavailable")
		return nil, false
	}
	return s.deps.Reflector, true
}

func (s *Server) handleReflectionStats(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.reflector(w)
	if !ok {
		return
	}
	stats, err := ref.Stats(r.Context())
	if err != nil {
		s.logger.Error("reflection stats failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReflectionHistory(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.reflector(w)
	if !ok {
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"entries": ref.History(limit)})
}

// TriggerRequest is the body of POST /api/reflection/trigger.
type TriggerRequest struct {
	Force           bool   `json:"force"`
	DryRun          bool   `json:"dryRun"`
	BypassRateLimit bool   `json:"bypassRateLimit"`
	RoomID          string `json:"roomId,omitempty"`
}

func (s *Server) handleReflectionTrigger(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.reflector(w)
	if !ok {
		return
	}
	var req TriggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := ref.Trigger(r.Context(), reflection.TriggerOptions{
		Force:           req.Force,
		DryRun:          req.DryRun,
		BypassRateLimit: req.BypassRateLimit,
		RoomID:          req.RoomID,
	})
	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleReflectionEnabled(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.reflector(w)
	if !ok {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		s.sendJSONError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	ref.SetEnabled(*req.Enabled)
	s.sendJSON(w, http.StatusOK, map[string]bool{"enabled": ref.Enabled()})
}

// handleReflectionEvents streams scheduler transitions until the client
// goes away.
func (s *Server) handleReflectionEvents(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.reflector(w)
	if !ok {
		return
	}
	flusher, ok := sseStart(w)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := ref.Subscribe(r.Context())
	s.writeSSEEvent(w, "connected", map[string]bool{"enabled": ref.Enabled()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.writeSSEEvent(w, "state", ev)
			flusher.Flush()
		}
	}
}
