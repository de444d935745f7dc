// ABOUTME: Handlers for asking the agent, resets, room posts and usage.
// ABOUTME: Ask streams partial text and the final answer as SSE

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/micktaiwan/eko/internal/query"
	"github.com/micktaiwan/eko/internal/rooms"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/supervisor"
)

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	From          string `json:"from"`
	Message       string `json:"message"`
	Time          string `json:"time,omitempty"`
	Location      string `json:"location,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// DoneEvent is the final SSE event of an ask.
type DoneEvent struct {
	RequestID    string `json:"requestId"`
	SessionID    string `json:"sessionId,omitempty"`
	Response     string `json:"response"`
	Expression   string `json:"expression"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// handleAsk streams text events while the agent works, then done or error.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.From == "" {
		s.sendJSONError(w, http.StatusBadRequest, "from is required")
		return
	}
	if req.Time == "" {
		req.Time = time.Now().Format(time.RFC3339)
	}

	flusher, ok := sseStart(w)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Text arrives on the supervisor's read goroutine; forward it to the
	// handler goroutine that owns the response writer.
	texts := make(chan string, 16)
	type outcome struct {
		answer *supervisor.Answer
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		a, err := s.deps.Agent.Ask(r.Context(), supervisor.AskRequest{
			Prompt: query.Prompt{
				From:          req.From,
				Message:       req.Message,
				Time:          req.Time,
				Location:      req.Location,
				StatusMessage: req.StatusMessage,
			},
			OnText: func(text string) {
				select {
				case texts <- text:
				default:
				}
			},
		})
		done <- outcome{a, err}
	}()

	for {
		select {
		case text := <-texts:
			s.writeSSEEvent(w, "text", map[string]string{"text": text})
			flusher.Flush()
		case out := <-done:
			// Drain partials that raced the result.
			for len(texts) > 0 {
				s.writeSSEEvent(w, "text", map[string]string{"text": <-texts})
			}
			if out.err != nil {
				s.logger.Warn("ask failed", "from", req.From, "error", out.err)
				s.writeSSEEvent(w, "error", map[string]string{"error": "the agent is unavailable", "detail": out.err.Error()})
			} else {
				a := out.answer
				s.writeSSEEvent(w, "done", DoneEvent{
					RequestID:    a.RequestID,
					SessionID:    a.SessionID,
					Response:     a.Response,
					Expression:   a.Expression,
					InputTokens:  a.InputTokens,
					OutputTokens: a.OutputTokens,
				})
			}
			flusher.Flush()
			return
		}
	}
}

// handleReset evicts one user's session, or all when userId is empty.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.deps.Agent.Reset(ctx, req.UserID); err != nil {
		s.logger.Error("reset failed", "user_id", req.UserID, "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "reset failed")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// PostMessageRequest is the body of POST /api/rooms/{id}/messages.
type PostMessageRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// MessageResponse is a room message.
type MessageResponse struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rooms == nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "rooms unavailable")
		return
	}
	var req PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Author == "" {
		s.sendJSONError(w, http.StatusBadRequest, "author is required")
		return
	}

	msg, err := s.deps.Rooms.Post(r.Context(), r.PathValue("id"), req.Author, req.Content)
	if errors.Is(err, rooms.ErrEmptyMessage) {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if err != nil {
		s.logger.Error("posting message failed", "room_id", r.PathValue("id"), "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusCreated, MessageResponse{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Author:    msg.Author,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// UsageResponse is the body of GET /api/stats/usage.
type UsageResponse struct {
	TotalInput   int64 `json:"totalInput"`
	TotalOutput  int64 `json:"totalOutput"`
	RequestCount int64 `json:"requestCount"`
}

// handleUsageStats aggregates token usage. Query params: source, userId,
// since (RFC3339).
func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "usage unavailable")
		return
	}
	q := r.URL.Query()
	filter := store.UsageFilter{Source: q.Get("source"), UserID: q.Get("userId")}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &since
	}

	stats, err := s.deps.Usage.GetUsageStats(r.Context(), filter)
	if err != nil {
		s.logger.Error("usage stats failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, UsageResponse{
		TotalInput:   stats.TotalInput,
		TotalOutput:  stats.TotalOutput,
		RequestCount: stats.RequestCount,
	})
}
