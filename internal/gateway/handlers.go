package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"parley/internal/chat"
	"parley/internal/completion"
	"parley/internal/message"
)

type appendRequest struct {
	Content string       `json:"content"`
	Role    message.Role `json:"role"`
}

type conversationResponse struct {
	ID       string            `json:"id"`
	Messages []message.Message `json:"messages"`
	InFlight bool              `json:"in_flight"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Role == "" {
		req.Role = message.RoleUser
	}
	if req.Role != message.RoleUser && req.Role != message.RoleSystem {
		writeError(w, http.StatusBadRequest, "role must be user or system")
		return
	}

	ss := s.session(r.PathValue("id"))
	msg := message.New(req.Role, req.Content)
	s.streamTurn(w, r, ss, func(ctx context.Context) error {
		return ss.conv.TryAppend(ctx, msg)
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.streamTurn(w, r, ss, ss.conv.TryReload)
}

// streamTurn runs start and then up to maxFollowUps function-result turns,
// streaming every message-list change as an SSE "messages" event. The stream
// ends with "done" or "error". A conversation already driven by another
// request, or whose cycle is in flight, is answered with 409 before anything
// is streamed.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, ss *session, start func(context.Context) error) {
	if !ss.turn.TryLock() {
		writeError(w, http.StatusConflict, "a turn is already in flight")
		return
	}
	defer ss.turn.Unlock()

	ctx := r.Context()
	sse := NewSSEWriter(w)
	unsubscribe := ss.conv.Subscribe(func(msgs []message.Message) {
		if err := sse.Send("messages", msgs); err != nil {
			slog.Debug("gateway: sending messages", "conversation_id", ss.conv.ID(), "error", err)
		}
	})
	defer unsubscribe()

	ss.takeResults()
	err := start(ctx)
	for i := 0; err == nil && i < s.maxFollowUps; i++ {
		results := ss.takeResults()
		if len(results) == 0 {
			break
		}
		var msg message.Message
		if msg, err = chat.FunctionMessage(results[0]); err != nil {
			break
		}
		err = ss.conv.TryAppend(ctx, msg)
	}
	ss.takeResults()

	if errors.Is(err, chat.ErrInFlight) && sse.Sent() == 0 {
		writeError(w, http.StatusConflict, "a turn is already in flight")
		return
	}
	if err != nil {
		aborted := errors.Is(err, completion.ErrAborted)
		if !aborted {
			slog.Error("gateway: turn failed", "conversation_id", ss.conv.ID(), "error", err)
		}
		sse.Send("error", map[string]any{"error": err.Error(), "aborted": aborted})
		return
	}
	sse.Send("done", conversationResponse{ID: ss.conv.ID(), Messages: ss.conv.Messages()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if ss, ok := s.lookup(r.PathValue("id")); ok {
		ss.conv.Stop()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := slices.Sorted(maps.Keys(s.sessions))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"conversations": ids})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{
		ID:       ss.conv.ID(),
		Messages: ss.conv.Messages(),
		InFlight: ss.conv.InFlight(),
	})
}

func (s *Server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"functions": s.registry.CompileSchema()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("gateway: writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
