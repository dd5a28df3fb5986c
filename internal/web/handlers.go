package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pocketsage/pocketsage/internal/auth"
	"github.com/pocketsage/pocketsage/internal/chat"
)

// maxRequestBody bounds the chat request payload.
const maxRequestBody = 64 * 1024

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no authenticated user"})
		return "", "", false
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return "", "", false
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return "", "", false
	}
	return user.ID, req.Message, true
}

// handleChatStream serves POST /chat/query/stream: the full event protocol
// over SSE.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	userID, message, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	s.logger.Info("chat stream started", "user_id", userID)
	s.orchestrator.Run(r.Context(), userID, message, sse.Send)
}

// handleChatQuery serves POST /chat/query: the same protocol collapsed to a
// single buffered JSON response. Chunks are discarded; only the terminal
// event shapes the reply.
func (s *Server) handleChatQuery(w http.ResponseWriter, r *http.Request) {
	userID, message, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	var terminal chat.Event
	s.orchestrator.Run(r.Context(), userID, message, func(e chat.Event) error {
		if e.Type == chat.EventComplete || e.Type == chat.EventError {
			terminal = e
		}
		return nil
	})

	switch terminal.Type {
	case chat.EventComplete:
		writeJSON(w, http.StatusOK, chatResponse{
			Response:  terminal.FullResponse,
			Timestamp: terminal.Timestamp,
		})
	case chat.EventError:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: terminal.Message})
	default:
		// The client went away before a terminator; nothing to write.
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger logs method, path, and duration for every request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
