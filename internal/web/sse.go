package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pocketsage/pocketsage/internal/chat"
)

// sseWriter frames chat events as server-sent events. Each event is one
// JSON document in a single data field, flushed immediately so fragments
// reach the client as they are produced.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Send writes one event frame. A write error means the client is gone.
func (s *sseWriter) Send(event chat.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
