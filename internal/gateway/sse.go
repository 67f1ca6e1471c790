package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEWriter writes numbered Server-Sent Events and flushes after each one.
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu   sync.Mutex
	next int
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &SSEWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

func (s *SSEWriter) Send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.next, event, b); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Sent reports how many events have been written.
func (s *SSEWriter) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
