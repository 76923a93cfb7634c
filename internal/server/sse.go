package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowline-dev/flowline/internal/streaming"
	"github.com/flowline-dev/flowline/pkg/schema"
)

const (
	sseKeepAliveInterval = 30 * time.Second
	// Short grace period after a terminal event so the last message flushes
	// before the stream closes.
	sseTerminalLinger = 100 * time.Millisecond
)

// handleSSEExecution streams updates for one execution.
func (s *Server) handleSSEExecution(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.UpdateFilter{ExecutionID: r.PathValue("id")})
}

// handleSSEGlobal streams all execution updates.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.UpdateFilter{})
}

// serveSSE is the common SSE implementation. Each update is serialized as a
// named event; the stream closes shortly after a terminal event when the
// subscription is scoped to a single execution.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.UpdateFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case update, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, data)
			flusher.Flush()

			if filter.ExecutionID != "" && isTerminalUpdate(update.Type) {
				time.Sleep(sseTerminalLinger)
				return
			}
		}
	}
}

func isTerminalUpdate(updateType string) bool {
	switch updateType {
	case schema.UpdateExecutionCompleted, schema.UpdateExecutionFailed, schema.UpdateExecutionCancelled:
		return true
	}
	return false
}
