package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dochub/api/internal/events"
)

// handleEventStream serves the per-workspace SSE feed. The subscriber buffer
// is bounded; slow clients miss events instead of stalling publishers, and
// get told how many they missed.
func (s *HTTPServer) handleEventStream(w http.ResponseWriter, r *http.Request, workspaceID string) {
	if _, err := s.service.GetWorkspace(r.Context(), workspaceID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.service.Bus().Subscribe()
	defer s.service.Bus().Unsubscribe(sub)

	writeSSE(w, "system", map[string]any{"message": "Connected"})
	flusher.Flush()

	heartbeat := time.NewTicker(s.service.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case event := <-sub.Events():
			if missed := sub.Lagged(); missed > 0 {
				writeSSE(w, "system", map[string]any{"message": fmt.Sprintf("Missed %d events", missed)})
			}
			if event.WorkspaceID != workspaceID {
				continue
			}
			writeSSE(w, event.Type, streamPayload(event))
			flusher.Flush()
		case <-heartbeat.C:
			writeSSE(w, "heartbeat", map[string]any{"at": time.Now().UTC()})
			flusher.Flush()
		case <-sub.Done():
			writeSSE(w, "system", map[string]any{"message": "Server shutting down"})
			flusher.Flush()
			return
		case <-r.Context().Done():
			return
		}
	}
}

func streamPayload(event events.Event) map[string]any {
	return map[string]any{
		"workspace_id": event.WorkspaceID,
		"payload":      event.Payload,
		"at":           event.At,
	}
}

func writeSSE(w http.ResponseWriter, eventType string, data any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, encoded)
}
