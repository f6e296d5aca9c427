package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams the session's frames as Server-Sent Events. The
// response headers are flushed only after the subscription exists, so a
// client that saw them will not miss frames of a run it starts next.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.sub == nil {
		writeError(w, http.StatusNotImplemented, "event streaming is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := r.PathValue("session_id")
	frames, err := s.sub.Subscribe(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("server.events.subscribed", "session_id", sessionID)
	defer s.logger.Debug("server.events.closed", "session_id", sessionID)

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case f, ok := <-frames:
			if !ok {
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				s.logger.Warn("server.events.encode_failed", "session_id", sessionID, "type", string(f.Type), "error", err.Error())
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, data)
			flusher.Flush()
		}
	}
}
