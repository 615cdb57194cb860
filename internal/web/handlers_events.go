package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kcoder666/sheetflow/internal/jobs"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// socketWriteTimeout bounds a single WebSocket frame write.
const socketWriteTimeout = 10 * time.Second

// handleJobEvents streams a job's events as Server-Sent Events. The stream
// ends with "event: complete" after the terminal event.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, unsubscribe, err := s.jobs.Subscribe(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Sequence numbers are per stream; a reconnecting client gets the
	// current state replayed instead of a resume.
	seq := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			seq++
			data, err := json.Marshal(ev)
			if err != nil {
				logging.FromContext(r.Context()).Error("encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Type, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleJobSocket streams one job's events over a WebSocket. The server
// closes the socket after the terminal event.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	events, unsubscribe, err := s.jobs.Subscribe(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		unsubscribe()
		logging.FromContext(r.Context()).Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	s.pumpSocket(r.Context(), conn, events, unsubscribe)
}

// socketHello is the first frame on the all-jobs socket.
type socketHello struct {
	Type string          `json:"type"`
	Jobs []jobs.Snapshot `json:"jobs"`
}

// handleEventsSocket streams every job's events over a WebSocket, starting
// with a snapshot of the tracked jobs.
func (s *Server) handleEventsSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	events, unsubscribe, _ := s.jobs.Subscribe(0)
	conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if err := conn.WriteJSON(socketHello{Type: "snapshot", Jobs: s.jobs.List()}); err != nil {
		unsubscribe()
		conn.Close()
		return
	}
	s.pumpSocket(r.Context(), conn, events, unsubscribe)
}

// pumpSocket writes events to conn until the channel closes, the peer goes
// away or ctx ends. Incoming frames are read and discarded so close frames
// from the peer are noticed.
func (s *Server) pumpSocket(ctx context.Context, conn *websocket.Conn, events <-chan jobs.Event, unsubscribe func()) {
	defer conn.Close()
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := logging.FromContext(ctx)
	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
