package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jdziat/crewrun/pkg/core"
)

// NotFoundEvent is sent to subscribers of a job the server does not know.
type NotFoundEvent struct {
	JobID  string         `json:"job_id"`
	Status core.JobStatus `json:"status"`
}

// handleWebSocket streams a job's progress. The first frame is the current
// state: the hub's last event, else a snapshot of the registry record. The
// stream ends after a terminal event or when the client goes away. Unknown
// jobs get a single not_found frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("job_id", jobID)

	_, published := s.hub.Last(jobID)
	job, known := s.registry.Get(jobID)
	if !published && !known {
		_ = s.send(conn, NotFoundEvent{JobID: jobID, Status: core.StatusNotFound})
		s.closeStream(conn, "job not found")
		return
	}

	events := s.hub.Subscribe(jobID)
	defer s.hub.Unsubscribe(jobID, events)

	if !published {
		snap := core.SnapshotEvent(job)
		if err := s.send(conn, snap); err != nil {
			return
		}
		if snap.Status.IsTerminal() {
			s.closeStream(conn, "job finished")
			return
		}
	}

	gone := readPump(conn)
	log.Debug("progress subscriber attached")

	for {
		select {
		case <-gone:
			log.Debug("progress subscriber left")
			return
		case ev, ok := <-events:
			if !ok {
				s.closeStream(conn, "stream closed")
				return
			}
			if err := s.send(conn, ev); err != nil {
				log.Debug("progress send failed", "error", err)
				return
			}
			if ev.Status.IsTerminal() {
				s.closeStream(conn, "job finished")
				return
			}
		}
	}
}

// send writes one JSON frame under the send timeout.
func (s *Server) send(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.sendTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (s *Server) closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.sendTimeout))
}

// readPump discards client frames so control messages are processed, and
// closes the returned channel once the connection fails or closes.
func readPump(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return done
}
