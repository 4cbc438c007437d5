package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/cuemby/bastion/internal/apperr"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.Store.ListRunsForJob(r.Context(), jobID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) runIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.UUID{}, apperr.Wrap(apperr.KindValidation, "invalid run id", err)
	}
	return id, nil
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := s.runIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleRunEvents streams a run's events live over a WebSocket. It
// subscribes to the bus first, then replays everything after the client's
// "after_seq" query parameter from the store, then forwards live events,
// skipping any whose seq was already sent, so an event published during the
// replay is neither lost nor sent twice (spec §4.6). A live event the bus
// dropped because this subscriber's buffer was full is not re-sent on this
// connection.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id, err := s.runIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var afterSeq int64
	if v := r.URL.Query().Get("after_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterSeq = n
		}
	}

	sub := s.Bus.Subscribe(id)
	defer s.Bus.Unsubscribe(sub)

	backlog, err := s.Bus.CatchUp(r.Context(), id, afterSeq)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("run events websocket upgrade failed")
		return
	}
	defer conn.Close()

	lastSeq := afterSeq
	for _, evt := range backlog {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
		lastSeq = evt.Seq
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Seq <= lastSeq {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
			lastSeq = evt.Seq
		}
	}
}
