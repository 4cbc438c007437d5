package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cuemby/bastion/internal/apperr"
)

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snaps, err := s.Store.ListSnapshotsForJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func snapshotRunIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["run_id"])
	if err != nil {
		return uuid.UUID{}, apperr.Wrap(apperr.KindValidation, "invalid run id", err)
	}
	return id, nil
}

// handlePinSnapshot exempts a snapshot from retention (spec §4.5): pinned
// snapshots are never selected for deletion regardless of keep_last/keep_days.
func (s *Server) handlePinSnapshot(w http.ResponseWriter, r *http.Request) {
	runID, err := snapshotRunIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, _ := r.Context().Value(userIDKey).(string)
	if err := s.Store.PinSnapshot(r.Context(), runID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pinned"})
}

func (s *Server) handleUnpinSnapshot(w http.ResponseWriter, r *http.Request) {
	runID, err := snapshotRunIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.UnpinSnapshot(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unpinned"})
}
