package api

import "net/http"

// handleRetentionPreview reports which snapshots a job's current retention
// policy selects for deletion, without actually deleting anything — the
// dashboard's "what would change" confirmation before a policy edit. The
// per-tick and per-day delete caps are not applied, so the next pass may
// delete only part of the list.
func (s *Server) handleRetentionPreview(w http.ResponseWriter, r *http.Request) {
	id, err := s.jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	doomed, err := s.Retention.Preview(r.Context(), id, *job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_ids": doomed})
}
