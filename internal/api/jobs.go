package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

type jobRequest struct {
	Name                       string                  `json:"name"`
	NodeID                     string                  `json:"node_id"`
	SourceKind                 string                  `json:"source_kind"`
	SourcePath                 string                  `json:"source_path"`
	TargetType                 model.TargetType        `json:"target_type"`
	TargetRef                  json.RawMessage         `json:"target_ref"`
	Schedule                   string                  `json:"schedule"`
	ScheduleTimezone           string                  `json:"schedule_timezone"`
	OverlapPolicy              model.OverlapPolicy     `json:"overlap_policy"`
	Format                     model.ArtifactFormat    `json:"format"`
	EncryptionKeyName          string                  `json:"encryption_key_name"`
	ConsistencyPolicy          model.ConsistencyPolicy `json:"consistency_policy"`
	ConsistencyFailThreshold   int                     `json:"consistency_fail_threshold"`
	UploadOnConsistencyFail    bool                    `json:"upload_on_consistency_fail"`
	RetentionKeepLast          int                     `json:"retention_keep_last"`
	RetentionKeepDays          int                     `json:"retention_keep_days"`
	RetentionMaxDeletesPerTick int                     `json:"retention_max_deletes_per_tick"`
	RetentionMaxDeletesPerDay  int                     `json:"retention_max_deletes_per_day"`
}

func (req jobRequest) applyTo(j *model.Job) {
	j.Name = req.Name
	j.NodeID = req.NodeID
	j.SourceKind = req.SourceKind
	j.SourcePath = req.SourcePath
	j.TargetType = req.TargetType
	if len(req.TargetRef) > 0 {
		j.TargetRef = string(req.TargetRef)
	}
	j.Schedule = req.Schedule
	if req.ScheduleTimezone != "" {
		j.ScheduleTimezone = req.ScheduleTimezone
	} else {
		j.ScheduleTimezone = "UTC"
	}
	if req.OverlapPolicy != "" {
		j.OverlapPolicy = req.OverlapPolicy
	}
	if req.Format != "" {
		j.Format = req.Format
	}
	j.EncryptionKeyName = req.EncryptionKeyName
	if req.ConsistencyPolicy != "" {
		j.ConsistencyPolicy = req.ConsistencyPolicy
	}
	j.ConsistencyFailThreshold = req.ConsistencyFailThreshold
	j.UploadOnConsistencyFail = req.UploadOnConsistencyFail
	j.RetentionKeepLast = req.RetentionKeepLast
	j.RetentionKeepDays = req.RetentionKeepDays
	j.RetentionMaxDeletesPerTick = req.RetentionMaxDeletesPerTick
	j.RetentionMaxDeletesPerDay = req.RetentionMaxDeletesPerDay
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Store.ListJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "decode job", err))
		return
	}
	job := &model.Job{}
	req.applyTo(job)
	if err := s.Store.CreateJob(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Scheduler.AddJob(job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) jobIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.UUID{}, apperr.Wrap(apperr.KindValidation, "invalid job id", err)
	}
	return id, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
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
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "decode job", err))
		return
	}
	req.applyTo(job)
	if err := s.Store.UpdateJob(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Scheduler.UpdateJob(job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleArchiveJob(w http.ResponseWriter, r *http.Request) {
	id, err := s.jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.ArchiveJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.Scheduler.RemoveJob(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := s.jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.Scheduler.RemoveJob(id)
	if err := s.Store.DeleteJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	id, err := s.jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Scheduler.TriggerNow(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}
