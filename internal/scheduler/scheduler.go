// Package scheduler fires one gocron job per active Bastion Job, creating
// a queued Run on every tick and handing it off either to the Hub-local
// executor or to internal/agentmgr for agent-side execution. Directly
// grounded on arkeep's server/internal/scheduler.Scheduler: one gocron job
// tagged by entity id, CronJob(schedule, false) ticking, AddJob/RemoveJob/
// UpdateJob mirroring arkeep's AddPolicy/RemovePolicy/UpdatePolicy, and the
// same "persist first, dispatch best-effort, let reconnect redeliver"
// shape as arkeep's DispatchPending. Timezone and DST handling are
// delegated to gocron's cron parser via a `CRON_TZ=<IANA>` prefix, which in
// turn resolves wall-clock times through Go's time.Date — gaps (spring-
// forward) are normalized forward to the next valid instant and folds
// (fall-back) resolve to the first occurrence, matching spec's semantics
// without any custom cron math.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/events"
	"github.com/cuemby/bastion/internal/model"
)

// Store is the subset of internal/store.Store the scheduler depends on.
type Store interface {
	ListActiveJobs(ctx context.Context) ([]model.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ActiveRunForJob(ctx context.Context, jobID uuid.UUID) (*model.Run, error)
	CreateRun(ctx context.Context, r *model.Run) error
	TransitionRun(ctx context.Context, id uuid.UUID, from, to model.RunStatus, touch func(*model.Run)) error
	EnqueueAgentTask(ctx context.Context, t *model.AgentTask) error
}

// Dispatcher hands a queued Run off for execution: either locally (Hub
// node) or by enqueuing an AgentTask and pushing it through agentmgr.
type Dispatcher interface {
	// RunLocal starts a Hub-local job in a background goroutine of its own
	// and returns at once; the scheduler calls it directly, so RunLocal
	// must not block the caller.
	RunLocal(job *model.Job, run *model.Run)
	// DispatchToAgent delivers a task to an agent, best-effort: if the
	// agent is offline the task still persists and is redelivered on
	// reconnect by internal/agentmgr.
	DispatchToAgent(ctx context.Context, agentID string, task *model.AgentTask) error
}

const hubNodeID = "hub"

// Scheduler owns the gocron instance and one job per active Bastion Job.
type Scheduler struct {
	cron       gocron.Scheduler
	store      Store
	dispatcher Dispatcher
	bus        *events.Bus
	logger     zerolog.Logger
}

func New(store Store, dispatcher Dispatcher, bus *events.Bus, logger zerolog.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create gocron scheduler", err)
	}
	return &Scheduler{cron: cron, store: store, dispatcher: dispatcher, bus: bus, logger: logger}, nil
}

// Start loads every active job from the store and schedules it, then
// starts the underlying gocron loop. Call once at Hub startup.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return err
	}
	for i := range jobs {
		if err := s.AddJob(&jobs[i]); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobs[i].ID.String()).Msg("failed to schedule job")
		}
	}
	s.logger.Info().Int("jobs_scheduled", len(jobs)).Msg("scheduler started")
	s.cron.Start()
	return nil
}

// Stop gracefully shuts the gocron scheduler down, waiting for in-flight
// tick callbacks (not the runs they kicked off) to return.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "shutdown gocron scheduler", err)
	}
	return nil
}

// AddJob registers a newly created or re-enabled job. Safe to call while
// running.
func (s *Scheduler) AddJob(job *model.Job) error {
	cronExpr := job.Schedule
	if job.ScheduleTimezone != "" && job.ScheduleTimezone != "UTC" {
		cronExpr = fmt.Sprintf("CRON_TZ=%s %s", job.ScheduleTimezone, job.Schedule)
	}
	jobID := job.ID
	_, err := s.cron.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func(id uuid.UUID) { s.tick(context.Background(), id) }, jobID),
		gocron.WithTags(jobID.String()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, fmt.Sprintf("schedule job %s (cron %q)", jobID, cronExpr), err)
	}
	return nil
}

// RemoveJob unschedules a job (archived or deleted). Safe to call while
// running.
func (s *Scheduler) RemoveJob(jobID uuid.UUID) {
	s.cron.RemoveByTags(jobID.String())
}

// UpdateJob reschedules a job after its cron expression, timezone, or
// archived state changed.
func (s *Scheduler) UpdateJob(job *model.Job) error {
	s.RemoveJob(job.ID)
	if job.ArchivedAt != nil {
		return nil
	}
	return s.AddJob(job)
}

// TriggerNow runs a job immediately, bypassing its cron schedule (manual
// "run now" from the API).
func (s *Scheduler) TriggerNow(ctx context.Context, jobID uuid.UUID) error {
	return s.tick(ctx, jobID)
}

// tick is gocron's per-fire callback: apply the job's overlap policy
// against any currently active run, create a queued Run, and dispatch it.
func (s *Scheduler) tick(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("tick fired for missing job")
		return nil
	}
	if job.ArchivedAt != nil {
		s.RemoveJob(jobID)
		return nil
	}

	active, err := s.store.ActiveRunForJob(ctx, jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to check active run")
		return nil
	}
	if active != nil {
		switch job.OverlapPolicy {
		case model.OverlapSkip:
			s.logger.Info().Str("job_id", jobID.String()).Str("run_id", active.ID.String()).Msg("overlap policy skip: tick dropped")
			return nil
		case model.OverlapCancelRunning:
			if err := s.store.TransitionRun(ctx, active.ID, active.Status, model.RunCanceled, func(r *model.Run) {
				now := time.Now().UTC()
				r.EndedAt = &now
				r.ErrorCode = "canceled_by_overlap_policy"
			}); err != nil {
				s.logger.Warn().Err(err).Str("run_id", active.ID.String()).Msg("failed to cancel overlapping run")
			} else if err := s.bus.Publish(ctx, active.ID, "run_canceled", map[string]string{"reason": "overlap_policy"}); err != nil {
				s.logger.Warn().Err(err).Str("run_id", active.ID.String()).Msg("failed to publish run_canceled event")
			}
		case model.OverlapQueue:
			// fall through: a new Run is created and queued behind the active one
		}
	}

	run := &model.Run{
		JobID:              job.ID,
		NodeID:             job.NodeID,
		Status:             model.RunQueued,
		TargetSnapshotJSON: job.TargetRef, // TargetRef is already JSON-encoded target config
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to create run")
		return nil
	}
	if err := s.bus.Publish(ctx, run.ID, "run_queued", map[string]string{"node_id": job.NodeID}); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID.String()).Msg("failed to publish run_queued event")
	}

	if job.NodeID == hubNodeID {
		s.dispatcher.RunLocal(job, run)
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"job_id":      job.ID.String(),
		"run_id":      run.ID.String(),
		"source_root": job.SourcePath,
		"format":      string(job.Format),
		"target_type": string(job.TargetType),
		"target_ref":  json.RawMessage(job.TargetRef),
	})
	task := &model.AgentTask{
		AgentID:     job.NodeID,
		RunID:       &run.ID,
		Kind:        "backup",
		Status:      model.TaskPending,
		PayloadJSON: string(payload),
	}
	if err := s.store.EnqueueAgentTask(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to enqueue agent task")
		return nil
	}
	if err := s.dispatcher.DispatchToAgent(ctx, job.NodeID, task); err != nil {
		s.logger.Info().Err(err).Str("agent_id", job.NodeID).Msg("agent offline, task queued for redelivery on reconnect")
	}
	return nil
}
