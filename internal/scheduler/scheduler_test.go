package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/events"
	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/store"
)

// fakeStore is a minimal in-memory Store used only to exercise Scheduler,
// the same fake-collaborator pattern internal/agentmgr and
// internal/snapshot's tests use instead of a real database.
type fakeStore struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*model.Job
	activeRuns map[uuid.UUID]*model.Run
	runs       []model.Run
	tasks      []model.AgentTask
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:       map[uuid.UUID]*model.Job{},
		activeRuns: map[uuid.UUID]*model.Run{},
	}
}

func (f *fakeStore) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Job
	for _, j := range f.jobs {
		if j.ArchivedAt == nil {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, apperrNotFound()
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) ActiveRunForJob(ctx context.Context, jobID uuid.UUID) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.activeRuns[jobID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) CreateRun(ctx context.Context, r *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = model.NewID()
	f.runs = append(f.runs, *r)
	f.activeRuns[r.JobID] = r
	return nil
}

func (f *fakeStore) TransitionRun(ctx context.Context, id uuid.UUID, from, to model.RunStatus, touch func(*model.Run)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for jobID, r := range f.activeRuns {
		if r.ID == id {
			r.Status = to
			if touch != nil {
				touch(r)
			}
			delete(f.activeRuns, jobID)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) EnqueueAgentTask(ctx context.Context, t *model.AgentTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = model.NewID()
	f.tasks = append(f.tasks, *t)
	return nil
}

func apperrNotFound() error {
	return &notFoundErr{}
}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "job not found" }

// fakeDispatcher records calls instead of running anything for real.
type fakeDispatcher struct {
	mu            sync.Mutex
	localRuns     []*model.Run
	dispatched    []*model.AgentTask
	dispatchAgent []string
	dispatchErr   error
}

func (d *fakeDispatcher) RunLocal(job *model.Job, run *model.Run) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localRuns = append(d.localRuns, run)
}

func (d *fakeDispatcher) DispatchToAgent(ctx context.Context, agentID string, task *model.AgentTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatchAgent = append(d.dispatchAgent, agentID)
	d.dispatched = append(d.dispatched, task)
	return d.dispatchErr
}

func newTestBus(t *testing.T) *events.Bus {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return events.NewBus(db, store.NextRunEventSeq)
}

func newHubJob(nodeID string) *model.Job {
	j := &model.Job{
		Name:             "nightly",
		NodeID:           nodeID,
		SourceKind:       "filesystem",
		SourcePath:       "/data",
		TargetType:       model.TargetLocalDir,
		TargetRef:        `{"base_dir":"/backups"}`,
		Schedule:         "* * * * *",
		ScheduleTimezone: "UTC",
		OverlapPolicy:    model.OverlapQueue,
		Format:           model.FormatArchiveV1,
	}
	j.ID = model.NewID()
	return j
}

func TestTickCreatesQueuedRunAndRunsLocalForHubJob(t *testing.T) {
	fs := newFakeStore()
	job := newHubJob(hubNodeID)
	fs.jobs[job.ID] = job
	disp := &fakeDispatcher{}
	bus := newTestBus(t)

	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.TriggerNow(context.Background(), job.ID))

	require.Len(t, disp.localRuns, 1)
	assert.Equal(t, model.RunQueued, disp.localRuns[0].Status)
	assert.Empty(t, disp.dispatched)
}

func TestTickEnqueuesAgentTaskForAgentJob(t *testing.T) {
	fs := newFakeStore()
	job := newHubJob("agent-1")
	fs.jobs[job.ID] = job
	disp := &fakeDispatcher{}
	bus := newTestBus(t)

	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.TriggerNow(context.Background(), job.ID))

	require.Empty(t, disp.localRuns)
	require.Len(t, disp.dispatched, 1)
	assert.Equal(t, "agent-1", disp.dispatchAgent[0])
	assert.Equal(t, "backup", disp.dispatched[0].Kind)
	require.Len(t, fs.tasks, 1)
}

func TestTickSkipsWhenOverlapPolicyIsSkipAndRunActive(t *testing.T) {
	fs := newFakeStore()
	job := newHubJob(hubNodeID)
	job.OverlapPolicy = model.OverlapSkip
	fs.jobs[job.ID] = job
	active := &model.Run{JobID: job.ID, Status: model.RunRunning}
	active.ID = model.NewID()
	fs.activeRuns[job.ID] = active
	disp := &fakeDispatcher{}
	bus := newTestBus(t)

	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.TriggerNow(context.Background(), job.ID))

	assert.Empty(t, disp.localRuns)
	assert.Len(t, fs.runs, 0)
}

func TestTickCancelsActiveRunWhenOverlapPolicyIsCancelRunning(t *testing.T) {
	fs := newFakeStore()
	job := newHubJob(hubNodeID)
	job.OverlapPolicy = model.OverlapCancelRunning
	fs.jobs[job.ID] = job
	active := &model.Run{JobID: job.ID, Status: model.RunRunning}
	active.ID = model.NewID()
	fs.activeRuns[job.ID] = active
	disp := &fakeDispatcher{}
	bus := newTestBus(t)

	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.TriggerNow(context.Background(), job.ID))

	require.Len(t, disp.localRuns, 1)
}

func TestTickQueuesBehindActiveRunWhenOverlapPolicyIsQueue(t *testing.T) {
	fs := newFakeStore()
	job := newHubJob(hubNodeID)
	job.OverlapPolicy = model.OverlapQueue
	fs.jobs[job.ID] = job
	active := &model.Run{JobID: job.ID, Status: model.RunRunning}
	active.ID = model.NewID()
	fs.activeRuns[job.ID] = active
	disp := &fakeDispatcher{}
	bus := newTestBus(t)

	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.TriggerNow(context.Background(), job.ID))

	require.Len(t, disp.localRuns, 1)
}

func TestTickRemovesScheduleForArchivedJob(t *testing.T) {
	fs := newFakeStore()
	job := newHubJob(hubNodeID)
	now := time.Now().UTC()
	job.ArchivedAt = &now
	fs.jobs[job.ID] = job
	disp := &fakeDispatcher{}
	bus := newTestBus(t)

	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.TriggerNow(context.Background(), job.ID))

	assert.Empty(t, disp.localRuns)
}

func TestAddJobRejectsInvalidCronExpression(t *testing.T) {
	fs := newFakeStore()
	disp := &fakeDispatcher{}
	bus := newTestBus(t)
	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)

	job := newHubJob(hubNodeID)
	job.Schedule = "not a cron expression"
	assert.Error(t, s.AddJob(job))
}

func TestUpdateJobRemovesScheduleWhenArchived(t *testing.T) {
	fs := newFakeStore()
	disp := &fakeDispatcher{}
	bus := newTestBus(t)
	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)

	job := newHubJob(hubNodeID)
	require.NoError(t, s.AddJob(job))

	now := time.Now().UTC()
	job.ArchivedAt = &now
	assert.NoError(t, s.UpdateJob(job))
}

func TestStartSchedulesEveryJobReturnedByListActiveJobs(t *testing.T) {
	fs := newFakeStore()
	active := newHubJob(hubNodeID)
	fs.jobs[active.ID] = active
	archived := newHubJob(hubNodeID)
	archivedAt := time.Now().UTC()
	archived.ArchivedAt = &archivedAt
	fs.jobs[archived.ID] = archived

	disp := &fakeDispatcher{}
	bus := newTestBus(t)
	s, err := New(fs, disp, bus, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
}
