// Package hub implements the Hub-local half of spec §4.3/§4.4: turning a
// queued Run into a staged, optionally-encrypted archive_v1 or raw_tree_v1
// artifact and uploading it to the job's target backend. It satisfies
// internal/scheduler.Dispatcher, so the scheduler hands Hub-node jobs here
// and agent-node jobs to internal/agentmgr, the same split the teacher's
// cmd/warren draws between a local manager action and a dispatched worker
// task (cmd/warren/main.go's scheduler/worker wiring).
package hub

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/backup"
	"github.com/cuemby/bastion/internal/events"
	"github.com/cuemby/bastion/internal/keyring"
	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/notify"
	"github.com/cuemby/bastion/internal/snapshot"
	"github.com/cuemby/bastion/internal/target"
)

// Store is the subset of internal/store.Store the Hub-local executor
// depends on.
type Store interface {
	TransitionRun(ctx context.Context, id uuid.UUID, from, to model.RunStatus, touch func(*model.Run)) error
	GetSecret(ctx context.Context, nodeID, name string) (*model.Secret, error)
	UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error
}

// AgentDispatcher is the subset of internal/agentmgr.Manager the Hub
// executor needs to hand agent-bound tasks off, best-effort.
type AgentDispatcher interface {
	Dispatch(ctx context.Context, agentID string, task *model.AgentTask) error
}

// Keyring decrypts the age identity secrets backup jobs reference for
// payload encryption.
type Keyring interface {
	Decrypt(ciphertextB64 string, version int) ([]byte, error)
}

// Executor runs Hub-node jobs locally and forwards agent-node dispatches to
// agentmgr. It implements internal/scheduler.Dispatcher.
type Executor struct {
	store     Store
	agents    AgentDispatcher
	bus       *events.Bus
	notifier  *notify.Queue
	keys      Keyring
	stagingDir string
	logger    zerolog.Logger
}

func NewExecutor(store Store, agents AgentDispatcher, bus *events.Bus, notifier *notify.Queue, keys Keyring, stagingDir string, logger zerolog.Logger) *Executor {
	return &Executor{store: store, agents: agents, bus: bus, notifier: notifier, keys: keys, stagingDir: stagingDir, logger: logger}
}

// DispatchToAgent hands a task to agentmgr; offline agents still keep the
// persisted task for redelivery on reconnect.
func (e *Executor) DispatchToAgent(ctx context.Context, agentID string, task *model.AgentTask) error {
	return e.agents.Dispatch(ctx, agentID, task)
}

// RunLocal executes a Hub-node job's run in a background goroutine, per
// internal/scheduler.Dispatcher's contract that RunLocal must not block
// the scheduler's tick callback.
func (e *Executor) RunLocal(job *model.Job, run *model.Run) {
	go e.runLocal(context.Background(), job, run)
}

func (e *Executor) runLocal(ctx context.Context, job *model.Job, run *model.Run) {
	if err := e.store.TransitionRun(ctx, run.ID, model.RunQueued, model.RunRunning, func(r *model.Run) {
		now := time.Now().UTC()
		r.StartedAt = &now
	}); err != nil {
		e.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to transition run to running")
		return
	}
	e.publish(ctx, run.ID, "run_running", nil)

	backend, err := BackendFromTarget(job.TargetType, job.TargetRef)
	if err != nil {
		e.fail(ctx, run, "target_config_invalid", err)
		return
	}

	stageDir, err := os.MkdirTemp(e.stagingDir, "run-"+run.ID.String()+"-")
	if err != nil {
		e.fail(ctx, run, "staging_dir_failed", err)
		return
	}
	defer os.RemoveAll(stageDir)

	snap := &model.Snapshot{
		RunID:              run.ID,
		JobID:              job.ID,
		NodeID:             job.NodeID,
		TargetType:         job.TargetType,
		TargetSnapshotJSON: run.TargetSnapshotJSON,
		ArtifactFormat:     job.Format,
		Status:             model.SnapshotPresent,
		CreatedAt:          time.Now().UTC(),
	}

	var report *backup.ConsistencyReport
	switch job.Format {
	case model.FormatRawTreeV1:
		res, rerr := backup.BuildRawTree(stageDir, backup.RawTreeOptions{
			JobID: job.ID.String(), RunID: run.ID.String(),
			SourceRoot:    job.SourcePath,
			SymlinkPolicy: backup.SymlinkRecord,
		}, "")
		if rerr != nil {
			e.fail(ctx, run, "build_failed", rerr)
			return
		}
		report = res.Consistency
		outcome := backup.ApplyConsistencyPolicy(job.ConsistencyPolicy, report, job.ConsistencyFailThreshold, job.UploadOnConsistencyFail)
		if outcome.EmitEvent {
			e.publish(ctx, run.ID, "consistency_flagged", map[string]int{"changed": report.Total})
		}
		if outcome.Fail {
			e.fail(ctx, run, "consistency_policy_failed", apperr.New(apperr.KindSourceConsistency, "too many source mutations during backup"))
			return
		}
		if !outcome.SkipUpload {
			if uerr := backup.UploadRawTree(ctx, backend, backend.SnapshotRoot(run.ID.String()), res, false); uerr != nil {
				e.fail(ctx, run, "upload_failed", uerr)
				return
			}
		}
		snap.FileCount = res.Manifest.FileCount
		snap.TotalBytes = res.Manifest.TotalBytes

	default:
		opts := backup.ArchiveOptions{
			JobID: job.ID.String(), RunID: run.ID.String(),
			SourceRoot:    job.SourcePath,
			SymlinkPolicy: backup.SymlinkRecord,
		}
		if job.EncryptionKeyName != "" {
			recipient, rerr := e.loadAgeRecipient(ctx, job.NodeID, job.EncryptionKeyName)
			if rerr != nil {
				e.fail(ctx, run, "encryption_key_unavailable", rerr)
				return
			}
			opts.AgeRecipient = recipient
		}
		res, berr := backup.BuildArchive(stageDir, opts)
		if berr != nil {
			e.fail(ctx, run, "build_failed", berr)
			return
		}
		report = res.Consistency
		outcome := backup.ApplyConsistencyPolicy(job.ConsistencyPolicy, report, job.ConsistencyFailThreshold, job.UploadOnConsistencyFail)
		if outcome.EmitEvent {
			e.publish(ctx, run.ID, "consistency_flagged", map[string]int{"changed": report.Total})
		}
		if outcome.Fail {
			e.fail(ctx, run, "consistency_policy_failed", apperr.New(apperr.KindSourceConsistency, "too many source mutations during backup"))
			return
		}
		if !outcome.SkipUpload {
			if uerr := backup.Upload(ctx, backend, backend.SnapshotRoot(run.ID.String()), res); uerr != nil {
				e.fail(ctx, run, "upload_failed", uerr)
				return
			}
		}
		snap.FileCount = res.Manifest.FileCount
		snap.TotalBytes = res.Manifest.TotalBytes
	}

	if err := snapshot.Index(ctx, e.store, snap); err != nil {
		e.logger.Warn().Err(err).Str("run_id", run.ID.String()).Msg("failed to index snapshot after successful run")
	}

	if err := e.store.TransitionRun(ctx, run.ID, model.RunRunning, model.RunSuccess, func(r *model.Run) {
		now := time.Now().UTC()
		r.EndedAt = &now
	}); err != nil {
		e.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to transition run to success")
		return
	}
	e.publish(ctx, run.ID, "run_success", nil)
	e.notify(ctx, run.ID, "run_success", job.Name+": backup succeeded")
}

func (e *Executor) fail(ctx context.Context, run *model.Run, code string, cause error) {
	e.logger.Error().Err(cause).Str("run_id", run.ID.String()).Str("code", code).Msg("run failed")
	_ = e.store.TransitionRun(ctx, run.ID, model.RunRunning, model.RunFailed, func(r *model.Run) {
		now := time.Now().UTC()
		r.EndedAt = &now
		r.ErrorCode = code
	})
	e.publish(ctx, run.ID, "run_failed", map[string]string{"code": code, "error": cause.Error()})
	e.notify(ctx, run.ID, "run_failed", code+": "+cause.Error())
}

func (e *Executor) publish(ctx context.Context, runID uuid.UUID, eventType string, data any) {
	if err := e.bus.Publish(ctx, runID, eventType, data); err != nil {
		e.logger.Warn().Err(err).Str("run_id", runID.String()).Str("event", eventType).Msg("failed to publish run event")
	}
}

func (e *Executor) notify(ctx context.Context, runID uuid.UUID, kind, body string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Enqueue(ctx, runID, kind, kind, body); err != nil {
		e.logger.Warn().Err(err).Str("run_id", runID.String()).Msg("failed to enqueue notification")
	}
}

// ageIdentitySecret is the JSON shape stored in a SecretBackupAgeIdentity
// row: the recipient (public) half used to encrypt, kept alongside the
// identity (private) half an operator needs at restore time.
type ageIdentitySecret struct {
	Recipient string `json:"recipient"`
}

func (e *Executor) loadAgeRecipient(ctx context.Context, nodeID, keyName string) (*age.X25519Recipient, error) {
	sec, err := e.store.GetSecret(ctx, nodeID, keyName)
	if err != nil {
		return nil, err
	}
	plain, err := e.keys.Decrypt(sec.CiphertextB64, sec.KeyVersion)
	if err != nil {
		return nil, err
	}
	var parsed ageIdentitySecret
	if err := json.Unmarshal(plain, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "parse age identity secret", err)
	}
	recipient, err := age.ParseX25519Recipient(parsed.Recipient)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "parse age recipient", err)
	}
	return recipient, nil
}

// targetRef is the JSON shape stored in Job.TargetRef/Run.TargetSnapshotJSON.
type targetRef struct {
	BaseDir  string `json:"base_dir"`
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// BackendFromTarget builds the target.Backend a job's (or a captured run
// snapshot's) target config names, used both by the Hub-local executor and
// by internal/snapshot's delete worker (which must resolve the backend a
// snapshot was actually written to, not the job's possibly-since-changed
// current target).
func BackendFromTarget(targetType model.TargetType, targetRefJSON string) (target.Backend, error) {
	var ref targetRef
	if err := json.Unmarshal([]byte(targetRefJSON), &ref); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "parse target config", err)
	}
	switch targetType {
	case model.TargetWebDAV:
		if ref.BaseURL == "" {
			return nil, apperr.New(apperr.KindConfig, "webdav target missing base_url")
		}
		return target.NewWebDAV(ref.BaseURL, ref.Username, ref.Password), nil
	case model.TargetLocalDir:
		if ref.BaseDir == "" {
			return nil, apperr.New(apperr.KindConfig, "local_dir target missing base_dir")
		}
		if err := os.MkdirAll(filepath.Clean(ref.BaseDir), 0o700); err != nil {
			return nil, apperr.Wrap(apperr.KindIOPermission, "create local_dir target", err)
		}
		return target.NewLocalDir(ref.BaseDir), nil
	default:
		return nil, apperr.New(apperr.KindConfig, "unknown target type "+string(targetType))
	}
}

var _ Keyring = (*keyring.Keyring)(nil)
