package agentrt

import (
	"context"
	"encoding/json"
	"time"

	"filippo.io/age"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/backup"
	"github.com/cuemby/bastion/internal/protocol"
	"github.com/cuemby/bastion/internal/restore"
	"github.com/cuemby/bastion/internal/target"
)

// TaskExecutor implements agentrt.Executor by dispatching on task.Kind to
// the shared internal/backup/internal/restore/internal/target builder
// contracts, the same ones the Hub-local scheduler path uses, so a job's
// behavior does not change depending on which node runs it.
type TaskExecutor struct {
	StagingDir   string
	ResolveBackend func(payload BackupTaskPayload) (target.Backend, error)
}

// BackupTaskPayload is the task_result-independent work order for a
// backup task: what to read, how to build it, where to put it.
type BackupTaskPayload struct {
	JobID         string              `json:"job_id"`
	RunID         string              `json:"run_id"`
	SourceRoot    string              `json:"source_root"`
	Format        string              `json:"format"` // "archive_v1" | "raw_tree_v1"
	SymlinkPolicy backup.SymlinkPolicy `json:"symlink_policy"`
	TargetType    string              `json:"target_type"`
	TargetRef     json.RawMessage     `json:"target_ref"`
	AgeRecipient  string              `json:"age_recipient,omitempty"`
	DirectDataPath bool               `json:"direct_data_path,omitempty"`
}

// RestoreTaskPayload is the work order for a restore task.
type RestoreTaskPayload struct {
	SnapshotRoot string                 `json:"snapshot_root"`
	Format       string                 `json:"format"`
	AgeIdentity  string                 `json:"age_identity,omitempty"`
	DestRoot     string                 `json:"dest_root"`
	TargetType   string                 `json:"target_type"`
	TargetRef    json.RawMessage        `json:"target_ref"`
	Selection    restore.Selection      `json:"selection"`
	Policy       restore.ConflictPolicy `json:"policy"`
}

func (e *TaskExecutor) Execute(ctx context.Context, task protocol.TaskMsg, onEvent func(protocol.RunEventMsg)) protocol.TaskResultMsg {
	switch task.Kind {
	case "backup":
		return e.executeBackup(ctx, task, onEvent)
	case "restore", "verify":
		return e.executeRestore(ctx, task, onEvent)
	default:
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: "unknown task kind: " + task.Kind}
	}
}

func (e *TaskExecutor) executeBackup(ctx context.Context, task protocol.TaskMsg, onEvent func(protocol.RunEventMsg)) protocol.TaskResultMsg {
	var payload BackupTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: "decode payload: " + err.Error()}
	}

	emit := func(seq int64, eventType string, data any) {
		raw, _ := json.Marshal(data)
		onEvent(protocol.RunEventMsg{RunID: payload.RunID, AgentSeq: seq, Type: eventType, Data: raw})
	}

	backend, err := e.ResolveBackend(payload)
	if err != nil {
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: err.Error()}
	}
	targetRoot := backend.SnapshotRoot(payload.RunID)

	var seq int64
	emit(seq, "run_started", map[string]string{"at": time.Now().UTC().Format(time.RFC3339)})
	seq++

	var recipient *age.X25519Recipient
	if payload.AgeRecipient != "" {
		recipient, err = age.ParseX25519Recipient(payload.AgeRecipient)
		if err != nil {
			return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: "parse age recipient: " + err.Error()}
		}
	}

	switch payload.Format {
	case "archive_v1":
		res, err := backup.BuildArchive(e.StagingDir, backup.ArchiveOptions{
			JobID: payload.JobID, RunID: payload.RunID, SourceRoot: payload.SourceRoot,
			SymlinkPolicy: payload.SymlinkPolicy, AgeRecipient: recipient,
		})
		if err != nil {
			emit(seq, "run_failed", map[string]string{"error": err.Error()})
			return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: err.Error()}
		}
		if err := backup.Upload(ctx, backend, targetRoot, res); err != nil {
			emit(seq, "run_failed", map[string]string{"error": err.Error()})
			return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: err.Error()}
		}
		emit(seq, "run_succeeded", map[string]any{"file_count": res.Manifest.FileCount, "total_bytes": res.Manifest.TotalBytes})
		result, _ := json.Marshal(res.Manifest)
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: true, Result: result}

	case "raw_tree_v1":
		res, err := backup.BuildRawTree(e.StagingDir, backup.RawTreeOptions{
			JobID: payload.JobID, RunID: payload.RunID, SourceRoot: payload.SourceRoot,
			SymlinkPolicy: payload.SymlinkPolicy, DirectDataPath: payload.DirectDataPath,
		}, "")
		if err != nil {
			emit(seq, "run_failed", map[string]string{"error": err.Error()})
			return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: err.Error()}
		}
		if err := backup.UploadRawTree(ctx, backend, targetRoot, res, payload.DirectDataPath); err != nil {
			emit(seq, "run_failed", map[string]string{"error": err.Error()})
			return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: err.Error()}
		}
		emit(seq, "run_succeeded", map[string]any{"file_count": res.Manifest.FileCount, "total_bytes": res.Manifest.TotalBytes})
		result, _ := json.Marshal(res.Manifest)
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: true, Result: result}

	default:
		err := apperr.New(apperr.KindValidation, "unknown backup format: "+payload.Format)
		emit(seq, "run_failed", map[string]string{"error": err.Error()})
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: err.Error()}
	}
}

func (e *TaskExecutor) executeRestore(ctx context.Context, task protocol.TaskMsg, onEvent func(protocol.RunEventMsg)) protocol.TaskResultMsg {
	var payload RestoreTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: "decode payload: " + err.Error()}
	}

	backend, err := e.ResolveBackend(BackupTaskPayload{TargetType: payload.TargetType, TargetRef: payload.TargetRef})
	if err != nil {
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: err.Error()}
	}

	var source restore.ArtifactSource
	switch payload.Format {
	case "archive_v1":
		var identity age.Identity
		if payload.AgeIdentity != "" {
			id, err := age.ParseX25519Identity(payload.AgeIdentity)
			if err != nil {
				return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: "parse age identity: " + err.Error()}
			}
			identity = id
		}
		source = restore.NewArchiveSource(backend, payload.SnapshotRoot, identity)
	default:
		source = restore.NewBackendSource(backend, payload.SnapshotRoot)
	}

	sink := restore.NewLocalFsSink(payload.DestRoot)

	var seq int64
	lastEmit := time.Now()
	onProgress := func(p restore.Progress) {
		if time.Since(lastEmit) < time.Second && p.EntriesDone != p.EntriesTotal {
			return
		}
		lastEmit = time.Now()
		raw, _ := json.Marshal(p)
		onEvent(protocol.RunEventMsg{Type: "progress", AgentSeq: seq, Data: raw})
		seq++
	}

	if err := restore.Run(ctx, source, sink, payload.Selection, payload.Policy, onProgress); err != nil {
		return protocol.TaskResultMsg{TaskID: task.TaskID, Success: false, Error: err.Error()}
	}
	return protocol.TaskResultMsg{TaskID: task.TaskID, Success: true}
}
