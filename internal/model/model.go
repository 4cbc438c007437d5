// Package model holds the durable entities owned exclusively by the Hub's
// store. Components never mutate each other's entities directly — they hold
// ids and look them up through internal/store repositories.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunStatus is the lifecycle state of a Run. Transitions:
// queued -> running -> {success, failed, rejected, canceled}.
// Only the running worker may transition a Run out of running.
type RunStatus string

const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunFailed   RunStatus = "failed"
	RunRejected RunStatus = "rejected"
	RunCanceled RunStatus = "canceled"
)

// OverlapPolicy controls what happens when a prior run of the same job is
// still active when the next one is due.
type OverlapPolicy string

const (
	OverlapQueue          OverlapPolicy = "queue"
	OverlapSkip           OverlapPolicy = "skip"
	OverlapCancelRunning  OverlapPolicy = "cancel-running"
)

// ConsistencyPolicy controls the outcome when source-consistency detection
// finds changes during packaging.
type ConsistencyPolicy string

const (
	ConsistencyWarn   ConsistencyPolicy = "warn"
	ConsistencyFail   ConsistencyPolicy = "fail"
	ConsistencyIgnore ConsistencyPolicy = "ignore"
)

// ArtifactFormat names one of the two backup builder formats.
type ArtifactFormat string

const (
	FormatArchiveV1 ArtifactFormat = "archive_v1"
	FormatRawTreeV1 ArtifactFormat = "raw_tree_v1"
)

// TargetType names a storage backend kind.
type TargetType string

const (
	TargetLocalDir TargetType = "local_dir"
	TargetWebDAV   TargetType = "webdav"
)

// SnapshotStatus mirrors run_artifact.status in spec §3.
type SnapshotStatus string

const (
	SnapshotPresent  SnapshotStatus = "present"
	SnapshotDeleting SnapshotStatus = "deleting"
	SnapshotDeleted  SnapshotStatus = "deleted"
	SnapshotMissing  SnapshotStatus = "missing"
	SnapshotError    SnapshotStatus = "error"
)

// base is embedded by every entity that uses a UUIDv7 primary key, following
// the time-ordered-ID convention (natural chronological ordering without a
// separate created_at sort key).
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

// NewID generates a time-ordered identifier for a new entity.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the machine's random source is broken;
		// fall back to v4 rather than panic a background loop.
		return uuid.New()
	}
	return id
}

// BeforeCreate assigns a UUIDv7 primary key when the caller left it zero.
// GORM calls this hook on every Create for types embedding base.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = NewID()
	}
	return nil
}

// Job owns a validated JobSpec: source kind, target reference, schedule,
// timezone, overlap policy, retention, consistency policy, format, and an
// optional encryption key name. Archived jobs (ArchivedAt set) do not
// schedule new runs but retain history.
type Job struct {
	base
	Name                      string     `gorm:"not null"`
	NodeID                    string     `gorm:"not null;index"` // "hub" or an agent id
	SourceKind                string     `gorm:"not null"`       // "filesystem", "sqlite", "vaultwarden"
	SourcePath                string     `gorm:"not null;default:''"`
	TargetType                TargetType `gorm:"not null"`
	TargetRef                 string     `gorm:"type:text;not null"` // JSON target config (base dir / base URL)
	Schedule                  string     `gorm:"not null"`           // 5-field cron expression
	ScheduleTimezone          string     `gorm:"not null;default:'UTC'"`
	OverlapPolicy             OverlapPolicy     `gorm:"not null;default:'skip'"`
	Format                    ArtifactFormat    `gorm:"not null;default:'archive_v1'"`
	EncryptionKeyName         string            `gorm:"default:''"`
	ConsistencyPolicy         ConsistencyPolicy `gorm:"not null;default:'warn'"`
	ConsistencyFailThreshold  int               `gorm:"not null;default:0"`
	UploadOnConsistencyFail   bool              `gorm:"not null;default:true"`
	RetentionKeepLast         int               `gorm:"not null;default:0"`
	RetentionKeepDays         int               `gorm:"not null;default:0"`
	RetentionMaxDeletesPerTick int              `gorm:"not null;default:10"`
	RetentionMaxDeletesPerDay  int              `gorm:"not null;default:100"`
	ArchivedAt                *time.Time
}

// TableName pins gorm's inferred table name so migrations are stable across
// renames of the Go type.
func (Job) TableName() string { return "jobs" }

// Run is one execution attempt of a Job.
type Run struct {
	base
	JobID             uuid.UUID  `gorm:"type:text;not null;index:idx_runs_status_started"`
	NodeID            string     `gorm:"not null"`
	Status            RunStatus  `gorm:"not null;index:idx_runs_status_started;default:'queued'"`
	StartedAt         *time.Time `gorm:"index:idx_runs_status_started"`
	EndedAt           *time.Time `gorm:"index:idx_runs_ended"`
	ErrorCode         string     `gorm:"default:''"`
	SummaryJSON       string     `gorm:"type:text;default:'{}'"`
	ProgressJSON      string     `gorm:"type:text;default:'{}'"` // latest snapshot only, no history
	TargetSnapshotJSON string    `gorm:"type:text;not null;default:'{}'"` // target config at run start
}

func (Run) TableName() string { return "runs" }

// RunEvent is an append-only log entry keyed by (run_id, seq). Seq is
// strictly monotonic per run; the bus (internal/events) guarantees ordering.
type RunEvent struct {
	RunID     uuid.UUID `gorm:"type:text;primaryKey"`
	Seq       int64     `gorm:"primaryKey;autoIncrement:false"`
	Type      string    `gorm:"not null"`
	DataJSON  string    `gorm:"type:text;not null;default:'{}'"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (RunEvent) TableName() string { return "run_events" }

// Snapshot is the run_artifact row: one per successful run.
type Snapshot struct {
	RunID              uuid.UUID      `gorm:"type:text;primaryKey"`
	JobID              uuid.UUID      `gorm:"type:text;not null;index"`
	NodeID             string         `gorm:"not null"`
	TargetType         TargetType     `gorm:"not null"`
	TargetSnapshotJSON string         `gorm:"type:text;not null"`
	ArtifactFormat     ArtifactFormat `gorm:"not null"`
	FileCount          int64          `gorm:"default:0"`
	TotalBytes         int64          `gorm:"default:0"`
	Status             SnapshotStatus `gorm:"not null;default:'present';index"`
	PinnedAt           *time.Time
	PinnedByUserID     string `gorm:"default:''"`
	CreatedAt          time.Time `gorm:"not null;index"`
}

func (Snapshot) TableName() string { return "snapshots" }

// AgentTaskStatus is the delivery status of an AgentTask.
type AgentTaskStatus string

const (
	TaskPending   AgentTaskStatus = "pending"
	TaskDelivered AgentTaskStatus = "delivered"
	TaskAcked     AgentTaskStatus = "acked"
	TaskCompleted AgentTaskStatus = "completed"
	TaskFailed    AgentTaskStatus = "failed"
)

// AgentTask is a reconnect-safe delivery unit dispatched to exactly one
// agent. Delivery is retried by id until acked; agents treat redelivery of
// the same id idempotently.
type AgentTask struct {
	base
	AgentID     string          `gorm:"not null;index:idx_tasks_agent_status"`
	RunID       *uuid.UUID      `gorm:"type:text;index"`
	Kind        string          `gorm:"not null"` // "backup", "restore", "verify", "fs_list", "webdav_list"
	Status      AgentTaskStatus `gorm:"not null;default:'pending';index:idx_tasks_agent_status"`
	PayloadJSON string          `gorm:"type:text;not null;default:'{}'"`
	DeliveredAt *time.Time
	AckedAt     *time.Time
	CompletedAt *time.Time
	ResultJSON  string `gorm:"type:text;default:''"`
	Error       string `gorm:"default:''"`
}

func (AgentTask) TableName() string { return "agent_tasks" }

// QueueStatus is shared by the artifact-delete and incomplete-cleanup
// persistent queues.
type QueueStatus string

const (
	QueueQueued    QueueStatus = "queued"
	QueueRunning   QueueStatus = "running"
	QueueRetrying  QueueStatus = "retrying"
	QueueBlocked   QueueStatus = "blocked"
	QueueAbandoned QueueStatus = "abandoned"
	QueueDone      QueueStatus = "done"
	QueueIgnored   QueueStatus = "ignored"
)

// ArtifactDeleteTask drives asynchronous snapshot deletion (spec §4.9).
type ArtifactDeleteTask struct {
	base
	RunID             uuid.UUID   `gorm:"type:text;uniqueIndex"`
	NodeID            string      `gorm:"not null"`
	Status            QueueStatus `gorm:"not null;default:'queued';index"`
	Attempts          int         `gorm:"not null;default:0"`
	NextAttemptAt     time.Time   `gorm:"not null;index"`
	LastErrorKind     string      `gorm:"default:''"`
	LastErrorSummary  string      `gorm:"type:text;default:''"`
	Force             bool        `gorm:"not null;default:false"`
}

func (ArtifactDeleteTask) TableName() string { return "artifact_delete_tasks" }

// ArtifactDeleteEvent is the append-only event log for one delete task.
type ArtifactDeleteEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	TaskID    uuid.UUID `gorm:"type:text;not null;index"`
	Type      string    `gorm:"not null"`
	Message   string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ArtifactDeleteEvent) TableName() string { return "artifact_delete_events" }

// IncompleteCleanupTask reclaims abandoned staging directories.
type IncompleteCleanupTask struct {
	base
	RunID            uuid.UUID   `gorm:"type:text;uniqueIndex"`
	NodeID           string      `gorm:"not null"`
	StagingPath      string      `gorm:"not null"`
	Status           QueueStatus `gorm:"not null;default:'queued';index"`
	Attempts         int         `gorm:"not null;default:0"`
	NextAttemptAt    time.Time   `gorm:"not null;index"`
	LastErrorKind    string      `gorm:"default:''"`
	LastErrorSummary string      `gorm:"type:text;default:''"`
}

func (IncompleteCleanupTask) TableName() string { return "incomplete_cleanup_tasks" }

// Session is a logged-in UI session, pruned by maintenance.
type Session struct {
	Token     string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

// LoginThrottle is keyed by effective client IP (from trusted-proxy headers
// only when the direct peer is a configured trusted proxy).
type LoginThrottle struct {
	ClientIP    string    `gorm:"primaryKey"`
	Failures    int       `gorm:"not null;default:0"`
	LockedUntil time.Time `gorm:"index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (LoginThrottle) TableName() string { return "login_throttle" }

// EnrollToken is a one-time token an Agent presents to complete enrollment.
type EnrollToken struct {
	Token     string    `gorm:"primaryKey"`
	Label     string    `gorm:"default:''"`
	ExpiresAt time.Time `gorm:"not null;index"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (EnrollToken) TableName() string { return "enroll_tokens" }

// SecretKind enumerates the credential/identity kinds Bastion stores.
type SecretKind string

const (
	SecretWebDAV            SecretKind = "webdav"
	SecretBackupAgeIdentity SecretKind = "backup_age_identity"
	SecretSMTP              SecretKind = "smtp"
	SecretWeComWebhook      SecretKind = "wecom_webhook"
)

// Secret is encrypted at rest via the master keyring, scoped to a node
// ("hub" or an agent id).
type Secret struct {
	base
	NodeID        string     `gorm:"not null;index"`
	Name          string     `gorm:"not null"`
	Kind          SecretKind `gorm:"not null"`
	KeyVersion    int        `gorm:"not null"` // which keyring key encrypted this row
	CiphertextB64 string     `gorm:"type:text;not null"`
}

func (Secret) TableName() string { return "secrets" }

// ConfigSnapshot is a per-agent materialized view of the config the agent
// should be running, delivered over the protocol with a deterministic id.
type ConfigSnapshot struct {
	base
	AgentID              string `gorm:"not null;index"`
	SnapshotID           string `gorm:"not null"` // content hash of normalized content
	ContentJSON          string `gorm:"type:text;not null"`
	LastAppliedSnapshotID string `gorm:"default:''"`
	LastAppliedAt        *time.Time
}

func (ConfigSnapshot) TableName() string { return "config_snapshots" }

// SecretsSnapshot mirrors ConfigSnapshot for the secrets materialized view.
type SecretsSnapshot struct {
	base
	AgentID               string `gorm:"not null;index"`
	SnapshotID            string `gorm:"not null"`
	ContentJSON           string `gorm:"type:text;not null"` // encrypted secret blobs, not plaintext
	LastAppliedSnapshotID string `gorm:"default:''"`
	LastAppliedAt         *time.Time
}

func (SecretsSnapshot) TableName() string { return "secrets_snapshots" }

// OperationKind distinguishes restore from verify operations.
type OperationKind string

const (
	OperationRestore OperationKind = "restore"
	OperationVerify  OperationKind = "verify"
)

// Operation is a restore/verify unit linked to its subject run.
type Operation struct {
	base
	Kind         OperationKind `gorm:"not null"`
	SubjectKind  string        `gorm:"not null"` // "run"
	SubjectID    uuid.UUID     `gorm:"type:text;not null;index"`
	NodeID       string        `gorm:"not null"`
	Status       RunStatus     `gorm:"not null;default:'queued'"`
	SelectionJSON string       `gorm:"type:text;default:'{}'"`
	ConflictPolicy string      `gorm:"not null;default:'skip'"`
	SinkRefJSON  string        `gorm:"type:text;not null;default:'{}'"`
	ProgressJSON string        `gorm:"type:text;default:'{}'"`
	StartedAt    *time.Time
	EndedAt      *time.Time
	ErrorCode    string `gorm:"default:''"`
}

func (Operation) TableName() string { return "operations" }

// OperationEvent is the append-only event log for an Operation.
type OperationEvent struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	OperationID uuid.UUID `gorm:"type:text;not null;index"`
	Seq         int64     `gorm:"not null"`
	Type        string    `gorm:"not null"`
	DataJSON    string    `gorm:"type:text;not null;default:'{}'"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (OperationEvent) TableName() string { return "operation_events" }

// NotificationStatus is the delivery status of a queued Notification.
type NotificationStatus string

const (
	NotificationQueued NotificationStatus = "queued"
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// Notification is a queued outbound message describing a run's outcome.
// Bastion owns only the queue; SMTP/WeCom delivery is an external
// transport plugged in behind internal/notify.Transport (spec §1's
// "notification transports ... beyond the queue contract" non-goal).
type Notification struct {
	base
	RunID            *uuid.UUID         `gorm:"type:text;index"`
	Kind             string             `gorm:"not null"` // "run_success", "run_failed"
	Subject          string             `gorm:"not null"`
	Body             string             `gorm:"type:text;not null;default:''"`
	Status           NotificationStatus `gorm:"not null;default:'queued';index"`
	Attempts         int                `gorm:"not null;default:0"`
	NextAttemptAt    time.Time          `gorm:"not null;index"`
	LastErrorSummary string             `gorm:"type:text;default:''"`
	SentAt           *time.Time
}

func (Notification) TableName() string { return "notifications" }

// Agent is a registered worker node.
type Agent struct {
	base
	Name                      string `gorm:"not null"`
	Hostname                  string `gorm:"not null"`
	OS                        string `gorm:"default:''"`
	Arch                      string `gorm:"default:''"`
	Version                   string `gorm:"default:''"`
	Status                    string `gorm:"not null;default:'offline'"` // online, offline, error
	LastSeenAt                *time.Time
	LastAppliedConfigSnapshotID  string `gorm:"default:''"`
	LastAppliedSecretsSnapshotID string `gorm:"default:''"`
}

func (Agent) TableName() string { return "agents" }
