// Package protocol defines the versioned bidirectional WebSocket wire
// protocol between Hub and Agent (spec §4.7), replacing the teacher's
// gRPC+mTLS transport and arkeep's gRPC streaming RPCs with a single
// typed envelope multiplexed over one connection per agent.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is bumped whenever a breaking wire change is introduced; Hello
// exchanges it so either side can refuse an incompatible peer cleanly
// instead of failing opaquely mid-stream.
const Version = 1

// MessageType names one of the envelope's payload shapes.
type MessageType string

const (
	TypeHello           MessageType = "hello"
	TypeHelloAck        MessageType = "hello_ack"
	TypeConfigSnapshot   MessageType = "config_snapshot"
	TypeConfigAck       MessageType = "config_ack"
	TypeSecretsSnapshot MessageType = "secrets_snapshot"
	TypeSecretsAck      MessageType = "secrets_ack"
	TypeTask            MessageType = "task"
	TypeTaskAck         MessageType = "task_ack"
	TypeTaskResult      MessageType = "task_result"
	TypeRunEvent        MessageType = "run_event"
	TypeFsList          MessageType = "fs_list"
	TypeFsListResult    MessageType = "fs_list_result"
	TypeWebdavList      MessageType = "webdav_list"
	TypeWebdavListResult MessageType = "webdav_list_result"
	TypeArtifactStream  MessageType = "artifact_stream"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
	TypeError           MessageType = "error"
)

// Envelope is the single message shape sent over the socket in both
// directions; Payload is re-decoded based on Type by the handler, the same
// tagged-union-over-JSON idiom the arkeep grpc layer uses for its protobuf
// oneof fields, re-expressed for a text/binary WebSocket frame instead of
// a protobuf message.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a typed payload into an Envelope ready to send.
func Encode(msgType MessageType, requestID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Envelope{Type: msgType, RequestID: requestID, Payload: data}, nil
}

// Decode unmarshals an Envelope's payload into dst.
func Decode(env *Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}

// Hello is the first message an Agent sends after connecting.
type Hello struct {
	ProtocolVersion int    `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
	EnrollToken     string `json:"enroll_token,omitempty"` // only present on first-ever connect
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	AgentVersion    string `json:"agent_version"`
}

// HelloAck is the Hub's reply, confirming the agent id to use going
// forward (assigned on first enrollment, echoed afterward).
type HelloAck struct {
	ProtocolVersion int    `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
}

// ConfigSnapshotMsg carries a content-addressed config view; the Agent
// persists it and acks its SnapshotID on every delivery.
type ConfigSnapshotMsg struct {
	SnapshotID string          `json:"snapshot_id"`
	Content    json.RawMessage `json:"content"`
}

// ConfigAckMsg confirms the Agent applied a given snapshot.
type ConfigAckMsg struct {
	SnapshotID string `json:"snapshot_id"`
	Error      string `json:"error,omitempty"`
}

// SecretsSnapshotMsg mirrors ConfigSnapshotMsg for the secrets view; the
// content is already ciphertext encrypted under the agent's node key, so
// the Hub never needs to re-encrypt per transport.
type SecretsSnapshotMsg struct {
	SnapshotID string          `json:"snapshot_id"`
	Content    json.RawMessage `json:"content"`
}

// SecretsAckMsg confirms the Agent applied a secrets snapshot.
type SecretsAckMsg struct {
	SnapshotID string `json:"snapshot_id"`
	Error      string `json:"error,omitempty"`
}

// TaskMsg dispatches one unit of work to the Agent. Redelivery of the same
// TaskID after a reconnect must be handled idempotently by the Agent.
type TaskMsg struct {
	TaskID  string          `json:"task_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// TaskAckMsg confirms receipt of a task before execution begins, letting
// the Hub distinguish "never delivered" from "delivered, still running"
// after a disconnect.
type TaskAckMsg struct {
	TaskID string `json:"task_id"`
}

// TaskResultMsg reports a task's terminal outcome.
type TaskResultMsg struct {
	TaskID  string          `json:"task_id"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// RunEventMsg carries one run-event produced on the Agent back to the Hub
// for ingestion into internal/events. AgentSeq numbers the agent's events
// for one run; the Hub does not use it to deduplicate events that arrive
// twice.
type RunEventMsg struct {
	RunID    string          `json:"run_id"`
	AgentSeq int64           `json:"agent_seq"`
	Type     string          `json:"event_type"`
	Data     json.RawMessage `json:"data"`
}

// FsListRequest/Result implement the paginated, sorted, cursor-based
// filesystem browse endpoint spec §6 requires for job source/target
// pickers.
type FsListRequest struct {
	Path       string `json:"path"`
	Cursor     string `json:"cursor,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
}

type FsListEntry struct {
	Name    string `json:"name"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size"`
	ModTime string `json:"mod_time,omitempty"`
}

type FsListResult struct {
	Entries    []FsListEntry `json:"entries"`
	NextCursor string        `json:"next_cursor,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// WebdavListRequest/Result mirror FsList for a WebDAV-backed job target.
type WebdavListRequest struct {
	Path     string `json:"path"`
	Cursor   string `json:"cursor,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

type WebdavListResult struct {
	Entries    []FsListEntry `json:"entries"`
	NextCursor string        `json:"next_cursor,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ArtifactStreamFrame is one windowed chunk of the Hub-mediated relay used
// when an Agent restoring a run cannot read the artifact directly (spec
// §4.5's cross-node relay): the Hub opens the upstream and forwards bytes
// to the requesting Agent in bounded frames, acked by sequence so the
// sender never outruns the receiver's buffer.
type ArtifactStreamFrame struct {
	StreamID string `json:"stream_id"`
	Seq      int64  `json:"seq"`
	Data     []byte `json:"data,omitempty"`
	EOF      bool   `json:"eof,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ArtifactStreamAck flow-controls the relay: the receiver acks up through
// a seq once its buffer has room, and the sender only sends ahead of the
// last ack by a bounded window.
type ArtifactStreamAck struct {
	StreamID string `json:"stream_id"`
	UpToSeq  int64  `json:"up_to_seq"`
}

// ErrorMsg reports a protocol-level error not tied to a specific request.
type ErrorMsg struct {
	Message string `json:"message"`
}
