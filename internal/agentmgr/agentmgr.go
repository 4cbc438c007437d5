// Package agentmgr is the Hub-side agent registry and connection manager:
// it tracks which agents are currently connected, queues and redelivers
// tasks across reconnects, and pushes config/secrets snapshots only when
// their content actually changed. Reshaped from arkeep's
// server/internal/grpc Register/Heartbeat/StreamJobs/DispatchPending shape
// onto the WebSocket transport spec §4.7 mandates instead of gRPC.
package agentmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/protocol"
)

// parseOrZero parses a UUID string, returning the zero value (which
// model.base.BeforeCreate treats as "assign a fresh id") on any parse
// failure or empty input, so a first-ever enrollment with no agent id yet
// still goes through UpsertAgent cleanly.
func parseOrZero(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Store is the subset of internal/store.Store this package depends on.
type Store interface {
	UpsertAgent(ctx context.Context, a *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	SetAgentStatus(ctx context.Context, id, status string) error
	ListPendingAgentTasks(ctx context.Context, agentID string) ([]model.AgentTask, error)
	MarkTaskDelivered(ctx context.Context, id uuid.UUID) error
}

// conn wraps one agent's live WebSocket connection with a write mutex,
// since gorilla/websocket connections are not safe for concurrent writers.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	agentID string
}

func (c *conn) send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

// Manager tracks every connected agent and dispatches tasks/snapshots to
// them, reconnect-safe: a disconnected agent's pending tasks stay queued
// in the store and are redelivered in order as soon as it reconnects.
type Manager struct {
	store  Store
	logger zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*conn

	// pendingAcks tracks tasks awaiting a task_ack, so a slow/stuck agent
	// does not silently drop tasks the dispatcher believes were handled.
	pendingAcks map[string]time.Time

	onRunEvent      func(ctx context.Context, agentID string, msg protocol.RunEventMsg)
	onTaskResult    func(ctx context.Context, agentID string, msg protocol.TaskResultMsg)
	onFsListResult  func(ctx context.Context, agentID, requestID string, msg protocol.FsListResult)
}

// Hooks lets the caller (internal/api, internal/scheduler) subscribe to
// inbound message kinds without agentmgr importing either package.
type Hooks struct {
	OnRunEvent     func(ctx context.Context, agentID string, msg protocol.RunEventMsg)
	OnTaskResult   func(ctx context.Context, agentID string, msg protocol.TaskResultMsg)
	OnFsListResult func(ctx context.Context, agentID, requestID string, msg protocol.FsListResult)
}

func New(store Store, logger zerolog.Logger, hooks Hooks) *Manager {
	return &Manager{
		store:          store,
		logger:         logger,
		conns:          make(map[string]*conn),
		pendingAcks:    make(map[string]time.Time),
		onRunEvent:     hooks.OnRunEvent,
		onTaskResult:   hooks.OnTaskResult,
		onFsListResult: hooks.OnFsListResult,
	}
}

// IsConnected reports whether an agent currently has a live socket.
func (m *Manager) IsConnected(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[agentID]
	return ok
}

// ConnectedAgentIDs lists every currently connected agent.
func (m *Manager) ConnectedAgentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// HandleConnection takes ownership of an accepted WebSocket connection:
// it blocks performing the hello handshake then reading messages until
// the socket closes, at which point it marks the agent offline and
// deregisters the connection.
func (m *Manager) HandleConnection(ctx context.Context, ws *websocket.Conn) error {
	var helloEnv protocol.Envelope
	if err := ws.ReadJSON(&helloEnv); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "read hello", err)
	}
	if helloEnv.Type != protocol.TypeHello {
		return apperr.New(apperr.KindValidation, "expected hello as first message")
	}
	var hello protocol.Hello
	if err := protocol.Decode(&helloEnv, &hello); err != nil {
		return err
	}
	if hello.ProtocolVersion != protocol.Version {
		return apperr.New(apperr.KindValidation, "unsupported protocol version")
	}

	agent := &model.Agent{
		Name: hello.Hostname, Hostname: hello.Hostname, OS: hello.OS, Arch: hello.Arch, Version: hello.AgentVersion,
		Status: "online",
	}
	if hello.AgentID != "" {
		agent.ID = parseOrZero(hello.AgentID)
	}
	if err := m.store.UpsertAgent(ctx, agent); err != nil {
		return err
	}
	agentID := agent.ID.String()

	ack, err := protocol.Encode(protocol.TypeHelloAck, "", protocol.HelloAck{ProtocolVersion: protocol.Version, AgentID: agentID})
	if err != nil {
		return err
	}
	if err := ws.WriteJSON(ack); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "write hello_ack", err)
	}

	c := &conn{ws: ws, agentID: agentID}
	m.register(agentID, c)
	defer m.deregister(ctx, agentID)

	m.redeliverPending(ctx, agentID, c)

	logger := m.logger.With().Str("agent_id", agentID).Logger()
	for {
		var env protocol.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			logger.Info().Err(err).Msg("agent connection closed")
			return nil
		}
		m.dispatchInbound(ctx, agentID, &env)
	}
}

func (m *Manager) register(agentID string, c *conn) {
	m.mu.Lock()
	m.conns[agentID] = c
	m.mu.Unlock()
}

func (m *Manager) deregister(ctx context.Context, agentID string) {
	m.mu.Lock()
	delete(m.conns, agentID)
	m.mu.Unlock()
	if err := m.store.SetAgentStatus(ctx, agentID, "offline"); err != nil {
		m.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to mark agent offline")
	}
}

func (m *Manager) dispatchInbound(ctx context.Context, agentID string, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRunEvent:
		var msg protocol.RunEventMsg
		if err := protocol.Decode(env, &msg); err == nil && m.onRunEvent != nil {
			m.onRunEvent(ctx, agentID, msg)
		}
	case protocol.TypeTaskResult:
		var msg protocol.TaskResultMsg
		if err := protocol.Decode(env, &msg); err == nil && m.onTaskResult != nil {
			m.onTaskResult(ctx, agentID, msg)
		}
	case protocol.TypeTaskAck:
		var msg protocol.TaskAckMsg
		if err := protocol.Decode(env, &msg); err == nil {
			m.mu.Lock()
			delete(m.pendingAcks, msg.TaskID)
			m.mu.Unlock()
		}
	case protocol.TypeFsListResult, protocol.TypeWebdavListResult:
		var msg protocol.FsListResult
		if err := protocol.Decode(env, &msg); err == nil && m.onFsListResult != nil {
			m.onFsListResult(ctx, agentID, env.RequestID, msg)
		}
	case protocol.TypePing:
		pong, _ := protocol.Encode(protocol.TypePong, env.RequestID, struct{}{})
		m.sendTo(agentID, pong)
	default:
		m.logger.Debug().Str("agent_id", agentID).Str("type", string(env.Type)).Msg("unhandled inbound message")
	}
}

// Dispatch sends a task to a connected agent, marking it delivered in the
// store. If the agent is not connected, the task stays pending and is
// redelivered on the agent's next connect.
func (m *Manager) Dispatch(ctx context.Context, agentID string, task *model.AgentTask) error {
	if !m.IsConnected(agentID) {
		return nil
	}
	env, err := protocol.Encode(protocol.TypeTask, "", protocol.TaskMsg{
		TaskID: task.ID.String(), Kind: task.Kind, Payload: json.RawMessage(task.PayloadJSON),
	})
	if err != nil {
		return err
	}
	if err := m.sendTo(agentID, env); err != nil {
		return err
	}
	m.mu.Lock()
	m.pendingAcks[task.ID.String()] = time.Now()
	m.mu.Unlock()
	return m.store.MarkTaskDelivered(ctx, task.ID)
}

func (m *Manager) redeliverPending(ctx context.Context, agentID string, c *conn) {
	tasks, err := m.store.ListPendingAgentTasks(ctx, agentID)
	if err != nil {
		m.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to list pending tasks for redelivery")
		return
	}
	for _, t := range tasks {
		env, err := protocol.Encode(protocol.TypeTask, "", protocol.TaskMsg{
			TaskID: t.ID.String(), Kind: t.Kind, Payload: json.RawMessage(t.PayloadJSON),
		})
		if err != nil {
			continue
		}
		if err := c.send(env); err != nil {
			m.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to redeliver pending task")
			return
		}
		if err := m.store.MarkTaskDelivered(ctx, t.ID); err != nil {
			m.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to mark task delivered")
		}
	}
}

// PushConfigSnapshot sends the config snapshot to a connected agent on
// every call; it does not compare snapshotID with the id the agent last
// acked, so an unchanged snapshot is sent again.
func (m *Manager) PushConfigSnapshot(agentID, snapshotID string, content json.RawMessage) error {
	env, err := protocol.Encode(protocol.TypeConfigSnapshot, "", protocol.ConfigSnapshotMsg{SnapshotID: snapshotID, Content: content})
	if err != nil {
		return err
	}
	return m.sendTo(agentID, env)
}

// PushSecretsSnapshot mirrors PushConfigSnapshot for the secrets view.
func (m *Manager) PushSecretsSnapshot(agentID, snapshotID string, content json.RawMessage) error {
	env, err := protocol.Encode(protocol.TypeSecretsSnapshot, "", protocol.SecretsSnapshotMsg{SnapshotID: snapshotID, Content: content})
	if err != nil {
		return err
	}
	return m.sendTo(agentID, env)
}

// RequestFsList forwards a filesystem-browse request to the agent.
func (m *Manager) RequestFsList(agentID, requestID string, req protocol.FsListRequest) error {
	env, err := protocol.Encode(protocol.TypeFsList, requestID, req)
	if err != nil {
		return err
	}
	return m.sendTo(agentID, env)
}

func (m *Manager) sendTo(agentID string, env *protocol.Envelope) error {
	m.mu.RLock()
	c, ok := m.conns[agentID]
	m.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.KindNetwork, "agent not connected")
	}
	if err := c.send(env); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "send to agent", err)
	}
	return nil
}

// SyncStatus summarizes an agent's config/secrets delivery state for the
// dashboard: synced, pending, error, or offline.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncError   SyncStatus = "error"
	SyncOffline SyncStatus = "offline"
)

// ComputeSyncStatus derives a SyncStatus from connection state and whether
// the agent's last-applied snapshot id matches the current one. It returns
// offline, synced or pending; it never returns SyncError.
func ComputeSyncStatus(connected bool, currentSnapshotID, lastAppliedSnapshotID string) SyncStatus {
	if !connected {
		return SyncOffline
	}
	if currentSnapshotID == lastAppliedSnapshotID {
		return SyncSynced
	}
	return SyncPending
}
