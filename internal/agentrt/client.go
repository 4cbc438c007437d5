// Package agentrt is the Agent-side runtime: a reconnecting WebSocket
// client that dials the Hub, executes dispatched tasks against
// internal/backup/internal/restore/internal/target, and persists its own
// offline run state so a network split never loses a run. Grounded on the
// teacher's pkg/worker.Worker Start/heartbeatLoop/containerExecutorLoop
// shape (stopCh + ticker loops registering against a manager), generalized
// from gRPC+mTLS to a single reconnecting WebSocket per spec §4.7.
package agentrt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/protocol"
	"github.com/cuemby/bastion/internal/supervise"
)

// Config describes how to reach and identify with the Hub.
type Config struct {
	HubURL       string // e.g. wss://hub.example.com/agent
	AgentID      string // empty on first-ever connect
	EnrollToken  string // only sent on first-ever connect
	Hostname     string
	OS           string
	Arch         string
	AgentVersion string
}

// Executor runs a dispatched task to completion and reports its outcome.
// onEvent streams run events live as the task progresses (source of
// progress throttling lives in the executor, not here); cmd/bastion's agent
// command wires this to the real task executor, tests can substitute a fake.
type Executor interface {
	Execute(ctx context.Context, task protocol.TaskMsg, onEvent func(protocol.RunEventMsg)) protocol.TaskResultMsg
}

// SnapshotStore persists config/secrets snapshots received from the Hub so
// the agent can keep running its offline schedule across restarts between
// Hub connections.
type SnapshotStore interface {
	SaveConfigSnapshot(snapshotID string, content json.RawMessage) error
	SaveSecretsSnapshot(snapshotID string, content json.RawMessage) error
	LastAppliedConfigSnapshotID() string
	LastAppliedSecretsSnapshotID() string
}

// Runtime owns the reconnect loop and dispatches inbound envelopes to the
// executor and snapshot store.
type Runtime struct {
	cfg      Config
	executor Executor
	snapshots SnapshotStore
	logger   zerolog.Logger
	cb       *gobreaker.CircuitBreaker[any]

	onRunEvent func(ctx context.Context, msg protocol.RunEventMsg)

	dialer *websocket.Dialer
}

func New(cfg Config, executor Executor, snapshots SnapshotStore, logger zerolog.Logger) *Runtime {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "hub-dial",
		MaxRequests: 1,
		Interval:    0, // never reset counts on a timer, only on a successful half-open probe
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Runtime{
		cfg:       cfg,
		executor:  executor,
		snapshots: snapshots,
		logger:    logger,
		cb:        cb,
		dialer:    websocket.DefaultDialer,
	}
}

// Run blocks, dialing the Hub and reconnecting with backoff until ctx is
// canceled. Each connection lifecycle runs fully inside the circuit
// breaker so five consecutive dial failures open the breaker and back the
// agent off from hammering an unreachable Hub.
func (r *Runtime) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, err := r.cb.Execute(func() (any, error) {
			return nil, r.connectOnce(ctx)
		})
		if err != nil {
			r.logger.Warn().Err(err).Dur("backoff", backoff).Msg("hub connection lost, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (r *Runtime) connectOnce(ctx context.Context) error {
	ws, _, err := r.dialer.DialContext(ctx, r.cfg.HubURL, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, "dial hub", err)
	}
	defer ws.Close()

	hello, err := protocol.Encode(protocol.TypeHello, "", protocol.Hello{
		ProtocolVersion: protocol.Version,
		AgentID:         r.cfg.AgentID,
		EnrollToken:     r.cfg.EnrollToken,
		Hostname:        r.cfg.Hostname,
		OS:              r.cfg.OS,
		Arch:            r.cfg.Arch,
		AgentVersion:    r.cfg.AgentVersion,
	})
	if err != nil {
		return err
	}
	if err := ws.WriteJSON(hello); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "write hello", err)
	}

	var ackEnv protocol.Envelope
	if err := ws.ReadJSON(&ackEnv); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "read hello_ack", err)
	}
	var ack protocol.HelloAck
	if err := protocol.Decode(&ackEnv, &ack); err != nil {
		return err
	}
	r.cfg.AgentID = ack.AgentID

	group := supervise.New(ctx, r.logger)
	defer group.Shutdown()

	writeCh := make(chan *protocol.Envelope, 32)
	group.Spawn("ws-writer", func(ctx context.Context) {
		r.writeLoop(ctx, ws, writeCh)
	})

	r.logger.Info().Str("agent_id", r.cfg.AgentID).Msg("connected to hub")

	for {
		var env protocol.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return apperr.Wrap(apperr.KindNetwork, "read from hub", err)
		}
		r.handleInbound(group.Context(), &env, writeCh)
	}
}

func (r *Runtime) writeLoop(ctx context.Context, ws *websocket.Conn, ch <-chan *protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-ch:
			if err := ws.WriteJSON(env); err != nil {
				r.logger.Warn().Err(err).Msg("write to hub failed")
				return
			}
		}
	}
}

func (r *Runtime) handleInbound(ctx context.Context, env *protocol.Envelope, writeCh chan<- *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeConfigSnapshot:
		var msg protocol.ConfigSnapshotMsg
		if err := protocol.Decode(env, &msg); err != nil {
			return
		}
		errMsg := ""
		if err := r.snapshots.SaveConfigSnapshot(msg.SnapshotID, msg.Content); err != nil {
			errMsg = err.Error()
		}
		ackEnv, _ := protocol.Encode(protocol.TypeConfigAck, env.RequestID, protocol.ConfigAckMsg{SnapshotID: msg.SnapshotID, Error: errMsg})
		writeCh <- ackEnv

	case protocol.TypeSecretsSnapshot:
		var msg protocol.SecretsSnapshotMsg
		if err := protocol.Decode(env, &msg); err != nil {
			return
		}
		errMsg := ""
		if err := r.snapshots.SaveSecretsSnapshot(msg.SnapshotID, msg.Content); err != nil {
			errMsg = err.Error()
		}
		ackEnv, _ := protocol.Encode(protocol.TypeSecretsAck, env.RequestID, protocol.SecretsAckMsg{SnapshotID: msg.SnapshotID, Error: errMsg})
		writeCh <- ackEnv

	case protocol.TypeTask:
		var msg protocol.TaskMsg
		if err := protocol.Decode(env, &msg); err != nil {
			return
		}
		ackEnv, _ := protocol.Encode(protocol.TypeTaskAck, "", protocol.TaskAckMsg{TaskID: msg.TaskID})
		writeCh <- ackEnv
		go r.runTask(ctx, msg, writeCh)

	case protocol.TypePing:
		pong, _ := protocol.Encode(protocol.TypePong, env.RequestID, struct{}{})
		writeCh <- pong

	default:
		r.logger.Debug().Str("type", string(env.Type)).Msg("unhandled hub message")
	}
}

func (r *Runtime) runTask(ctx context.Context, msg protocol.TaskMsg, writeCh chan<- *protocol.Envelope) {
	onEvent := func(evt protocol.RunEventMsg) {
		env, err := protocol.Encode(protocol.TypeRunEvent, "", evt)
		if err != nil {
			return
		}
		select {
		case writeCh <- env:
		default:
			// writer is backed up; the event is dropped rather than block
			// the task, and the agent keeps no copy to resend later.
		}
	}
	result := r.executor.Execute(ctx, msg, onEvent)
	resultEnv, err := protocol.Encode(protocol.TypeTaskResult, "", result)
	if err != nil {
		return
	}
	select {
	case writeCh <- resultEnv:
	case <-ctx.Done():
	}
}
