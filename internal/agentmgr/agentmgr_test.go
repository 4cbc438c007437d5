package agentmgr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/protocol"
)

// fakeStore is a minimal in-memory Store used only to exercise Manager,
// mirroring the fake-store pattern internal/snapshot's tests use instead of
// spinning up a real database for package-local unit tests.
type fakeStore struct {
	mu      sync.Mutex
	agents  map[string]*model.Agent
	pending map[string][]model.AgentTask
	delivered []uuid.UUID
	statuses map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agents:   map[string]*model.Agent{},
		pending:  map[string][]model.AgentTask{},
		statuses: map[string]string{},
	}
}

func (s *fakeStore) UpsertAgent(ctx context.Context, a *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.Must(uuid.NewV7())
	}
	s.agents[a.ID.String()] = a
	return nil
}

func (s *fakeStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[id], nil
}

func (s *fakeStore) SetAgentStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) ListPendingAgentTasks(ctx context.Context, agentID string) ([]model.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[agentID], nil
}

func (s *fakeStore) MarkTaskDelivered(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, id)
	return nil
}

// newAgentTask and newAgent build model values for tests. ID is a promoted
// field from model's unexported base struct, so it can only be set via
// field assignment, not a keyed composite literal.
func newAgentTask(id uuid.UUID, kind, payloadJSON string) *model.AgentTask {
	task := &model.AgentTask{Kind: kind, PayloadJSON: payloadJSON}
	task.ID = id
	return task
}

func newAgent(id uuid.UUID, hostname string) *model.Agent {
	a := &model.Agent{Hostname: hostname}
	a.ID = id
	return a
}

// startServer upgrades one inbound HTTP connection into Manager.HandleConnection
// and returns the dialed client connection plus a channel signaling the
// handler goroutine's return.
func startServer(t *testing.T, m *Manager) (*websocket.Conn, chan error) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	done := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			done <- err
			return
		}
		done <- m.HandleConnection(context.Background(), ws)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, done
}

func TestHandleConnectionHelloHandshake(t *testing.T) {
	store := newFakeStore()
	m := New(store, zerolog.Nop(), Hooks{})
	client, _ := startServer(t, m)

	hello, err := protocol.Encode(protocol.TypeHello, "", protocol.Hello{
		ProtocolVersion: protocol.Version, Hostname: "agent-box", OS: "linux", Arch: "amd64",
	})
	require.NoError(t, err)
	require.NoError(t, client.WriteJSON(hello))

	var ackEnv protocol.Envelope
	require.NoError(t, client.ReadJSON(&ackEnv))
	assert.Equal(t, protocol.TypeHelloAck, ackEnv.Type)

	var ack protocol.HelloAck
	require.NoError(t, protocol.Decode(&ackEnv, &ack))
	assert.Equal(t, protocol.Version, ack.ProtocolVersion)
	assert.NotEmpty(t, ack.AgentID)

	assert.Eventually(t, func() bool { return m.IsConnected(ack.AgentID) }, time.Second, 10*time.Millisecond)
}

func TestHandleConnectionRejectsUnsupportedProtocolVersion(t *testing.T) {
	store := newFakeStore()
	m := New(store, zerolog.Nop(), Hooks{})
	client, done := startServer(t, m)

	hello, err := protocol.Encode(protocol.TypeHello, "", protocol.Hello{ProtocolVersion: 999, Hostname: "agent-box"})
	require.NoError(t, err)
	require.NoError(t, client.WriteJSON(hello))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler never returned for an unsupported protocol version")
	}
}

func TestDispatchNoopWhenAgentNotConnected(t *testing.T) {
	store := newFakeStore()
	m := New(store, zerolog.Nop(), Hooks{})

	task := newAgentTask(uuid.Must(uuid.NewV7()), "backup", "{}")
	require.NoError(t, m.Dispatch(context.Background(), "never-connected", task))
	assert.Empty(t, store.delivered)
}

func TestDispatchSendsTaskToConnectedAgent(t *testing.T) {
	store := newFakeStore()
	m := New(store, zerolog.Nop(), Hooks{})
	client, _ := startServer(t, m)

	hello, _ := protocol.Encode(protocol.TypeHello, "", protocol.Hello{ProtocolVersion: protocol.Version, Hostname: "agent-box"})
	require.NoError(t, client.WriteJSON(hello))
	var ackEnv protocol.Envelope
	require.NoError(t, client.ReadJSON(&ackEnv))
	var ack protocol.HelloAck
	require.NoError(t, protocol.Decode(&ackEnv, &ack))

	task := newAgentTask(uuid.Must(uuid.NewV7()), "backup", `{"job_id":"j1"}`)
	require.NoError(t, m.Dispatch(context.Background(), ack.AgentID, task))

	var taskEnv protocol.Envelope
	require.NoError(t, client.ReadJSON(&taskEnv))
	assert.Equal(t, protocol.TypeTask, taskEnv.Type)

	var msg protocol.TaskMsg
	require.NoError(t, protocol.Decode(&taskEnv, &msg))
	assert.Equal(t, task.ID.String(), msg.TaskID)
	assert.Equal(t, "backup", msg.Kind)

	assert.Contains(t, store.delivered, task.ID)
}

func TestRedeliverPendingTasksOnReconnect(t *testing.T) {
	store := newFakeStore()
	agentID := uuid.Must(uuid.NewV7())
	store.agents[agentID.String()] = newAgent(agentID, "agent-box")
	pendingTask := *newAgentTask(uuid.Must(uuid.NewV7()), "restore", `{}`)
	store.pending[agentID.String()] = []model.AgentTask{pendingTask}

	m := New(store, zerolog.Nop(), Hooks{})
	client, _ := startServer(t, m)

	hello, _ := protocol.Encode(protocol.TypeHello, "", protocol.Hello{ProtocolVersion: protocol.Version, AgentID: agentID.String(), Hostname: "agent-box"})
	require.NoError(t, client.WriteJSON(hello))

	var ackEnv protocol.Envelope
	require.NoError(t, client.ReadJSON(&ackEnv))

	var taskEnv protocol.Envelope
	require.NoError(t, client.ReadJSON(&taskEnv))
	assert.Equal(t, protocol.TypeTask, taskEnv.Type)
	var msg protocol.TaskMsg
	require.NoError(t, protocol.Decode(&taskEnv, &msg))
	assert.Equal(t, pendingTask.ID.String(), msg.TaskID)
}

func TestDispatchInboundInvokesTaskResultHook(t *testing.T) {
	store := newFakeStore()
	var gotAgentID string
	var gotMsg protocol.TaskResultMsg
	received := make(chan struct{})

	m := New(store, zerolog.Nop(), Hooks{
		OnTaskResult: func(ctx context.Context, agentID string, msg protocol.TaskResultMsg) {
			gotAgentID = agentID
			gotMsg = msg
			close(received)
		},
	})
	client, _ := startServer(t, m)

	hello, _ := protocol.Encode(protocol.TypeHello, "", protocol.Hello{ProtocolVersion: protocol.Version, Hostname: "agent-box"})
	require.NoError(t, client.WriteJSON(hello))
	var ackEnv protocol.Envelope
	require.NoError(t, client.ReadJSON(&ackEnv))
	var ack protocol.HelloAck
	require.NoError(t, protocol.Decode(&ackEnv, &ack))

	result, _ := protocol.Encode(protocol.TypeTaskResult, "", protocol.TaskResultMsg{TaskID: "t1", Success: true})
	require.NoError(t, client.WriteJSON(result))

	select {
	case <-received:
		assert.Equal(t, ack.AgentID, gotAgentID)
		assert.Equal(t, "t1", gotMsg.TaskID)
		assert.True(t, gotMsg.Success)
	case <-time.After(time.Second):
		t.Fatal("OnTaskResult hook never fired")
	}
}

func TestComputeSyncStatus(t *testing.T) {
	assert.Equal(t, SyncOffline, ComputeSyncStatus(false, "a", "b"))
	assert.Equal(t, SyncSynced, ComputeSyncStatus(true, "a", "a"))
	assert.Equal(t, SyncPending, ComputeSyncStatus(true, "a", "b"))
}
