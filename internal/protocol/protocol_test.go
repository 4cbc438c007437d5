package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hello := Hello{ProtocolVersion: Version, AgentID: "agent-1", Hostname: "box", OS: "linux", Arch: "amd64"}

	env, err := Encode(TypeHello, "req-1", hello)
	require.NoError(t, err)
	assert.Equal(t, TypeHello, env.Type)
	assert.Equal(t, "req-1", env.RequestID)

	var decoded Hello
	require.NoError(t, Decode(env, &decoded))
	assert.Equal(t, hello, decoded)
}

func TestDecodeInvalidPayloadErrors(t *testing.T) {
	env := &Envelope{Type: TypeTask, Payload: []byte("not json")}
	var dst TaskMsg
	err := Decode(env, &dst)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "task")
}

func TestTaskResultMsgRoundTrip(t *testing.T) {
	res := TaskResultMsg{TaskID: "t1", Success: false, Error: "boom"}
	env, err := Encode(TypeTaskResult, "", res)
	require.NoError(t, err)

	var decoded TaskResultMsg
	require.NoError(t, Decode(env, &decoded))
	assert.Equal(t, res, decoded)
}
