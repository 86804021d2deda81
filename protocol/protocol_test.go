package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecRequestRoundtrip(t *testing.T) {
	req := ExecRequest{Cmd: "echo hello", TimeoutMs: 5000, Workdir: "/workspace"}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded ExecRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, req, decoded)
}

func TestExecResponseRoundtrip(t *testing.T) {
	resp := ExecResponse{ExitCode: 0, Stdout: "hello\n", Cwd: "/workspace", DurationMs: 12}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded ExecResponse
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, resp, decoded)
}

func TestStreamChunkOmitsEmptyFields(t *testing.T) {
	chunk := StreamChunk{Channel: ChannelExit, ExitCode: ExitSentinel}

	data, err := json.Marshal(chunk)
	require.NoError(t, err)
	require.NotContains(t, string(data), `"data"`)
}

func TestWriteFileRequestRoundtrip(t *testing.T) {
	req := WriteFileRequest{Path: "out.txt", Content: "hi", Mode: "w"}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded WriteFileRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, req, decoded)
}

func TestReadFileResponseRoundtrip(t *testing.T) {
	resp := ReadFileResponse{Success: true, Content: "data", Truncated: true}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded ReadFileResponse
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, resp, decoded)
}
