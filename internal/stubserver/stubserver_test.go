package stubserver

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveLines(t *testing.T, opts Options, lines ...string) []string {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	require.NoError(t, Serve(in, &out, opts))

	var replies []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line != "" {
			replies = append(replies, line)
		}
	}
	return replies
}

func TestServeHandshake(t *testing.T) {
	replies := serveLines(t, Options{},
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`,
	)
	require.Len(t, replies, 2, "notifications must not be answered")

	var init struct {
		ID     int64 `json:"id"`
		Result struct {
			ProtocolVersion string                     `json:"protocolVersion"`
			Capabilities    map[string]json.RawMessage `json:"capabilities"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(replies[0]), &init))
	assert.Equal(t, int64(1), init.ID)
	assert.Equal(t, "2024-11-05", init.Result.ProtocolVersion)
	assert.Contains(t, init.Result.Capabilities, "tools")

	var list struct {
		ID     int64 `json:"id"`
		Result struct {
			Tools []struct {
				Name        string          `json:"name"`
				InputSchema json.RawMessage `json:"inputSchema"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(replies[1]), &list))
	assert.Equal(t, int64(2), list.ID)
	require.Len(t, list.Result.Tools, 3)
	assert.Contains(t, string(list.Result.Tools[1].InputSchema), "message")
}

func TestServeToolCalls(t *testing.T) {
	replies := serveLines(t, Options{},
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"ping"}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hey"}}}`,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"reqid"}}`,
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"nope"}}`,
	)
	require.Len(t, replies, 4)
	assert.Contains(t, replies[0], "pong")
	assert.Contains(t, replies[1], "hey")
	assert.Contains(t, replies[2], `"id":7`)
	assert.Contains(t, replies[3], "tool not found")
}

func TestServeResources(t *testing.T) {
	replies := serveLines(t, Options{},
		`{"jsonrpc":"2.0","id":1,"method":"resources/list","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"stub://status"}}`,
	)
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0], "stub://status")
	assert.Contains(t, replies[1], `"text":"ok"`)
}

func TestServeUnknownMethod(t *testing.T) {
	replies := serveLines(t, Options{},
		`{"jsonrpc":"2.0","id":1,"method":"prompts/list","params":{}}`,
	)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "-32601")
}

func TestServeModes(t *testing.T) {
	t.Run("exit", func(t *testing.T) {
		replies := serveLines(t, Options{Mode: ModeExit},
			`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		)
		assert.Empty(t, replies)
	})

	t.Run("drop-calls", func(t *testing.T) {
		replies := serveLines(t, Options{Mode: ModeDropCalls},
			`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ping"}}`,
			`{"jsonrpc":"2.0","id":3,"method":"tools/list","params":{}}`,
		)
		require.Len(t, replies, 2, "tools/call must be dropped")
		assert.Contains(t, replies[0], `"id":1`)
		assert.Contains(t, replies[1], `"id":3`)
	})

	t.Run("garbage", func(t *testing.T) {
		replies := serveLines(t, Options{Mode: ModeGarbage},
			`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		)
		require.Len(t, replies, 1)
		assert.False(t, json.Valid([]byte(replies[0])))
	})
}

func TestServeSkipsMalformedLines(t *testing.T) {
	replies := serveLines(t, Options{},
		`not json at all`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`,
	)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `"id":1`)
}
