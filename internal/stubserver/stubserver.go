// Package stubserver implements a minimal MCP server over newline-delimited
// JSON-RPC on a reader/writer pair. It backs the mcpstub command and the
// failure-injection modes the client tests spawn it with.
package stubserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
)

// Failure-injection modes.
const (
	// ModeExit terminates before serving anything, like a server with a
	// missing runtime dependency.
	ModeExit = "exit"
	// ModeDropCalls answers the handshake and discovery but never answers
	// tools/call, forcing the caller's timeout.
	ModeDropCalls = "drop-calls"
	// ModeGarbage answers every request with a non-JSON line.
	ModeGarbage = "garbage"
)

// Options alter the stub's behavior.
type Options struct {
	Mode string
}

// EchoArgs is the input of the echo tool.
type EchoArgs struct {
	Message string `json:"message" jsonschema:"title=Message,description=Text to echo back"`
}

type request struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Result  any            `json:"result,omitempty"`
	Error   *responseError `json:"error,omitempty"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type contentResult struct {
	Content []textContent `json:"content"`
}

// Serve reads requests line by line until end-of-stream. Notifications are
// consumed without a reply.
func Serve(r io.Reader, w io.Writer, opts Options) error {
	if opts.Mode == ModeExit {
		return nil
	}

	echoSchema := mustSchema(&EchoArgs{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue
		}

		if opts.Mode == ModeGarbage {
			if _, err := fmt.Fprintln(w, "this is not json"); err != nil {
				return err
			}
			continue
		}

		resp := response{JSONRPC: "2.0", ID: *req.ID}
		switch req.Method {
		case "initialize":
			resp.Result = map[string]any{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]any{
					"tools":     map[string]any{"listChanged": true},
					"resources": map[string]any{},
				},
				"serverInfo": map[string]any{"name": "mcpstub", "version": "1.0.0"},
			}
		case "tools/list":
			resp.Result = map[string]any{
				"tools": []map[string]any{
					{
						"name":        "ping",
						"description": "Replies with pong",
						"inputSchema": map[string]any{"type": "object"},
					},
					{
						"name":        "echo",
						"description": "Echoes the message back",
						"inputSchema": echoSchema,
					},
					{
						"name":        "reqid",
						"description": "Returns the JSON-RPC id it was called with",
						"inputSchema": map[string]any{"type": "object"},
					},
				},
			}
		case "tools/call":
			if opts.Mode == ModeDropCalls {
				continue
			}
			resp = callTool(*req.ID, req.Params)
		case "resources/list":
			resp.Result = map[string]any{
				"resources": []map[string]any{
					{"uri": "stub://status", "name": "status", "mimeType": "text/plain"},
				},
			}
		case "resources/read":
			resp.Result = map[string]any{
				"contents": []map[string]any{
					{"uri": "stub://status", "mimeType": "text/plain", "text": "ok"},
				},
			}
		default:
			resp.Error = &responseError{Code: -32601, Message: "method not found: " + req.Method}
		}

		bs, err := json.Marshal(resp)
		if err != nil {
			return errors.WithMessage(err, "failed to marshal response")
		}
		bs = append(bs, '\n')
		if _, err := w.Write(bs); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func callTool(id int64, params json.RawMessage) response {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	resp := response{JSONRPC: "2.0", ID: id}
	if err := json.Unmarshal(params, &call); err != nil {
		resp.Error = &responseError{Code: -32602, Message: "invalid params"}
		return resp
	}

	switch call.Name {
	case "ping":
		resp.Result = contentResult{Content: []textContent{{Type: "text", Text: "pong"}}}
	case "echo":
		msg, _ := call.Arguments["message"].(string)
		resp.Result = contentResult{Content: []textContent{{Type: "text", Text: msg}}}
	case "reqid":
		resp.Result = map[string]int64{"id": id}
	default:
		resp.Error = &responseError{Code: -32602, Message: "tool not found: " + call.Name}
	}
	return resp
}

func mustSchema(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(v)
}
