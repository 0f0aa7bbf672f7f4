package client

import "encoding/json"

// ToolResult is the result payload of a tools/call. Raw always carries the
// verbatim server result; Text is additionally set when the server wrapped
// its output in the content/text envelope. Normalization happens once, here
// at the boundary, so callers never inspect result shapes themselves.
type ToolResult struct {
	Raw  json.RawMessage
	Text string

	text bool
}

// IsText reports whether the result was text-wrapped.
func (r *ToolResult) IsText() bool {
	return r.text
}

type contentEnvelope struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NormalizeToolResult classifies a raw tools/call result as either
// text-wrapped or plain.
func NormalizeToolResult(raw json.RawMessage) *ToolResult {
	var env contentEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Content) > 0 && env.Content[0].Type == "text" {
		return &ToolResult{Raw: raw, Text: env.Content[0].Text, text: true}
	}
	return &ToolResult{Raw: raw}
}
