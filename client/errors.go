package client

import "github.com/cockroachdb/errors"

// Error kinds of the protocol session, attached with errors.Mark and checked
// with errors.Is. Caller-misuse kinds are raised locally, without a round
// trip.
var (
	// ErrConnection covers process spawn failures, unexpected exits,
	// transport timeouts, and broken pipes.
	ErrConnection = errors.New("connection failed")
	// ErrProtocol covers malformed JSON, server-reported error objects, and
	// unexpected response shapes.
	ErrProtocol = errors.New("protocol error")
	// ErrUnknownTool is returned when a tool name is absent from the
	// discovered tool list.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrNotInitialized is returned for tool or resource operations on a
	// session that is not Ready.
	ErrNotInitialized = errors.New("client not initialized")
)
