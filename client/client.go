// Package client implements the MCP protocol session: it owns one server
// child process, performs the initialize handshake and capability discovery,
// and exposes tool and resource operations over newline-delimited JSON-RPC.
package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcplink/mcpcfg"
	"github.com/effective-security/mcplink/pkg/metricskey"
	"github.com/effective-security/mcplink/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcplink", "client")

const (
	clientName    = "mcplink"
	clientVersion = "1.0.0"

	// DefaultSettleInterval is how long Connect lets the spawned process
	// settle before trusting that it did not exit right away.
	DefaultSettleInterval = 500 * time.Millisecond
)

// State is the lifecycle phase of a session. Tool and resource operations
// are permitted only in StateReady.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateInitializing
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Dialer opens a transport for a server config. The default spawns the
// configured command over stdio; tests substitute their own.
type Dialer func(cfg *mcpcfg.ServerConfig) (transport.Transport, error)

// Option configures a Client.
type Option func(*Client)

// WithSettleInterval overrides the post-spawn settle wait.
func WithSettleInterval(d time.Duration) Option {
	return func(c *Client) {
		c.settle = d
	}
}

// WithDialer overrides how the session opens its transport.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dial = d
	}
}

// Client is one MCP protocol session. All methods are safe for concurrent
// use; the session never overlaps two in-flight requests with itself, so
// concurrent calls on one session queue rather than interleave.
type Client struct {
	cfg    *mcpcfg.ServerConfig
	dial   Dialer
	settle time.Duration

	// mu serializes the whole request/response round trip, which keeps the
	// read-after-write discipline of the wire protocol observable: the next
	// line after a request is always that request's response.
	mu sync.Mutex

	tr    transport.Transport
	state State
	// nextID increases monotonically for the lifetime of the Client and is
	// never reset, even across reconnects.
	nextID       int64
	capabilities map[string]json.RawMessage
	tools        []Tool
	resources    []Resource
}

// New creates an unconnected session for the given config.
func New(cfg *mcpcfg.ServerConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		settle: DefaultSettleInterval,
		nextID: 1,
		dial: func(cfg *mcpcfg.ServerConfig) (transport.Transport, error) {
			return transport.StartStdio(cfg)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the server name this session is configured for.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Config returns the immutable server config.
func (c *Client) Config() *mcpcfg.ServerConfig {
	return c.cfg
}

// State returns the current lifecycle phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the session is Ready.
func (c *Client) Connected() bool {
	return c.State() == StateReady
}

// Pid returns the child process ID, or 0 when no process is running.
func (c *Client) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.tr.(*transport.Stdio); ok {
		return s.Pid()
	}
	return 0
}

// Capabilities returns the server capabilities negotiated at handshake.
func (c *Client) Capabilities() map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	caps := make(map[string]json.RawMessage, len(c.capabilities))
	for k, v := range c.capabilities {
		caps[k] = v
	}
	return caps
}

// Tools returns the last-discovered tool descriptors. The list is refreshed
// only by Connect and ListTools; callers needing freshness re-discover.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// Resources returns the last-discovered resource descriptors.
func (c *Client) Resources() []Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Resource(nil), c.resources...)
}

// Connect spawns the server process, performs the initialize handshake, and
// discovers tools and resources. Any spawn or handshake failure tears the
// process down and surfaces as ErrConnection; the session is then
// Disconnected, never stuck in between.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReady {
		return nil
	}
	return c.connectLocked(ctx)
}

// Reconnect tears the current process down and establishes a fresh session.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	return c.connectLocked(ctx)
}

// Disconnect requests graceful termination of the server process, forcing
// it after a grace period. It is idempotent and never fails: best-effort
// cleanup errors are logged by the transport.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) connectLocked(ctx context.Context) error {
	started := time.Now()
	if err := c.establishLocked(ctx); err != nil {
		metricskey.StatsConnectsFailed.IncrCounter(1, c.cfg.Name)
		return err
	}
	metricskey.StatsConnectsSucceeded.IncrCounter(1, c.cfg.Name)
	metricskey.PerfConnect.MeasureSince(started, c.cfg.Name)
	logger.KV(xlog.INFO, "server", c.cfg.Name, "status", "connected",
		"tools", len(c.tools), "resources", len(c.resources))
	return nil
}

func (c *Client) establishLocked(ctx context.Context) error {
	c.state = StateConnecting
	tr, err := c.dial(c.cfg)
	if err != nil {
		c.state = StateDisconnected
		return errors.Mark(errors.WithMessagef(err, "server %q failed to start", c.cfg.Name), ErrConnection)
	}
	c.tr = tr

	// Let the process settle; a bad executable path or missing runtime
	// dependency shows up as an immediate exit.
	select {
	case <-ctx.Done():
		c.disconnectLocked()
		return errors.Mark(ctx.Err(), ErrConnection)
	case <-time.After(c.settle):
	}
	if !tr.Alive() {
		c.disconnectLocked()
		return errors.Mark(errors.Errorf("server %q exited during startup", c.cfg.Name), ErrConnection)
	}

	c.state = StateInitializing
	if err := c.initializeLocked(ctx); err != nil {
		c.disconnectLocked()
		return errors.Mark(errors.WithMessagef(err, "server %q handshake failed", c.cfg.Name), ErrConnection)
	}
	c.discoverLocked(ctx)
	c.state = StateReady
	return nil
}

func (c *Client) disconnectLocked() {
	if c.tr != nil {
		_ = c.tr.Close()
		c.tr = nil
	}
	c.state = StateDisconnected
	c.capabilities = nil
	c.tools = nil
	c.resources = nil
	logger.KV(xlog.DEBUG, "server", c.cfg.Name, "status", "disconnected")
}

// initializeLocked performs the handshake: initialize request, then the
// initialized notification. The session counts as initialized only after
// the notification is sent.
func (c *Client) initializeLocked(ctx context.Context) error {
	raw, err := c.roundTripLocked(ctx, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"listChanged": true},
		},
		ClientInfo: clientInfo{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		return err
	}
	var res initializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return errors.Mark(errors.WithMessage(err, "invalid initialize result"), ErrProtocol)
	}
	c.capabilities = res.Capabilities

	return c.notifyLocked("notifications/initialized", struct{}{})
}

// discoverLocked loads tools and resources for the capabilities the server
// advertised. Discovery failures are non-fatal: some servers support neither
// and the connection is still useful.
func (c *Client) discoverLocked(ctx context.Context) {
	if _, ok := c.capabilities["tools"]; ok {
		tools, err := c.listToolsLocked(ctx)
		if err != nil {
			logger.KV(xlog.WARNING, "server", c.cfg.Name, "reason", "tools discovery failed", "err", err.Error())
		} else {
			c.tools = tools
		}
	}
	if _, ok := c.capabilities["resources"]; ok {
		resources, err := c.listResourcesLocked(ctx)
		if err != nil {
			logger.KV(xlog.WARNING, "server", c.cfg.Name, "reason", "resources discovery failed", "err", err.Error())
		} else {
			c.resources = resources
		}
	}
}

// CallTool invokes a tool by name. The name is validated against the
// discovered tool list before anything touches the wire, so a typo fails
// fast with ErrUnknownTool. The result payload is returned verbatim,
// normalized once into a ToolResult.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, errors.Mark(errors.Errorf("server %q is not connected", c.cfg.Name), ErrNotInitialized)
	}
	if !c.hasToolLocked(name) {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, c.cfg.Name, name)
		return nil, errors.Mark(
			errors.Errorf("tool %q not found on server %q, available: %s",
				name, c.cfg.Name, strings.Join(c.toolNamesLocked(), ", ")),
			ErrUnknownTool)
	}
	if args == nil {
		args = map[string]any{}
	}

	started := time.Now()
	raw, err := c.roundTripLocked(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, c.cfg.Name, name)
		return nil, err
	}
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, c.cfg.Name, name)
	metricskey.PerfToolCall.MeasureSince(started, c.cfg.Name, name)
	return NormalizeToolResult(raw), nil
}

// ReadResource reads a resource by URI and returns the raw result.
func (c *Client) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, errors.Mark(errors.Errorf("server %q is not connected", c.cfg.Name), ErrNotInitialized)
	}
	return c.roundTripLocked(ctx, "resources/read", readResourceParams{URI: uri})
}

// ListTools re-issues tool discovery, refreshes the cached list, and
// returns the freshly fetched descriptors.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, errors.Mark(errors.Errorf("server %q is not connected", c.cfg.Name), ErrNotInitialized)
	}
	tools, err := c.listToolsLocked(ctx)
	if err != nil {
		return nil, err
	}
	c.tools = tools
	return append([]Tool(nil), tools...), nil
}

// ListResources re-issues resource discovery, refreshes the cached list,
// and returns the freshly fetched descriptors.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, errors.Mark(errors.Errorf("server %q is not connected", c.cfg.Name), ErrNotInitialized)
	}
	resources, err := c.listResourcesLocked(ctx)
	if err != nil {
		return nil, err
	}
	c.resources = resources
	return append([]Resource(nil), resources...), nil
}

// GetToolSchema looks up the input schema of a tool in the last-discovered
// list. No round trip happens; ok is false when the tool is absent.
func (c *Client) GetToolSchema(name string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tools {
		if t.Name == name {
			return t.InputSchema, true
		}
	}
	return nil, false
}

// HealthCheck probes liveness with a tools/list round trip. It never fails:
// every internal error, including a dead process, comes back as false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.tr == nil || !c.tr.Alive() {
		return false
	}
	if _, err := c.listToolsLocked(ctx); err != nil {
		metricskey.StatsHealthChecksFailed.IncrCounter(1, c.cfg.Name)
		logger.KV(xlog.DEBUG, "server", c.cfg.Name, "health", "failed", "err", err.Error())
		return false
	}
	return true
}

func (c *Client) hasToolLocked(name string) bool {
	for _, t := range c.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (c *Client) toolNamesLocked() []string {
	names := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		names = append(names, t.Name)
	}
	return names
}

func (c *Client) listToolsLocked(ctx context.Context) ([]Tool, error) {
	raw, err := c.roundTripLocked(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var res listToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "invalid tools/list result"), ErrProtocol)
	}
	return res.Tools, nil
}

func (c *Client) listResourcesLocked(ctx context.Context) ([]Resource, error) {
	raw, err := c.roundTripLocked(ctx, "resources/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var res listResourcesResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "invalid resources/list result"), ErrProtocol)
	}
	return res.Resources, nil
}

func (c *Client) notifyLocked(method string, params any) error {
	err := c.tr.WriteMessage(transport.Notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return errors.Mark(err, ErrConnection)
	}
	return nil
}

// roundTripLocked writes one request and reads the next line as its
// response. Request IDs increase strictly and are never reused; a response
// with a different ID is a protocol violation.
func (c *Client) roundTripLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID
	c.nextID++

	req := transport.Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	logger.KV(xlog.DEBUG, "server", c.cfg.Name, "method", method, "id", id)
	if err := c.tr.WriteMessage(req); err != nil {
		return nil, errors.Mark(err, ErrConnection)
	}

	line, err := c.tr.ReadLine(ctx, c.cfg.Timeout())
	if err != nil {
		return nil, errors.Mark(err, ErrConnection)
	}

	var resp transport.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "invalid JSON response to %s", method), ErrProtocol)
	}
	if resp.Error != nil {
		return nil, errors.Mark(errors.WithMessagef(resp.Error, "%s failed", method), ErrProtocol)
	}
	if resp.ID != id {
		return nil, errors.Mark(errors.Errorf("response id %d does not match request id %d", resp.ID, id), ErrProtocol)
	}
	return resp.Result, nil
}
