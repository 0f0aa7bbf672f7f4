// Package manager owns a collection of named MCP protocol sessions and
// fans connect, disconnect, and health-check operations out across them.
package manager

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcplink/client"
	"github.com/effective-security/mcplink/mcpcfg"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcplink", "manager")

// ErrUnknownServer is returned when a server name is not registered.
var ErrUnknownServer = errors.New("unknown server")

// ServerStatus is a point-in-time snapshot of one managed session.
type ServerStatus struct {
	Name      string        `json:"name"`
	Connected bool          `json:"connected"`
	Tools     []client.Tool `json:"tools"`
}

// Manager routes operations to sessions registered by server name. It is an
// explicit value owned by whatever bootstraps the host; there is no
// package-level instance. All methods are safe for concurrent use; child
// processes are independent, so fan-out operations run concurrently.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*client.Client
	opts    []client.Option
}

// New creates an empty Manager. Options are forwarded to every session it
// creates.
func New(opts ...client.Option) *Manager {
	return &Manager{
		clients: make(map[string]*client.Client),
		opts:    opts,
	}
}

// AddServer registers an unconnected session under cfg.Name, replacing any
// existing entry. Replacing does not disconnect the old session; callers
// wanting cleanup disconnect it first.
func (m *Manager) AddServer(cfg *mcpcfg.ServerConfig) *client.Client {
	c := client.New(cfg, m.opts...)
	m.mu.Lock()
	m.clients[cfg.Name] = c
	m.mu.Unlock()
	return c
}

// GetClient looks a session up by server name.
func (m *Manager) GetClient(name string) (*client.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	return c, ok
}

// Names returns the registered server names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Servers returns status snapshots for all registered sessions, sorted by
// name. Tool lists are the cached ones; no round trips happen.
func (m *Manager) Servers() []ServerStatus {
	snapshot := m.snapshot()
	statuses := make([]ServerStatus, 0, len(snapshot))
	for _, c := range snapshot {
		tools := c.Tools()
		if tools == nil {
			tools = []client.Tool{}
		}
		statuses = append(statuses, ServerStatus{
			Name:      c.Name(),
			Connected: c.Connected(),
			Tools:     tools,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// ConnectAll connects every registered session concurrently. One failure
// never aborts the others; each failure is logged and reported as false in
// the returned name → success mapping. Every attempted session ends either
// Ready or Disconnected.
func (m *Manager) ConnectAll(ctx context.Context) map[string]bool {
	snapshot := m.snapshot()

	var mu sync.Mutex
	results := make(map[string]bool, len(snapshot))

	var g errgroup.Group
	for _, c := range snapshot {
		g.Go(func() error {
			err := c.Connect(ctx)
			if err != nil {
				level := xlog.ERROR
				if c.Config().Optional {
					level = xlog.WARNING
				}
				logger.KV(level, "server", c.Name(), "reason", "connect failed", "err", err.Error())
			}
			mu.Lock()
			results[c.Name()] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// DisconnectAll disconnects every registered session concurrently and
// unconditionally. Disconnect never fails, so there is nothing to report.
func (m *Manager) DisconnectAll() {
	snapshot := m.snapshot()

	var g errgroup.Group
	for _, c := range snapshot {
		g.Go(func() error {
			c.Disconnect()
			return nil
		})
	}
	_ = g.Wait()
}

// HealthCheckAll probes every registered session concurrently and returns
// a name → healthy mapping. It always completes; individual probes swallow
// their own failures.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]bool {
	snapshot := m.snapshot()

	var mu sync.Mutex
	results := make(map[string]bool, len(snapshot))

	var g errgroup.Group
	for _, c := range snapshot {
		g.Go(func() error {
			healthy := c.HealthCheck(ctx)
			mu.Lock()
			results[c.Name()] = healthy
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// CallTool routes a tool call to the named session.
func (m *Manager) CallTool(ctx context.Context, serverName, tool string, args map[string]any) (*client.ToolResult, error) {
	c, ok := m.GetClient(serverName)
	if !ok {
		return nil, errors.Mark(errors.Errorf("server %q not found", serverName), ErrUnknownServer)
	}
	return c.CallTool(ctx, tool, args)
}

func (m *Manager) snapshot() []*client.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clients := make([]*client.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	return clients
}
