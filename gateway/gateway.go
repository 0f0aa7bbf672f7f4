// Package gateway exposes the session manager over HTTP so host
// applications can reach MCP tools without speaking the stdio protocol
// themselves. It consumes the manager strictly through its public API.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/effective-security/mcplink/client"
	"github.com/effective-security/mcplink/manager"
	"github.com/effective-security/mcplink/mcpcfg"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/rs/cors"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcplink", "gateway")

// Gateway is the HTTP façade over one Manager. The Manager is injected by
// whoever bootstraps the process; the gateway holds no global state.
type Gateway struct {
	mgr     *manager.Manager
	handler http.Handler
}

// New builds the gateway routes around the given manager.
func New(mgr *manager.Manager) *Gateway {
	g := &Gateway{mgr: mgr}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /servers", g.handleServers)
	mux.HandleFunc("GET /servers/{name}/tools", g.handleServerTools)
	mux.HandleFunc("POST /servers/{name}/tools/{tool}", g.handleCallTool)
	mux.HandleFunc("POST /servers/{name}/reconnect", g.handleReconnect)
	mux.HandleFunc("POST /servers/add", g.handleAddServer)

	g.handler = cors.Default().Handler(withRequestID(mux))
	return g
}

// Handler returns the routed HTTP handler, with CORS and request-ID
// logging applied.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		started := time.Now()
		next.ServeHTTP(w, r)
		logger.KV(xlog.DEBUG, "req", reqID, "method", r.Method, "path", r.URL.Path,
			"elapsed", time.Since(started).String())
	})
}

type toolCallRequest struct {
	Arguments map[string]any `json:"arguments"`
}

type toolCallResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"servers": g.mgr.HealthCheckAll(r.Context()),
	})
}

func (g *Gateway) handleServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.mgr.Servers())
}

func (g *Gateway) handleServerTools(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	c, ok := g.mgr.GetClient(name)
	if !ok {
		writeError(w, http.StatusNotFound, "server %q not found", name)
		return
	}
	if !c.Connected() {
		writeError(w, http.StatusServiceUnavailable, "server %q not connected", name)
		return
	}
	tools := c.Tools()
	if tools == nil {
		tools = []client.Tool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server": name,
		"tools":  tools,
	})
}

// handleCallTool reports tool failures in the response body rather than the
// status code, so callers always get the error text of the tool they named.
func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool := r.PathValue("tool")

	var req toolCallRequest
	if r.Body != nil {
		// an empty body means no arguments
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	res, err := g.mgr.CallTool(r.Context(), name, tool, req.Arguments)
	if err != nil {
		logger.KV(xlog.WARNING, "server", name, "tool", tool, "err", err.Error())
		writeJSON(w, http.StatusOK, toolCallResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toolCallResponse{Result: res.Raw})
}

func (g *Gateway) handleReconnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	c, ok := g.mgr.GetClient(name)
	if !ok {
		writeError(w, http.StatusNotFound, "server %q not found", name)
		return
	}
	if err := c.Reconnect(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to reconnect: %s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server":    name,
		"connected": true,
	})
}

func (g *Gateway) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var cfg mcpcfg.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %s", err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err.Error())
		return
	}

	c := g.mgr.AddServer(&cfg)
	if err := c.Connect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "%s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server":    cfg.Name,
		"connected": true,
		"tools":     c.Tools(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.KV(xlog.WARNING, "reason", "failed to write response", "err", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
