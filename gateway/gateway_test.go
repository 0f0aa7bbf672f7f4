package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/effective-security/mcplink/client"
	"github.com/effective-security/mcplink/gateway"
	"github.com/effective-security/mcplink/internal/stubserver"
	"github.com/effective-security/mcplink/manager"
	"github.com/effective-security/mcplink/mcpcfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if os.Getenv("MCPLINK_STUB") == "1" {
		if err := stubserver.Serve(os.Stdin, os.Stdout, stubserver.Options{
			Mode: os.Getenv("MCPLINK_STUB_MODE"),
		}); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func stubConfig(name string) *mcpcfg.ServerConfig {
	return &mcpcfg.ServerConfig{
		Name:           name,
		Command:        os.Args[0],
		Env:            map[string]string{"MCPLINK_STUB": "1"},
		TimeoutSeconds: 5,
	}
}

// setupGateway builds a gateway over one connected stub server and returns
// an httptest server for it.
func setupGateway(t *testing.T) (*httptest.Server, *manager.Manager) {
	t.Helper()
	mgr := manager.New(client.WithSettleInterval(100 * time.Millisecond))
	c := mgr.AddServer(stubConfig("stub"))
	require.NoError(t, c.Connect(t.Context()))
	t.Cleanup(mgr.DisconnectAll)

	srv := httptest.NewServer(gateway.New(mgr).Handler())
	t.Cleanup(srv.Close)
	return srv, mgr
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupGateway(t)

	var body struct {
		Status  string          `json:"status"`
		Servers map[string]bool `json:"servers"`
	}
	status := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.Servers["stub"])
}

func TestServersEndpoint(t *testing.T) {
	srv, mgr := setupGateway(t)
	mgr.AddServer(stubConfig("idle"))

	var statuses []manager.ServerStatus
	status := getJSON(t, srv.URL+"/servers", &statuses)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, statuses, 2)
	assert.Equal(t, "idle", statuses[0].Name)
	assert.False(t, statuses[0].Connected)
	assert.Equal(t, "stub", statuses[1].Name)
	assert.True(t, statuses[1].Connected)
	assert.Len(t, statuses[1].Tools, 3)
}

func TestServerToolsEndpoint(t *testing.T) {
	srv, mgr := setupGateway(t)

	var body struct {
		Server string        `json:"server"`
		Tools  []client.Tool `json:"tools"`
	}
	status := getJSON(t, srv.URL+"/servers/stub/tools", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stub", body.Server)
	assert.Len(t, body.Tools, 3)

	var errBody map[string]string
	status = getJSON(t, srv.URL+"/servers/missing/tools", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, errBody["error"], "not found")

	mgr.AddServer(stubConfig("idle"))
	status = getJSON(t, srv.URL+"/servers/idle/tools", &errBody)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, errBody["error"], "not connected")
}

func TestCallToolEndpoint(t *testing.T) {
	srv, _ := setupGateway(t)

	var body struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}

	status := postJSON(t, srv.URL+"/servers/stub/tools/echo",
		`{"arguments":{"message":"hi"}}`, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body.Error)
	assert.Contains(t, string(body.Result), "hi")

	// Empty body means no arguments.
	status = postJSON(t, srv.URL+"/servers/stub/tools/ping", "", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body.Error)
	assert.Contains(t, string(body.Result), "pong")

	// Tool failures come back in the body with a 200, not a status code.
	status = postJSON(t, srv.URL+"/servers/stub/tools/bogus", "", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body.Error, "not found")

	status = postJSON(t, srv.URL+"/servers/missing/tools/ping", "", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body.Error, "not found")
}

func TestReconnectEndpoint(t *testing.T) {
	srv, mgr := setupGateway(t)

	c, _ := mgr.GetClient("stub")
	pid := c.Pid()

	var body map[string]any
	status := postJSON(t, srv.URL+"/servers/stub/reconnect", "", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["connected"])
	assert.NotEqual(t, pid, c.Pid())

	var errBody map[string]string
	status = postJSON(t, srv.URL+"/servers/missing/reconnect", "", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAddServerEndpoint(t *testing.T) {
	srv, mgr := setupGateway(t)

	cfg := stubConfig("added")
	bs, err := json.Marshal(cfg)
	require.NoError(t, err)

	var body struct {
		Server    string        `json:"server"`
		Connected bool          `json:"connected"`
		Tools     []client.Tool `json:"tools"`
	}
	status := postJSON(t, srv.URL+"/servers/add", string(bs), &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "added", body.Server)
	assert.True(t, body.Connected)
	assert.Len(t, body.Tools, 3)

	c, ok := mgr.GetClient("added")
	require.True(t, ok)
	assert.True(t, c.Connected())

	var errBody map[string]string
	status = postJSON(t, srv.URL+"/servers/add", `{not json`, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)

	status = postJSON(t, srv.URL+"/servers/add", `{"name":"nocmd"}`, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)

	status = postJSON(t, srv.URL+"/servers/add",
		`{"name":"bad","command":"/nonexistent/command"}`, &errBody)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := setupGateway(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/servers", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
