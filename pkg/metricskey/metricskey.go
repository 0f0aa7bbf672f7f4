package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	StatsConnectsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_connects_succeeded",
		Help:         "stats_mcp_connects_succeeded provides total MCP server connects succeeded",
		RequiredTags: []string{"server"},
	}

	StatsConnectsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_connects_failed",
		Help:         "stats_mcp_connects_failed provides total MCP server connects failed",
		RequiredTags: []string{"server"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_tool_calls_succeeded",
		Help:         "stats_mcp_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"server", "tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_tool_calls_failed",
		Help:         "stats_mcp_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"server", "tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_tool_calls_not_found",
		Help:         "stats_mcp_tool_calls_not_found provides total tool calls to unknown tools",
		RequiredTags: []string{"server", "tool"},
	}

	StatsHealthChecksFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_health_checks_failed",
		Help:         "stats_mcp_health_checks_failed provides total health checks failed",
		RequiredTags: []string{"server"},
	}
)

// Perf
var (
	PerfConnect = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_mcp_connect",
		Help:         "perf_mcp_connect provides duration of MCP server connect",
		RequiredTags: []string{"server"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_mcp_tool_call",
		Help:         "perf_mcp_tool_call provides duration of tool call",
		RequiredTags: []string{"server", "tool"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfConnect,
	&PerfToolCall,
	&StatsConnectsFailed,
	&StatsConnectsSucceeded,
	&StatsHealthChecksFailed,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
