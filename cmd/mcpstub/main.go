// Command mcpstub is a newline-delimited JSON-RPC MCP server over stdio,
// used as a local integration target for the gateway and the client.
package main

import (
	"os"

	"github.com/effective-security/mcplink/internal/stubserver"
)

func main() {
	err := stubserver.Serve(os.Stdin, os.Stdout, stubserver.Options{
		Mode: os.Getenv("MCPLINK_STUB_MODE"),
	})
	if err != nil {
		os.Exit(1)
	}
}
