// Command mcplink loads the server config, connects to every configured MCP
// server, and serves the HTTP gateway until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/effective-security/mcplink/gateway"
	"github.com/effective-security/mcplink/manager"
	"github.com/effective-security/mcplink/mcpcfg"
	"github.com/effective-security/xlog"
	"github.com/spf13/pflag"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcplink", "mcplink")

func main() {
	cfgFile := pflag.String("cfg", "", "fully qualified path to the servers configuration file")
	addr := pflag.String("addr", ":8095", "gateway listen address")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if *debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.INFO)
	}

	cfg, err := mcpcfg.Load(*cfgFile)
	if err != nil {
		logger.KV(xlog.ERROR, "reason", "failed to load config", "cfg", *cfgFile, "err", err.Error())
		os.Exit(1)
	}

	mgr := manager.New()
	for _, sc := range cfg.Servers {
		mgr.AddServer(sc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	results := mgr.ConnectAll(ctx)
	cancel()
	for name, ok := range results {
		logger.KV(xlog.INFO, "server", name, "connected", ok)
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: gateway.New(mgr).Handler(),
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.KV(xlog.INFO, "status", "listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.KV(xlog.ERROR, "reason", "server failed", "err", err.Error())
			os.Exit(1)
		}
	}()

	<-stopSignal
	logger.KV(xlog.INFO, "status", "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.KV(xlog.WARNING, "reason", "shutdown failed", "err", err.Error())
	}
	mgr.DisconnectAll()
}
