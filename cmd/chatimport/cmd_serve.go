package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"chatimport/internal/logging"
	"chatimport/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveListen    string
	servePrelaunch bool
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the import API over HTTP",
	Long: `Starts the HTTP API:

  POST /api/import/chat      {"shareUrl": "..."} imports a conversation
  GET  /api/import/status    supported hosts
  GET  /api/conversations    archived imports (archive enabled)
  DELETE /api/conversations/:id
  GET  /healthz              liveness and browser state
  GET  /metrics              Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (overrides server.listen)")
	serveCmd.Flags().BoolVar(&servePrelaunch, "prelaunch", false, "Start the browser before accepting requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.close(shutdownCtx)
	}()

	if servePrelaunch {
		if err := a.browser.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		logging.Named(logger, logging.CategoryBrowser).Info("browser ready", zap.String("control_url", a.browser.ControlURL()))
	}

	scfg := server.DefaultConfig()
	scfg.Listen = cfg.Server.Listen
	if serveListen != "" {
		scfg.Listen = serveListen
	}
	scfg.Debug = verbose

	var arch server.Archive
	if a.archive != nil {
		arch = a.archive
	}
	srv := server.New(scfg, a.importer, arch, a.registry, logging.Named(logger, logging.CategoryServer)).
		WithBrowser(a.browser)
	return srv.Run(ctx)
}
