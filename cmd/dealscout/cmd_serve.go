package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"dealscout/internal/api"
	"dealscout/internal/logging"
)

var serveFlags struct {
	addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scan API over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "HTTP listen address; default from config")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	addr := serveFlags.addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	logger := logging.New("api")
	server := api.NewServer(a.engine, a.registry, logger)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Or(10*time.Second))
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}()

	logger.Info("api server listening", "addr", addr, "sources", len(a.registry.Names()))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("api server stopped")
	return nil
}
