package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/evosolve/internal/server"
	"github.com/cwbudde/evosolve/internal/store"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveDataDir string
	serveBackend string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts an HTTP server that runs optimization jobs in the background.
Jobs are submitted and inspected through the REST API under /api/v1, progress
is streamed with server-sent events and Prometheus metrics are served on
/metrics. On SIGINT or SIGTERM running jobs are cancelled and checkpointed
before the server exits.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Directory for checkpoints and traces (empty = none)")
	serveCmd.Flags().StringVar(&serveBackend, "store", store.BackendFS, "Checkpoint store backend: fs, sqlite")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var checkpointStore store.Store
	if serveDataDir != "" {
		st, err := store.Open(serveBackend, serveDataDir)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		if c, ok := st.(io.Closer); ok {
			defer c.Close()
		}
		checkpointStore = st
		slog.Info("Checkpoint store ready", "backend", serveBackend, "data_dir", serveDataDir)
	}

	srv := server.NewServer(serveAddr, checkpointStore)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigc:
		slog.Info("Received signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
