package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillmem/synapse/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	srv := server.New(rt.engine, VersionString(), rt.logger)
	addr := rt.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "synapse serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  data: %s\n", rt.cfg.Storage.DataDir)
		fmt.Fprintf(os.Stderr, "  embedder: %s\n", rt.embedder)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}
	rt.engine.Drain()
	return nil
}
