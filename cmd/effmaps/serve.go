package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btag-effmaps/internal/api"
	"github.com/banshee-data/btag-effmaps/internal/db"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the output directory and a SQL browser over the run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			listen, _ := cmd.Flags().GetString("listen")
			path := cfg.GetHistoryDB()
			if path == "" {
				return fmt.Errorf("no history database: set history_db or --history-db")
			}
			history, err := db.NewDB(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer history.Close()

			mux, err := newServeMux(history, cfg.GetOutputPath())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, listen, mux)
		},
	}
	cmd.Flags().String("listen", "localhost:8090", "Address to listen on")
	cmd.Flags().String("history-db", "", "SQLite run history database")
	cmd.Flags().StringP("output", "o", "", "Output directory to serve")
	return cmd
}

// newServeMux mounts the admin routes under /debug/, the run history API
// under /api/ and the output directory at the root.
func newServeMux(history *db.DB, outputDir string) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if err := history.AttachAdminRoutes(mux); err != nil {
		return nil, fmt.Errorf("failed to attach admin routes: %w", err)
	}
	mux.Handle("/api/", http.StripPrefix("/api", api.NewServer(history).ServeMux()))
	mux.Handle("/", http.FileServer(http.Dir(outputDir)))
	return mux, nil
}

func serve(ctx context.Context, addr string, mux *http.ServeMux) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}
