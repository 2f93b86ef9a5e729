package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/fso/internal/api"
	"github.com/joescharf/fso/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing the forum REST API under /api/v1,
plus /healthz and Prometheus metrics at /metrics.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

// newAPIServer wires the API server to the store and, when configured, the
// LLM tag suggester.
func newAPIServer(s store.Store) *api.Server {
	var suggester api.TagSuggester
	if c := newLLMClient(); c != nil {
		suggester = c
	}
	return api.NewServer(s, suggester)
}

func serveRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	if dryRun {
		ui.DryRunMsg("Would serve API at http://localhost%s", addr)
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newAPIServer(s).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	ui.Success("Serving API at http://localhost%s/api/v1", addr)
	slog.Info("server started", "addr", addr, "db", viper.GetString("db_path"))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	ui.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
