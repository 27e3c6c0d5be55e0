package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealplanner"
	"mealplanner/api"
	"mealplanner/internal/app"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Serves POST /plan-meals (and /api/plan-meals), GET /healthz and GET /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := mealplanner.LoadConfig()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}

		tel, err := mealplanner.InitOtel(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}

		a, err := app.New(ctx, cfg, app.WithTelemetry(tel))
		if err != nil {
			return errors.Join(err, tel.Shutdown(context.Background()))
		}

		srv := &http.Server{
			Addr: cfg.Server.Addr(),
			Handler: api.NewHandler(a.Pipeline, api.Options{
				Timeout:        cfg.Server.RequestTimeout,
				Pantry:         a.Pantry,
				Slack:          a.Slack,
				SlackChannel:   cfg.Notify.SlackChannel,
				TracerProvider: tel.TracerProvider,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			slog.Info("SERVER: Listening", "addr", srv.Addr, "request_timeout", cfg.Server.RequestTimeout)
			serverErrors <- srv.ListenAndServe()
		}()

		var runErr error
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				runErr = fmt.Errorf("server error: %w", err)
			}
		case <-ctx.Done():
			slog.Info("SERVER: Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("SERVER: Graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
				runErr = srv.Close()
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(runErr, a.Close(), tel.Shutdown(shutdownCtx))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides API_PORT)")
}
