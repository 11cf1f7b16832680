package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-degen-pov/internal/config"
	"go-degen-pov/internal/container"
	"go-degen-pov/internal/logger"
)

func newServeCommand() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}
	config.BindFlags(v, cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize dependency injection container
	c, err := container.NewContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer c.Close()

	g, gctx := errgroup.WithContext(ctx)

	if handler := c.Handler(); handler != nil {
		server := &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      handler,
			ReadTimeout:  cfg.HTTP.RequestTimeout,
			WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		}

		g.Go(func() error {
			logger.WithFields(logrus.Fields{
				"address": cfg.ServerAddress(),
				"timeout": cfg.HTTP.RequestTimeout.String(),
			}).Info("Starting HTTP server")

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down server...")

			// Create a deadline for shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return c.RunBot(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return err
	}
	logger.Info("Server exited")
	return nil
}
