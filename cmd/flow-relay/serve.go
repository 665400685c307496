package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omarluq/flow-relay/internal/di"
	"github.com/omarluq/flow-relay/internal/stream"
)

const (
	seedTimeout     = 2 * time.Minute
	shutdownTimeout = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the flow-relay proxy server",
	Long: `Start the proxy server. Accounts declared in the config file are added to
the pool on startup, background tasks are started when the scheduler is
enabled, and the config file is watched for changes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath := resolveConfigPath()

	container, err := di.NewContainer(configPath)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("failed to initialize services")
		return err
	}

	cfgSvc, err := di.Invoke[*di.ConfigService](container)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("failed to load config")
		return err
	}

	loggerSvc := di.MustInvoke[*di.LoggerService](container)
	log.Logger = *loggerSvc.Logger
	zerolog.DefaultContextLogger = loggerSvc.Logger

	serverSvc, err := di.Invoke[*di.ServerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to build server")
		shutdownContainer(container)
		return err
	}

	seedAccounts(cmd.Context(), container)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgSvc.StartWatching(ctx)

	schedSvc := di.MustInvoke[*di.SchedulerService](container)
	if schedSvc.Start() {
		log.Info().Msg("background tasks started")
	} else {
		log.Info().Msg("scheduler disabled, tasks run on demand only")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", serverSvc.Server.Addr()).Msg("starting flow-relay")
		errCh <- serverSvc.Server.ListenAndServe()
	}()

	sigCh := make(chan string, 1)
	go func() {
		sig, waitErr := stream.WaitForShutdown(ctx)
		if waitErr != nil {
			return
		}
		sigCh <- sig.String()
	}()

	var serveErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig).Msg("shutting down...")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("server error")
		}
	}

	cancel()
	shutdownContainer(container)
	log.Info().Msg("server stopped")

	return serveErr
}

func seedAccounts(parent context.Context, container *di.Container) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, seedTimeout)
	defer cancel()

	cfgSvc := di.MustInvoke[*di.ConfigService](container)
	if len(cfgSvc.Get().Accounts) == 0 {
		return
	}

	tokenSvc := di.MustInvoke[*di.TokenService](container)
	added, err := tokenSvc.SeedAccounts(ctx, cfgSvc.Get())
	if err != nil {
		log.Warn().Err(err).Int("added", added).Msg("some configured accounts could not be added")
		return
	}
	log.Info().Int("added", added).Msg("configured accounts seeded")
}

func shutdownContainer(container *di.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := container.ShutdownWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown error")
	}
}
