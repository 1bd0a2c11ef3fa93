package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vincentbai/regrets-agent/internal/agent"
	"github.com/vincentbai/regrets-agent/internal/batching"
	"github.com/vincentbai/regrets-agent/internal/config"
	"github.com/vincentbai/regrets-agent/internal/database"
	"github.com/vincentbai/regrets-agent/internal/logger"
	"github.com/vincentbai/regrets-agent/internal/recorder"
	"github.com/vincentbai/regrets-agent/internal/server"
	"github.com/vincentbai/regrets-agent/internal/sink"
	"github.com/vincentbai/regrets-agent/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent",
	Long: `Start the local HTTP endpoint and the navigation batch processor.

Examples:
  regrets-agent serve
  regrets-agent serve --config /etc/regrets-agent.yaml
  REGRETS_ADDRESS=127.0.0.1:9000 regrets-agent serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// setup loads config, builds the root logger and opens the database.
func setup() (*config.Config, zerolog.Logger, *database.Database, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("failed to build logger: %w", err)
	}

	databasePath, err := cfg.DatabasePath()
	if err != nil {
		return nil, log, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(databasePath), 0o755); err != nil {
		return nil, log, nil, fmt.Errorf("failed to create application directory: %w", err)
	}
	db, err := database.NewDatabase(databasePath)
	if err != nil {
		return nil, log, nil, err
	}
	return cfg, log, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Str("address", cfg.Server.Address).Msg("Starting regrets agent")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var records telemetry.Sink = db
	if cfg.NATS.URL != "" {
		js, err := sink.ConnectJetStream(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject,
			logger.WithComponent(log, "jetstream"))
		if err != nil {
			return err
		}
		defer js.Close()
		records = sink.NewFanout(db, js)
		log.Info().Str("url", cfg.NATS.URL).Str("subject", cfg.NATS.Subject).Msg("Publishing telemetry to JetStream")
	}

	sender := telemetry.NewSender(cfg.SenderConfig(), records, logger.WithComponent(log, "sender"))
	processor := batching.NewProcessor(cfg.BatchingConfig(), logger.WithComponent(log, "batching"))
	controller := agent.New(cfg.AgentConfig(), processor, sender, logger.WithComponent(log, "agent"))
	rec := recorder.New(controller, nil, logger.WithComponent(log, "recorder"))
	srv := server.NewServer(rec, controller, db, cfg.Server.Address, logger.WithComponent(log, "server"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return controller.Run(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
