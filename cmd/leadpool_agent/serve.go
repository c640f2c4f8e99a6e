package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ledger1-ai/crm-official-sub000/internal/config"
	"github.com/Ledger1-ai/crm-official-sub000/internal/db"
	"github.com/Ledger1-ai/crm-official-sub000/internal/server"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes pools, manual imports and autogen jobs.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tokenConfig, err := config.LoadTokenConfig()
	if err != nil {
		return fmt.Errorf("failed to load token config: %w", err)
	}

	if serveMigrate {
		if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	ctx := context.Background()
	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	p, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	orch := newOrchestrator(database, p, cfg, logger)
	if _, err := orch.RecoverStale(ctx); err != nil {
		return err
	}
	srv := server.New(database, orch, server.NewTeamTokens(tokenConfig).Validator(), server.Options{
		Port:           cfg.Port,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger.Named("http"),
	})
	return srv.Start()
}
