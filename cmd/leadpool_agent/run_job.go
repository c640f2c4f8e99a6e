package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ledger1-ai/crm-official-sub000/internal/observability"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

var runJobCmd = &cobra.Command{
	Use:   "run-job",
	Short: "Run a queued autogen job in the foreground",
	Long: `Moves a QUEUED autogen job to RUNNING, calls the configured providers,
commits the results into the job's pool and prints the finished job. A job
that is already running or finished is printed unchanged.`,
	RunE: runRunJob,
}

var (
	runJobTeamID string
	runJobID     string
)

func init() {
	runJobCmd.Flags().StringVar(&runJobTeamID, "team-id", "", "Team owning the job (required)")
	runJobCmd.Flags().StringVar(&runJobID, "job-id", "", "Job to run (required)")

	for _, name := range []string{"team-id", "job-id"} {
		if err := runJobCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}

	rootCmd.AddCommand(runJobCmd)
}

func runRunJob(cmd *cobra.Command, _ []string) error {
	teamID, err := parseID("team-id", runJobTeamID)
	if err != nil {
		return err
	}
	jobID, err := parseID("job-id", runJobID)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

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

	job, err := newOrchestrator(database, p, cfg, logger).Execute(ctx, teamID, jobID)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		observability.NewPrinter(cmd.ErrOrStderr()).PrintJob(job)
	}
	if err := writeJSON(cmd.OutOrStdout(), "", job); err != nil {
		return err
	}
	if job.Status == types.JobFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}
