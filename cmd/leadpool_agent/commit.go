package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ledger1-ai/crm-official-sub000/internal/importer"
	"github.com/Ledger1-ai/crm-official-sub000/internal/observability"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Apply a saved preview to its pool",
	Long: `Reads a preview JSON produced by "preview" and applies its creates and
updates. Records whose stored values changed since the preview are reported
as stale and left alone unless --force is given.`,
	RunE: runCommit,
}

var (
	commitInput  string
	commitTeamID string
	commitForce  bool
)

func init() {
	commitCmd.Flags().StringVarP(&commitInput, "in", "i", "", "Path to the preview JSON (required)")
	commitCmd.Flags().StringVar(&commitTeamID, "team-id", "", "Team owning the pool (required)")
	commitCmd.Flags().BoolVar(&commitForce, "force", false, "Apply updates even when the stored record changed since the preview")

	for _, name := range []string{"in", "team-id"} {
		if err := commitCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}

	rootCmd.AddCommand(commitCmd)
}

func runCommit(cmd *cobra.Command, _ []string) error {
	teamID, err := parseID("team-id", commitTeamID)
	if err != nil {
		return err
	}
	preview, err := loadPreview(commitInput)
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

	result, err := importer.NewCommitter(database, logger).Commit(ctx, teamID, commitRequest(preview, commitForce))
	if err != nil {
		return err
	}
	if cfg.Verbose {
		observability.NewPrinter(cmd.ErrOrStderr()).PrintCommitResult(result)
	}
	return writeJSON(cmd.OutOrStdout(), "", result)
}

// loadPreview reads a preview JSON file.
func loadPreview(path string) (*types.Preview, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preview file %s: %w", path, err)
	}
	var preview types.Preview
	if err := json.Unmarshal(data, &preview); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preview JSON: %w", err)
	}
	return &preview, nil
}

// commitRequest turns a preview back into the commit payload. A preview of a
// new pool creates it under the previewed name.
func commitRequest(p *types.Preview, force bool) *types.CommitRequest {
	req := &types.CommitRequest{Creates: p.Creates, Updates: p.Updates, Force: force}
	if p.PoolMode == types.PoolModeExisting && p.PoolID != nil {
		id := *p.PoolID
		req.PoolID = &id
	} else {
		req.NewPool = &types.NewPool{Name: p.PoolName}
	}
	return req
}
