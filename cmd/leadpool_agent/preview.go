package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Ledger1-ai/crm-official-sub000/internal/importer"
	"github.com/Ledger1-ai/crm-official-sub000/internal/memstore"
	"github.com/Ledger1-ai/crm-official-sub000/internal/observability"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Dry-run an import file against a pool",
	Long: `Parses a CSV or XLSX lead list and prints the preview: column mapping,
corrupt rows, and the creates and updates a commit would apply. Nothing is
written. With --new-pool no database is needed.`,
	RunE: runPreview,
}

var (
	previewFile        string
	previewTeamID      string
	previewPoolID      string
	previewNewPool     string
	previewDescription string
	previewOutput      string
)

func init() {
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "", "Path to the CSV or XLSX file (required)")
	previewCmd.Flags().StringVar(&previewTeamID, "team-id", "", "Team owning the pool (required with --pool-id)")
	previewCmd.Flags().StringVar(&previewPoolID, "pool-id", "", "Existing pool to diff against")
	previewCmd.Flags().StringVar(&previewNewPool, "new-pool", "", "Name of a new pool to preview into")
	previewCmd.Flags().StringVar(&previewDescription, "new-pool-description", "", "Description of the new pool")
	previewCmd.Flags().StringVarP(&previewOutput, "out", "o", "", "Write the preview JSON here instead of stdout")

	if err := previewCmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("failed to mark file flag as required: %v", err))
	}
	previewCmd.MarkFlagsMutuallyExclusive("pool-id", "new-pool")
	previewCmd.MarkFlagsOneRequired("pool-id", "new-pool")

	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	if previewNewPool != "" {
		target := types.PreviewTarget{NewPool: &types.NewPool{Name: previewNewPool, Description: previewDescription}}
		preview, err := previewFromFile(ctx, memstore.New(), uuid.New(), target, previewFile)
		if err != nil {
			return err
		}
		if verbose {
			observability.NewPrinter(cmd.ErrOrStderr()).PrintPreview(preview)
		}
		return writeJSON(cmd.OutOrStdout(), previewOutput, preview)
	}

	teamID, err := parseID("team-id", previewTeamID)
	if err != nil {
		return err
	}
	poolID, err := parseID("pool-id", previewPoolID)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	preview, err := previewFromFile(ctx, database, teamID, types.PreviewTarget{PoolID: &poolID}, previewFile)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		observability.NewPrinter(cmd.ErrOrStderr()).PrintPreview(preview)
	}
	return writeJSON(cmd.OutOrStdout(), previewOutput, preview)
}

// previewFromFile reads path and previews it against target.
func previewFromFile(ctx context.Context, store importer.Reader, teamID uuid.UUID, target types.PreviewTarget, path string) (*types.Preview, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file %s: %w", path, err)
	}
	preview, err := importer.NewPreviewer(store).PreviewFile(ctx, teamID, target, filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("failed to preview %s: %w", path, err)
	}
	return preview, nil
}

// parseID parses a required uuid flag.
func parseID(flag, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", flag)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s %q: %w", flag, value, err)
	}
	return id, nil
}

// writeJSON writes v as indented JSON to path, or to w when path is empty.
func writeJSON(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err = w.Write(data)
		return err
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", path, err)
	}
	return nil
}
