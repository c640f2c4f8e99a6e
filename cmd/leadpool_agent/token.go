package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ledger1-ai/crm-official-sub000/internal/config"
	"github.com/Ledger1-ai/crm-official-sub000/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a team",
	Long:  "Signs a JWT carrying the team_id claim with JWT_SECRET (plus JWT_ISSUER and JWT_AUDIENCE when set), for local development and scripts.",
	RunE:  runToken,
}

var (
	tokenTeamID  string
	tokenSubject string
)

func init() {
	tokenCmd.Flags().StringVar(&tokenTeamID, "team-id", "", "Team the token is issued for (required)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Optional subject claim")

	if err := tokenCmd.MarkFlagRequired("team-id"); err != nil {
		panic(fmt.Sprintf("failed to mark team-id flag as required: %v", err))
	}

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	teamID, err := parseID("team-id", tokenTeamID)
	if err != nil {
		return err
	}
	tokenConfig, err := config.LoadTokenConfig()
	if err != nil {
		return fmt.Errorf("failed to load token config: %w", err)
	}
	token, err := server.NewTeamTokens(tokenConfig).Issue(teamID, tokenSubject)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
