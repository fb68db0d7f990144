package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/conciliation-filer/internal/server"
	"github.com/jonathan/conciliation-filer/internal/types"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a requester",
	Long:  "Issue a bearer token signed with server.jwt.secret. Intended for development and operations.",
	RunE:  runToken,
}

var (
	tokenRequester string
	tokenRole      string
)

func init() {
	tokenCmd.Flags().StringVar(&tokenRequester, "requester", "", "Requester ID (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(types.RoleWorker), "worker, lawyer or admin")
	_ = tokenCmd.MarkFlagRequired("requester")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	role := types.Role(tokenRole)
	switch role {
	case types.RoleWorker, types.RoleLawyer, types.RoleAdmin:
	default:
		return fmt.Errorf("invalid --role %q", tokenRole)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jwtCfg := cfg.Server.JWT
	if err := jwtCfg.Normalize(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	token, err := server.NewJWTService(&jwtCfg).GenerateToken(tokenRequester, role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
