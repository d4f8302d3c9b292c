package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gosuda/auditchain/internal/auth"
	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/signing"
)

var (
	tokenTenant  string
	tokenRole    string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator bearer token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.RequireJWT(); err != nil {
			return err
		}

		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.JWT.TokenTTL
		}
		tok, err := auth.IssueToken(cfg.JWT.Secret, tokenSubject, tokenTenant, tokenRole, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a fresh signing root secret for AUDITCHAIN_SIGNING_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret, err := signing.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant the token is scoped to")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleReader, "Role: admin, writer or reader")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Subject recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default AUDITCHAIN_JWT_TTL)")
	_ = tokenCmd.MarkFlagRequired("tenant")
}
