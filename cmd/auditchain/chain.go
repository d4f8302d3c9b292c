package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/store/postgres"
)

// errViolation makes the process exit non-zero after the report is printed.
var errViolation = errors.New("chain integrity violation")

var (
	chainTenant     string
	verifySignature bool
	verifyFrom      int64
	verifyPrevHash  string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostgreSQL schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Store.Driver != config.StorePostgres {
			// sqlite applies its schema on open; memory has none.
			fmt.Fprintf(cmd.OutOrStdout(), "nothing to migrate for %s store\n", cfg.Store.Driver)
			return nil
		}

		store, err := postgres.New(cmd.Context(), cfg.Database.DSN(), 1)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk a tenant chain and report the first integrity violation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		cp := audit.Genesis()
		if verifyFrom > 1 {
			cp = audit.Checkpoint{ExpectedSequence: verifyFrom, PreviousHash: verifyPrevHash}
		}

		report, err := a.verifier.VerifyChainFrom(cmd.Context(), chainTenant, cp)
		out := struct {
			Valid     bool               `json:"valid"`
			Report    audit.ChainReport  `json:"report"`
			Violation *audit.Violation   `json:"violation,omitempty"`
			Signature []*audit.Violation `json:"signature_violations,omitempty"`
		}{Report: report}

		if v, ok := audit.AsViolation(err); ok {
			out.Violation = v
		} else if err != nil {
			return err
		}

		if verifySignature && out.Violation == nil {
			out.Signature, err = signatureViolations(cmd.Context(), a, chainTenant)
			if err != nil {
				return err
			}
		}

		out.Valid = out.Violation == nil && len(out.Signature) == 0
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if !out.Valid {
			return errViolation
		}
		return nil
	},
}

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List sequence numbers missing from a tenant chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		gaps, err := a.verifier.DetectSequenceGaps(cmd.Context(), chainTenant)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"tenant_id": chainTenant, "missing": gaps})
	},
}

func init() {
	for _, c := range []*cobra.Command{verifyCmd, gapsCmd} {
		c.Flags().StringVar(&chainTenant, "tenant", "", "Tenant chain to inspect")
		_ = c.MarkFlagRequired("tenant")
	}
	verifyCmd.Flags().BoolVar(&verifySignature, "signatures", false, "Also verify every record signature")
	verifyCmd.Flags().Int64Var(&verifyFrom, "from", 0, "Resume at this sequence number")
	verifyCmd.Flags().StringVar(&verifyPrevHash, "previous-hash", "", "Record hash preceding --from")
}

// loadApp opens the store and verifier for read-only operator commands.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, appOptions{})
}

// signatureViolations checks every signed record of the tenant.
func signatureViolations(ctx context.Context, a *app, tenantID string) ([]*audit.Violation, error) {
	var (
		found []*audit.Violation
		next  int64 = 1
	)
	pageSize := a.cfg.Verify.PageSize
	for {
		page, err := a.repo.ListBySequence(ctx, tenantID, next, pageSize)
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			err := a.verifier.VerifySignature(ctx, rec)
			if v, ok := audit.AsViolation(err); ok {
				found = append(found, v)
			} else if err != nil {
				return nil, err
			}
		}
		if len(page) < pageSize {
			return found, nil
		}
		next = page[len(page)-1].SequenceNumber + 1
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

