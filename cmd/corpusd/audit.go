package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check alignment between the metadata and vector stores",
	Long: `Run a one-off read-only alignment check.

Diffs the committed chunk ids in the metadata store against the ids in the
vector store and prints the report as JSON. Exits non-zero when the stores
have drifted.

Examples:
  # Check alignment
  corpusd audit

  # Against a specific config
  corpusd audit --config /etc/corpusd/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAudit()
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair alignment drift between the two stores",
	Long: `Run a one-off alignment repair.

Missing vectors are re-embedded from committed chunk content and upserted;
orphan vectors are deleted. Prints the repair result as JSON. Idempotent: a
second run on an aligned corpus repairs nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepair()
	},
}

func runAudit() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := initEngine(false)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.auditor.Check(ctx)
	if err != nil {
		return fmt.Errorf("alignment check: %w", err)
	}

	if err := printJSON(report); err != nil {
		return err
	}

	if !report.Aligned() {
		return fmt.Errorf("stores have drifted: %d missing vectors, %d orphan vectors",
			len(report.MissingVectors), len(report.OrphanVectors))
	}
	return nil
}

func runRepair() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := initEngine(false)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.auditor.Repair(ctx)
	if err != nil {
		return fmt.Errorf("alignment repair: %w", err)
	}

	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
