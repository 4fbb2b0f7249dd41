package cmd

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/AIDEN1973/SAAS-sub009/internal/config"
	"github.com/AIDEN1973/SAAS-sub009/internal/handlers"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the closed-world consistency sweep over intents, handlers, catalog, and policy",
	Long: `check verifies that the deployed configuration cannot drift apart:

- every intent declares a valid level and execution class
- every mutating intent maps to a catalog action
- every executable intent has a handler, and no handler is orphaned
- every catalog action has at least one tenant policy entry

A non-zero exit means the installation would misroute or silently drop
work. Run it after deployments and policy changes.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "check")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var hasPolicyEntry func(actionKey string) bool
	db, err := sql.Open("sqlite3", cfg.DBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err == nil {
		defer db.Close()
		policyStore, perr := policy.NewStore(db)
		if perr == nil {
			hasPolicyEntry = func(actionKey string) bool {
				ok, err := policyStore.HasEntryForAction(ctx, actionKey)
				return err == nil && ok
			}
		}
	}
	if hasPolicyEntry == nil {
		fmt.Println("⚠ policy store unavailable, skipping catalog↔policy check")
	}

	registry := handlers.BuildRegistry()
	problems := verifyRegistry(registry, hasPolicyEntry)
	if len(problems) == 0 {
		fmt.Printf("✓ %d intents, %d handlers, all consistency checks passed\n",
			len(intent.Keys()), len(registry.Keys()))
		return nil
	}

	for _, p := range problems {
		fmt.Printf("✗ %v\n", p)
	}
	return fmt.Errorf("%d consistency problems found", len(problems))
}
