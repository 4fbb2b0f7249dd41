package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/AIDEN1973/SAAS-sub009/internal/config"
	"github.com/AIDEN1973/SAAS-sub009/internal/secrets"
)

var secretsTenant string

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted per-tenant secrets vault",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set [name] [value]",
	Short: "Store an encrypted secret",
	Args:  cobra.ExactArgs(2),
	RunE:  secretsSet,
}

var secretsGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Print a decrypted secret",
	Args:  cobra.ExactArgs(1),
	RunE:  secretsGet,
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  secretsDelete,
}

func init() {
	secretsCmd.PersistentFlags().StringVar(&secretsTenant, "tenant", "default", "tenant the secret belongs to")
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsGetCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
	rootCmd.AddCommand(secretsCmd)
}

func openVault() (*secrets.Vault, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	db, err := sql.Open("sqlite3", cfg.DBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	vault, err := secrets.NewVault(db, cfg.SecretsKey)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return vault, db, nil
}

func secretsSet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, db, err := openVault()
	if err != nil {
		return fmt.Errorf("initializing vault: %w", err)
	}
	defer db.Close()

	if err := vault.Set(ctx, secretsTenant, args[0], []byte(args[1])); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	fmt.Printf("✓ Secret %q stored for tenant %s\n", args[0], secretsTenant)
	return nil
}

func secretsGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, db, err := openVault()
	if err != nil {
		return fmt.Errorf("initializing vault: %w", err)
	}
	defer db.Close()

	value, err := vault.Get(ctx, secretsTenant, args[0])
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return fmt.Errorf("no secret %q for tenant %s", args[0], secretsTenant)
		}
		return fmt.Errorf("reading secret: %w", err)
	}
	fmt.Println(string(value))
	return nil
}

func secretsDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, db, err := openVault()
	if err != nil {
		return fmt.Errorf("initializing vault: %w", err)
	}
	defer db.Close()

	if err := vault.Delete(ctx, secretsTenant, args[0]); err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	fmt.Printf("✓ Secret %q deleted for tenant %s\n", args[0], secretsTenant)
	return nil
}
