// Package secrets stores per-tenant collaborator credentials (messaging
// provider tokens, classifier API keys) encrypted at rest with NaCl
// secretbox in SQLite. Credentials never appear in operator config or env
// vars for production tenants.
package secrets

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrSecretNotFound is returned when no credential exists for the
	// tenant and name.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrInvalidKey is returned when the vault key is not exactly 32 bytes
	// (raw or 64 hex characters).
	ErrInvalidKey = errors.New("invalid vault key")
)

// Vault is the encrypted credential store.
type Vault struct {
	db  *sql.DB
	key [32]byte
}

// NewVault opens the vault over an existing database handle.
func NewVault(db *sql.DB, key string) (*Vault, error) {
	keyBytes, err := resolveKey(key)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS tenant_secrets (
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			sealed TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, name)
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating tenant_secrets table: %w", err)
	}

	v := &Vault{db: db}
	copy(v.key[:], keyBytes)
	return v, nil
}

func resolveKey(key string) ([]byte, error) {
	if len(key) == 64 {
		decoded, err := hex.DecodeString(key)
		if err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("%w: need 32 raw bytes or 64 hex chars, got %d bytes", ErrInvalidKey, len(key))
}

// Set seals and stores a credential for a tenant.
func (v *Vault) Set(ctx context.Context, tenantID, name string, value []byte) error {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], value, &nonce, &v.key)

	_, err := v.db.ExecContext(ctx, `
		INSERT INTO tenant_secrets (tenant_id, name, sealed, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, name) DO UPDATE SET sealed = excluded.sealed, created_at = excluded.created_at`,
		tenantID, name, base64.StdEncoding.EncodeToString(sealed), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing secret %s: %w", name, err)
	}
	return nil
}

// Get opens and returns a tenant's credential.
func (v *Vault) Get(ctx context.Context, tenantID, name string) ([]byte, error) {
	var encoded string
	err := v.db.QueryRowContext(ctx,
		`SELECT sealed FROM tenant_secrets WHERE tenant_id = ? AND name = ?`,
		tenantID, name,
	).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrSecretNotFound, tenantID, name)
	}
	if err != nil {
		return nil, fmt.Errorf("querying secret %s: %w", name, err)
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(sealed) < 24 {
		return nil, fmt.Errorf("secret %s: corrupt ciphertext", name)
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	value, ok := secretbox.Open(nil, sealed[24:], &nonce, &v.key)
	if !ok {
		return nil, fmt.Errorf("secret %s: decryption failed (wrong vault key?)", name)
	}
	return value, nil
}

// Delete removes a tenant's credential.
func (v *Vault) Delete(ctx context.Context, tenantID, name string) error {
	_, err := v.db.ExecContext(ctx,
		`DELETE FROM tenant_secrets WHERE tenant_id = ? AND name = ?`, tenantID, name)
	if err != nil {
		return fmt.Errorf("deleting secret %s: %w", name, err)
	}
	return nil
}
