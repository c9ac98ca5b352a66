package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wattmint/backend/services/sync-service/internal/credentials"
	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
)

// CredentialRepository stores vendor tokens sealed at rest.
type CredentialRepository struct {
	pool   PgxPool
	sealer credentials.Sealer
}

// NewCredentialRepository returns repository. A nil sealer stores tokens as given.
func NewCredentialRepository(pool PgxPool, sealer credentials.Sealer) *CredentialRepository {
	if sealer == nil {
		sealer = credentials.PlainSealer{}
	}
	return &CredentialRepository{pool: pool, sealer: sealer}
}

// GetCredential loads the credential for (userID, provider).
func (r *CredentialRepository) GetCredential(ctx context.Context, userID, provider string) (models.Credential, error) {
	const query = `
		SELECT user_id, provider, access_token, refresh_token, expires_at, updated_at
		FROM provider_credentials
		WHERE user_id = $1 AND provider = $2
	`
	var c models.Credential
	err := r.pool.QueryRow(ctx, query, userID, provider).Scan(
		&c.UserID,
		&c.Provider,
		&c.AccessToken,
		&c.RefreshToken,
		&c.ExpiresAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, errs.ErrNotFound
	}
	if err != nil {
		return models.Credential{}, err
	}

	if c.AccessToken, err = r.sealer.Open(userID, provider, c.AccessToken); err != nil {
		return models.Credential{}, fmt.Errorf("open access token: %w", err)
	}
	if c.RefreshToken, err = r.sealer.Open(userID, provider, c.RefreshToken); err != nil {
		return models.Credential{}, fmt.Errorf("open refresh token: %w", err)
	}
	return c, nil
}

// SaveCredential upserts by (user_id, provider); the last write wins.
func (r *CredentialRepository) SaveCredential(ctx context.Context, c models.Credential) error {
	access, err := r.sealer.Seal(c.UserID, c.Provider, c.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := r.sealer.Seal(c.UserID, c.Provider, c.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	const query = `
		INSERT INTO provider_credentials (user_id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query, c.UserID, c.Provider, access, refresh, c.ExpiresAt, c.UpdatedAt)
	return err
}
