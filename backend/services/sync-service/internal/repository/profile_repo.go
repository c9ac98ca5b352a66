package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
)

// ProfileRepository reads the account fields the engine depends on.
type ProfileRepository struct {
	pool PgxPool
}

// NewProfileRepository returns repository.
func NewProfileRepository(pool PgxPool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// GetProfile returns errs.ErrNotFound for unknown users.
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	const query = `
		SELECT user_id, COALESCE(home_address, ''), role
		FROM profiles
		WHERE user_id = $1
	`
	var p models.Profile
	err := r.pool.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.HomeAddress, &p.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Profile{}, errs.ErrNotFound
	}
	return p, err
}
