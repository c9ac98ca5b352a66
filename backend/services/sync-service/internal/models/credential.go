package models

import "time"

// Credential holds vendor OAuth tokens for one (user, provider) pair.
type Credential struct {
	UserID       string    `db:"user_id" json:"user_id"`
	Provider     string    `db:"provider" json:"provider"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires before now+window.
func (c Credential) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !c.ExpiresAt.After(now.Add(window))
}
