// Package credentials hands out vendor access tokens, refreshing them shortly before expiry.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
)

// DefaultRefreshWindow is how close to expiry a token is refreshed proactively.
const DefaultRefreshWindow = 5 * time.Minute

// fallbackLifetime applies when a vendor omits expires_in.
const fallbackLifetime = time.Hour

// Store persists credentials keyed by (user, provider).
type Store interface {
	GetCredential(ctx context.Context, userID, provider string) (models.Credential, error)
	SaveCredential(ctx context.Context, cred models.Credential) error
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error)
}

// Manager implements the token lookup used by the sync orchestrator.
type Manager struct {
	store     Store
	refresher Refresher
	window    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewManager(store Store, refresher Refresher, window time.Duration, logger *zap.Logger) *Manager {
	if window <= 0 {
		window = DefaultRefreshWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, refresher: refresher, window: window, now: time.Now, logger: logger}
}

// GetValidToken returns a usable access token for (userID, provider).
// Every failure that needs the user to link the account again wraps errs.ErrReauthRequired.
func (m *Manager) GetValidToken(ctx context.Context, userID, provider string) (string, error) {
	cred, err := m.store.GetCredential(ctx, userID, provider)
	if errors.Is(err, errs.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", errs.ErrReauthRequired, errs.ErrCredentialMissing)
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}

	now := m.now()
	if !cred.ExpiresWithin(now, m.window) && cred.AccessToken != "" {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", fmt.Errorf("%w: %w: no refresh token", errs.ErrReauthRequired, errs.ErrCredentialExpired)
	}

	tok, err := m.refresher.Refresh(ctx, provider, cred.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.logger.Warn("token refresh failed",
			zap.String("user_id", userID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %w: %v", errs.ErrReauthRequired, errs.ErrCredentialExpired, err)
	}

	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.ExpiresAt = tok.Expiry
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = now.Add(fallbackLifetime)
	}
	cred.UpdatedAt = now

	// The vendor already rotated the pair; the run continues with the new token
	// even if storing it failed.
	if err := m.store.SaveCredential(ctx, cred); err != nil {
		m.logger.Error("persist refreshed credential failed",
			zap.String("user_id", userID),
			zap.String("provider", provider),
			zap.Error(err),
		)
	}
	return cred.AccessToken, nil
}

// Endpoint is the token endpoint configuration for one provider.
type Endpoint struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// OAuthRefresher performs the refresh grant against each provider's token endpoint.
type OAuthRefresher struct {
	configs map[string]*oauth2.Config
	client  *http.Client
}

// NewOAuthRefresher builds configs for the given endpoints. client may be nil.
func NewOAuthRefresher(endpoints map[string]Endpoint, client *http.Client) *OAuthRefresher {
	configs := make(map[string]*oauth2.Config, len(endpoints))
	for name, ep := range endpoints {
		configs[name] = &oauth2.Config{
			ClientID:     ep.ClientID,
			ClientSecret: ep.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  ep.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
	}
	return &OAuthRefresher{configs: configs, client: client}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error) {
	cfg, ok := r.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no token endpoint for %q", errs.ErrUnknownProvider, provider)
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}
	// An expired token with only the refresh half set forces the refresh grant.
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
	return src.Token()
}
