package credentials

import (
	"context"
	"time"

	"github.com/iddaa-lens/statsync/pkg/models"
)

// Store persists IntegrationCredential records. Lookups return (nil, nil)
// when no record matches.
type Store interface {
	// Get returns the record for the pair; activeOnly filters out deactivated ones
	Get(ctx context.Context, tenantID, provider string, activeOnly bool) (*models.IntegrationCredential, error)

	// Upsert creates or replaces the record keyed by (tenant, provider)
	Upsert(ctx context.Context, cred *models.IntegrationCredential) error

	// SaveTokens writes token ciphertext and expiries, resets the error counter
	// and stamps last_refreshed_at. Nil fields leave the stored value untouched.
	SaveTokens(ctx context.Context, tenantID, provider string, update TokenUpdate) error

	// MergeConfig shallow-merges partial into the stored config
	MergeConfig(ctx context.Context, tenantID, provider string, partial map[string]any) error

	// RecordRefreshFailure increments the consecutive failure counter, stores the
	// sanitized message and deactivates the record once the counter reaches
	// maxErrors. Returns the new count and whether the record is now inactive.
	RecordRefreshFailure(ctx context.Context, tenantID, provider, message string, maxErrors int) (int, bool, error)

	SetActive(ctx context.Context, tenantID, provider string, active bool) error
	Delete(ctx context.Context, tenantID, provider string) error

	ListByTenant(ctx context.Context, tenantID string) ([]models.IntegrationCredential, error)

	// ListActiveTenants returns tenants holding an active credential for provider
	ListActiveTenants(ctx context.Context, provider string) ([]string, error)

	// ListExpiring returns active records with a refresh token whose access token
	// expires at or before cutoff
	ListExpiring(ctx context.Context, cutoff time.Time) ([]models.IntegrationCredential, error)
}

// TokenUpdate is the ciphertext form of models.Tokens. An expiry belongs to
// the token written with it: when a token is replaced its expiry is replaced
// too, nil included. Expiries without a new token only overwrite when set.
type TokenUpdate struct {
	AccessTokenEncrypted  *string
	RefreshTokenEncrypted *string
	TokenExpiresAt        *time.Time
	RefreshTokenExpiresAt *time.Time
	RefreshedAt           time.Time
}

// Encryptor seals and opens secret strings
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
