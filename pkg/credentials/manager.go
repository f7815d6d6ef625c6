package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/metrics"
	"github.com/iddaa-lens/statsync/pkg/models"
)

const (
	// DefaultMaxRefreshErrors is the consecutive failure count that deactivates an integration
	DefaultMaxRefreshErrors = 5

	// DefaultTokenLifetime is assumed for a new access token the provider
	// returned without any expiry
	DefaultTokenLifetime = time.Hour

	// expirySkew treats tokens about to expire as already expired
	expirySkew = 30 * time.Second
)

// RefreshFunc exchanges a refresh token for new token material
type RefreshFunc func(ctx context.Context, refreshToken string) (*models.Tokens, error)

// ManagerOptions tunes a Manager. Zero values fall back to defaults.
type ManagerOptions struct {
	MaxRefreshErrors int
	TokenLifetime    time.Duration
	Logger           *logger.Logger
	Now              func() time.Time
}

// Manager owns the credential lifecycle: encryption, expiry decisions,
// refresh and threshold deactivation.
type Manager struct {
	store     Store
	encryptor Encryptor
	maxErrors int
	lifetime  time.Duration
	logger    *logger.Logger
	now       func() time.Time
	inflight  singleflight.Group
}

func NewManager(store Store, encryptor Encryptor, opts ManagerOptions) *Manager {
	m := &Manager{
		store:     store,
		encryptor: encryptor,
		maxErrors: opts.MaxRefreshErrors,
		lifetime:  opts.TokenLifetime,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if m.maxErrors <= 0 {
		m.maxErrors = DefaultMaxRefreshErrors
	}
	if m.lifetime <= 0 {
		m.lifetime = DefaultTokenLifetime
	}
	if m.logger == nil {
		m.logger = logger.New("credentials")
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// GetCredentials returns the decrypted material of the active credential.
// An unreadable access token is tolerated and comes back empty; unreadable
// basic/API-key material fails the call.
func (m *Manager) GetCredentials(ctx context.Context, tenantID, provider string) (*models.DecryptedCredentials, error) {
	rec, err := m.store.Get(ctx, tenantID, provider, true)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	out := &models.DecryptedCredentials{
		TenantID:       rec.TenantID,
		Provider:       rec.Provider,
		Type:           rec.CredentialType,
		TokenExpiresAt: rec.TokenExpiresAt,
		IsTokenExpired: m.isExpired(rec.TokenExpiresAt),
		Config:         rec.Config,
	}

	if rec.CredentialsEncrypted != nil && *rec.CredentialsEncrypted != "" {
		plain, err := m.encryptor.Decrypt(*rec.CredentialsEncrypted)
		if err != nil {
			return nil, fmt.Errorf("%w: stored credentials for %s", ErrDecryptionFailed, provider)
		}
		if err := json.Unmarshal([]byte(plain), &out.Credentials); err != nil {
			return nil, fmt.Errorf("%w: stored credentials for %s are malformed", ErrDecryptionFailed, provider)
		}
	}

	if rec.AccessTokenEncrypted != nil && *rec.AccessTokenEncrypted != "" {
		token, err := m.encryptor.Decrypt(*rec.AccessTokenEncrypted)
		if err != nil {
			m.logger.WithTenant(tenantID).Warn().
				Str("action", "access_token_unreadable").
				Str("provider", provider).
				Msg("Access token could not be decrypted, continuing without it")
		} else {
			out.AccessToken = token
		}
	}

	return out, nil
}

// SaveCredentials encrypts and upserts basic/API-key material. Every save
// clears the refresh failure state and re-activates the integration.
func (m *Manager) SaveCredentials(ctx context.Context, tenantID, provider string, creds map[string]string, config map[string]any, credType models.CredentialType) error {
	if tenantID == "" || provider == "" {
		return fmt.Errorf("%w: tenant and provider are required", ErrInvalidInput)
	}
	if !credType.Valid() {
		return fmt.Errorf("%w: unknown credential type %q", ErrInvalidInput, credType)
	}

	rec := &models.IntegrationCredential{
		TenantID:       tenantID,
		Provider:       provider,
		CredentialType: credType,
		IsActive:       true,
		Config:         config,
	}
	if rec.Config == nil {
		rec.Config = map[string]any{}
	}

	// keep tokens from an earlier authorization when only basic material changes
	existing, err := m.store.Get(ctx, tenantID, provider, false)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if existing != nil {
		rec.AccessTokenEncrypted = existing.AccessTokenEncrypted
		rec.RefreshTokenEncrypted = existing.RefreshTokenEncrypted
		rec.TokenExpiresAt = existing.TokenExpiresAt
		rec.RefreshTokenExpiresAt = existing.RefreshTokenExpiresAt
		rec.LastRefreshedAt = existing.LastRefreshedAt
	}

	if len(creds) > 0 {
		raw, err := json.Marshal(creds)
		if err != nil {
			return fmt.Errorf("encode credentials: %w", err)
		}
		sealed, err := m.encryptor.Encrypt(string(raw))
		if err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
		rec.CredentialsEncrypted = &sealed
	}

	if err := m.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	m.logger.WithTenant(tenantID).Info().
		Str("action", "credentials_saved").
		Str("provider", provider).
		Str("credential_type", string(credType)).
		Msg("Integration credentials saved")
	return nil
}

// SaveTokens attaches token material to an existing credential
func (m *Manager) SaveTokens(ctx context.Context, tenantID, provider string, tokens *models.Tokens) error {
	if tokens == nil {
		return fmt.Errorf("%w: tokens are required", ErrInvalidInput)
	}
	rec, err := m.store.Get(ctx, tenantID, provider, false)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if rec == nil {
		return ErrNotFound
	}

	now := m.now()
	update := TokenUpdate{
		TokenExpiresAt:        resolveExpiry(now, tokens.ExpiresAt, tokens.ExpiresIn),
		RefreshTokenExpiresAt: resolveExpiry(now, tokens.RefreshExpiresAt, tokens.RefreshExpiresIn),
		RefreshedAt:           now,
	}
	if tokens.AccessToken != "" {
		sealed, err := m.encryptor.Encrypt(tokens.AccessToken)
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		update.AccessTokenEncrypted = &sealed
		if update.TokenExpiresAt == nil {
			expires := now.Add(m.lifetime)
			update.TokenExpiresAt = &expires
		}
	}
	if tokens.RefreshToken != "" {
		sealed, err := m.encryptor.Encrypt(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		update.RefreshTokenEncrypted = &sealed
	}

	if err := m.store.SaveTokens(ctx, tenantID, provider, update); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// UpdateConfig shallow-merges partial into the stored config
func (m *Manager) UpdateConfig(ctx context.Context, tenantID, provider string, partial map[string]any) error {
	rec, err := m.store.Get(ctx, tenantID, provider, false)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if rec == nil {
		return ErrNotFound
	}
	if len(partial) == 0 {
		return nil
	}
	if err := m.store.MergeConfig(ctx, tenantID, provider, partial); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	return nil
}

// RefreshTokenIfNeeded returns a usable access token, calling refresh only
// when the stored one is expired. Concurrent calls for the same pair share a
// single refresh.
func (m *Manager) RefreshTokenIfNeeded(ctx context.Context, tenantID, provider string, refresh RefreshFunc) (*models.RefreshResult, error) {
	v, err, _ := m.inflight.Do(flightKey(tenantID, provider), func() (interface{}, error) {
		return m.refreshIfNeeded(ctx, tenantID, provider, refresh, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.RefreshResult), nil
}

// RefreshToken refreshes unconditionally. Used by the proactive refresh job
// for tokens that are close to, but not yet past, expiry.
func (m *Manager) RefreshToken(ctx context.Context, tenantID, provider string, refresh RefreshFunc) (*models.RefreshResult, error) {
	v, err, _ := m.inflight.Do(flightKey(tenantID, provider), func() (interface{}, error) {
		return m.refreshIfNeeded(ctx, tenantID, provider, refresh, true)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.RefreshResult), nil
}

func (m *Manager) refreshIfNeeded(ctx context.Context, tenantID, provider string, refresh RefreshFunc, force bool) (*models.RefreshResult, error) {
	log := m.logger.WithTenant(tenantID)

	rec, err := m.store.Get(ctx, tenantID, provider, false)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if !rec.IsActive {
		if rec.RefreshErrorCount >= m.maxErrors {
			return nil, ErrDeactivated
		}
		return nil, ErrNotFound
	}

	if !force && !m.isExpired(rec.TokenExpiresAt) && rec.AccessTokenEncrypted != nil {
		token, err := m.encryptor.Decrypt(*rec.AccessTokenEncrypted)
		if err != nil {
			return nil, fmt.Errorf("%w: access token for %s", ErrDecryptionFailed, provider)
		}
		return &models.RefreshResult{AccessToken: token, Refreshed: false}, nil
	}

	if !rec.HasRefreshToken() {
		return nil, ErrNoRefreshToken
	}

	if rec.RefreshTokenExpiresAt != nil && !m.now().Before(*rec.RefreshTokenExpiresAt) {
		if err := m.store.SetActive(ctx, tenantID, provider, false); err != nil {
			return nil, fmt.Errorf("deactivate credential: %w", err)
		}
		metrics.CredentialsDeactivated.WithLabelValues(provider, "refresh_token_expired").Inc()
		metrics.TokenRefreshes.WithLabelValues(provider, "reauth_required").Inc()
		log.Warn().
			Str("action", "reauth_required").
			Str("provider", provider).
			Time("refresh_token_expires_at", *rec.RefreshTokenExpiresAt).
			Msg("Refresh token expired, integration deactivated until re-authentication")
		return nil, ErrReauthRequired
	}

	refreshToken, err := m.encryptor.Decrypt(*rec.RefreshTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token for %s", ErrDecryptionFailed, provider)
	}

	tokens, err := refresh(ctx, refreshToken)
	if err == nil && (tokens == nil || tokens.AccessToken == "") {
		err = errors.New("provider returned no access token")
	}
	if err != nil {
		return nil, m.recordFailure(ctx, tenantID, provider, err)
	}

	if err := m.SaveTokens(ctx, tenantID, provider, tokens); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues(provider, "success").Inc()
	log.Info().
		Str("action", "token_refreshed").
		Str("provider", provider).
		Bool("forced", force).
		Msg("Access token refreshed")

	return &models.RefreshResult{AccessToken: tokens.AccessToken, Refreshed: true}, nil
}

func (m *Manager) recordFailure(ctx context.Context, tenantID, provider string, cause error) error {
	message := Sanitize(cause.Error())

	count, deactivated, err := m.store.RecordRefreshFailure(ctx, tenantID, provider, message, m.maxErrors)
	if err != nil {
		return fmt.Errorf("record refresh failure: %w", err)
	}

	refreshErr := &RefreshError{
		TenantID:   tenantID,
		Provider:   provider,
		ErrorCount: count,
		Message:    message,
		terminal:   deactivated,
	}

	log := m.logger.WithTenant(tenantID)
	if deactivated {
		metrics.TokenRefreshes.WithLabelValues(provider, "deactivated").Inc()
		metrics.CredentialsDeactivated.WithLabelValues(provider, "error_threshold").Inc()
		log.Error().
			Str("action", "credential_deactivated").
			Str("provider", provider).
			Int("error_count", count).
			Str("last_error", message).
			Msg("Integration deactivated after repeated refresh failures")
	} else {
		metrics.TokenRefreshes.WithLabelValues(provider, "failed").Inc()
		log.Warn().
			Str("action", "token_refresh_failed").
			Str("provider", provider).
			Int("error_count", count).
			Int("max_errors", m.maxErrors).
			Str("last_error", message).
			Msg("Token refresh failed")
	}
	return refreshErr
}

// DeactivateCredentials soft-disables the integration; missing records are a no-op
func (m *Manager) DeactivateCredentials(ctx context.Context, tenantID, provider string) error {
	if err := m.store.SetActive(ctx, tenantID, provider, false); err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	metrics.CredentialsDeactivated.WithLabelValues(provider, "manual").Inc()
	m.logger.WithTenant(tenantID).Info().
		Str("action", "credential_deactivated").
		Str("provider", provider).
		Msg("Integration deactivated")
	return nil
}

// DeleteCredentials removes the record; missing records are a no-op
func (m *Manager) DeleteCredentials(ctx context.Context, tenantID, provider string) error {
	if err := m.store.Delete(ctx, tenantID, provider); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	m.logger.WithTenant(tenantID).Info().
		Str("action", "credential_deleted").
		Str("provider", provider).
		Msg("Integration removed")
	return nil
}

// GetTeamIntegrations lists a display-safe summary of every integration of a tenant
func (m *Manager) GetTeamIntegrations(ctx context.Context, tenantID string) ([]models.IntegrationSummary, error) {
	recs, err := m.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	out := make([]models.IntegrationSummary, 0, len(recs))
	for _, rec := range recs {
		summary := models.IntegrationSummary{
			Provider:        rec.Provider,
			CredentialType:  rec.CredentialType,
			IsActive:        rec.IsActive,
			TokenExpiresAt:  rec.TokenExpiresAt,
			LastRefreshedAt: rec.LastRefreshedAt,
			Config:          rec.Config,
			HasErrors:       rec.RefreshErrorCount > 0,
			ErrorCount:      rec.RefreshErrorCount,
		}
		if rec.LastRefreshError != nil {
			summary.LastError = *rec.LastRefreshError
		}
		if summary.Config == nil {
			summary.Config = map[string]any{}
		}
		out = append(out, summary)
	}
	return out, nil
}

// FindCredentialsNeedingRefresh returns active credentials holding a refresh
// token whose access token expires within bufferMinutes
func (m *Manager) FindCredentialsNeedingRefresh(ctx context.Context, bufferMinutes int) ([]models.IntegrationCredential, error) {
	if bufferMinutes < 0 {
		bufferMinutes = 0
	}
	cutoff := m.now().Add(time.Duration(bufferMinutes) * time.Minute)
	recs, err := m.store.ListExpiring(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring credentials: %w", err)
	}
	return recs, nil
}

// ListActiveTenants returns every tenant with an active integration for provider
func (m *Manager) ListActiveTenants(ctx context.Context, provider string) ([]string, error) {
	tenants, err := m.store.ListActiveTenants(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return tenants, nil
}

func (m *Manager) isExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return !m.now().Before(expiresAt.Add(-expirySkew))
}

func resolveExpiry(now time.Time, absolute *time.Time, relativeSeconds int64) *time.Time {
	if absolute != nil {
		t := *absolute
		return &t
	}
	if relativeSeconds > 0 {
		t := now.Add(time.Duration(relativeSeconds) * time.Second)
		return &t
	}
	return nil
}

func flightKey(tenantID, provider string) string {
	return tenantID + "|" + provider
}
