package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models"
)

const credentialColumns = `id::text, tenant_id, provider, credential_type, credentials_encrypted,
	access_token_encrypted, refresh_token_encrypted, token_expires_at, refresh_token_expires_at,
	last_refreshed_at, refresh_error_count, last_refresh_error, is_active, config, created_at, updated_at`

// CredentialStore persists integration credentials in Postgres
type CredentialStore struct {
	db     DBTX
	logger *logger.Logger
}

var _ credentials.Store = (*CredentialStore)(nil)

func NewCredentialStore(db DBTX, log *logger.Logger) *CredentialStore {
	if log == nil {
		log = logger.New("credential-store")
	}
	return &CredentialStore{db: db, logger: log}
}

func (s *CredentialStore) Get(ctx context.Context, tenantID, provider string, activeOnly bool) (*models.IntegrationCredential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM integration_credentials
		WHERE tenant_id = $1 AND provider = $2`
	if activeOnly {
		query += ` AND is_active`
	}

	cred, err := scanCredential(s.db.QueryRow(ctx, query, tenantID, provider))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential for %s/%s: %w", tenantID, provider, err)
	}
	return cred, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, cred *models.IntegrationCredential) error {
	config, err := encodeConfig(cred.Config)
	if err != nil {
		return err
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, `
		INSERT INTO integration_credentials (
			tenant_id, provider, credential_type, credentials_encrypted,
			access_token_encrypted, refresh_token_encrypted, token_expires_at,
			refresh_token_expires_at, last_refreshed_at, refresh_error_count,
			last_refresh_error, is_active, config
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, NULL, $10, $11::jsonb)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			credential_type = EXCLUDED.credential_type,
			credentials_encrypted = EXCLUDED.credentials_encrypted,
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
			token_expires_at = EXCLUDED.token_expires_at,
			refresh_token_expires_at = EXCLUDED.refresh_token_expires_at,
			last_refreshed_at = EXCLUDED.last_refreshed_at,
			refresh_error_count = 0,
			last_refresh_error = NULL,
			is_active = EXCLUDED.is_active,
			config = EXCLUDED.config,
			updated_at = NOW()`,
		cred.TenantID, cred.Provider, string(cred.CredentialType), cred.CredentialsEncrypted,
		cred.AccessTokenEncrypted, cred.RefreshTokenEncrypted, cred.TokenExpiresAt,
		cred.RefreshTokenExpiresAt, cred.LastRefreshedAt, cred.IsActive, config,
	)
	s.logger.LogDatabaseOperation("upsert", "integration_credentials", int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) SaveTokens(ctx context.Context, tenantID, provider string, update credentials.TokenUpdate) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE integration_credentials SET
			access_token_encrypted = COALESCE($3, access_token_encrypted),
			refresh_token_encrypted = COALESCE($4, refresh_token_encrypted),
			token_expires_at = CASE WHEN $3::text IS NOT NULL THEN $5 ELSE COALESCE($5, token_expires_at) END,
			refresh_token_expires_at = CASE WHEN $4::text IS NOT NULL THEN $6 ELSE COALESCE($6, refresh_token_expires_at) END,
			last_refreshed_at = $7,
			refresh_error_count = 0,
			last_refresh_error = NULL,
			updated_at = NOW()
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider, update.AccessTokenEncrypted, update.RefreshTokenEncrypted,
		update.TokenExpiresAt, update.RefreshTokenExpiresAt, update.RefreshedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credentials.ErrNotFound
	}
	return nil
}

func (s *CredentialStore) MergeConfig(ctx context.Context, tenantID, provider string, partial map[string]any) error {
	patch, err := encodeConfig(partial)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE integration_credentials
		SET config = COALESCE(config, '{}'::jsonb) || $3::jsonb, updated_at = NOW()
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider, patch,
	)
	if err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credentials.ErrNotFound
	}
	return nil
}

// RecordRefreshFailure increments the counter and applies the threshold in a
// single statement so concurrent failures cannot skip the deactivation.
func (s *CredentialStore) RecordRefreshFailure(ctx context.Context, tenantID, provider, message string, maxErrors int) (int, bool, error) {
	var (
		count  int
		active bool
	)
	err := s.db.QueryRow(ctx, `
		UPDATE integration_credentials SET
			refresh_error_count = refresh_error_count + 1,
			last_refresh_error = $3,
			is_active = CASE WHEN refresh_error_count + 1 >= $4 THEN FALSE ELSE is_active END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND provider = $2
		RETURNING refresh_error_count, is_active`,
		tenantID, provider, message, maxErrors,
	).Scan(&count, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, credentials.ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to record refresh failure: %w", err)
	}
	return count, !active, nil
}

func (s *CredentialStore) SetActive(ctx context.Context, tenantID, provider string, active bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE integration_credentials SET is_active = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider, active,
	)
	if err != nil {
		return fmt.Errorf("failed to set is_active: %w", err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, tenantID, provider string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM integration_credentials WHERE tenant_id = $1 AND provider = $2`, tenantID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) ListByTenant(ctx context.Context, tenantID string) ([]models.IntegrationCredential, error) {
	return s.list(ctx, `SELECT `+credentialColumns+`
		FROM integration_credentials
		WHERE tenant_id = $1
		ORDER BY provider`, tenantID)
}

func (s *CredentialStore) ListActiveTenants(ctx context.Context, provider string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT tenant_id FROM integration_credentials
		WHERE provider = $1 AND is_active
		ORDER BY tenant_id`, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func (s *CredentialStore) ListExpiring(ctx context.Context, cutoff time.Time) ([]models.IntegrationCredential, error) {
	return s.list(ctx, `SELECT `+credentialColumns+`
		FROM integration_credentials
		WHERE is_active
			AND refresh_token_encrypted IS NOT NULL AND refresh_token_encrypted <> ''
			AND token_expires_at IS NOT NULL AND token_expires_at <= $1
		ORDER BY token_expires_at`, cutoff)
}

func (s *CredentialStore) list(ctx context.Context, query string, args ...interface{}) ([]models.IntegrationCredential, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []models.IntegrationCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		out = append(out, *cred)
	}
	return out, rows.Err()
}

func scanCredential(row scanner) (*models.IntegrationCredential, error) {
	var (
		c         models.IntegrationCredential
		credType  string
		rawConfig []byte
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Provider, &credType, &c.CredentialsEncrypted,
		&c.AccessTokenEncrypted, &c.RefreshTokenEncrypted, &c.TokenExpiresAt, &c.RefreshTokenExpiresAt,
		&c.LastRefreshedAt, &c.RefreshErrorCount, &c.LastRefreshError, &c.IsActive, &rawConfig,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CredentialType = models.CredentialType(credType)
	c.Config = map[string]any{}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &c.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return &c, nil
}

func encodeConfig(config map[string]any) (string, error) {
	if config == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return string(raw), nil
}
