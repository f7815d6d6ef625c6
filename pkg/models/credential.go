package models

import "time"

// CredentialType identifies the kind of secret material an integration holds
type CredentialType string

const (
	CredentialTypeBasic  CredentialType = "basic"
	CredentialTypeOAuth2 CredentialType = "oauth2"
	CredentialTypeAPIKey CredentialType = "api_key"
)

// Valid reports whether t is one of the supported credential types
func (t CredentialType) Valid() bool {
	switch t {
	case CredentialTypeBasic, CredentialTypeOAuth2, CredentialTypeAPIKey:
		return true
	}
	return false
}

// IntegrationCredential is the persisted record for one (tenant, provider) pair.
// All *Encrypted fields hold ciphertext produced by the configured encryptor.
type IntegrationCredential struct {
	ID                    string
	TenantID              string
	Provider              string
	CredentialType        CredentialType
	CredentialsEncrypted  *string
	AccessTokenEncrypted  *string
	RefreshTokenEncrypted *string
	TokenExpiresAt        *time.Time
	RefreshTokenExpiresAt *time.Time
	LastRefreshedAt       *time.Time
	RefreshErrorCount     int
	LastRefreshError      *string
	IsActive              bool
	Config                map[string]any
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasRefreshToken reports whether a refresh token is stored
func (c *IntegrationCredential) HasRefreshToken() bool {
	return c.RefreshTokenEncrypted != nil && *c.RefreshTokenEncrypted != ""
}

// Tokens is new token material returned by a provider refresh or an initial authorization.
// Expiry may be given relative (ExpiresIn seconds) or absolute (ExpiresAt); absolute wins.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	ExpiresAt        *time.Time
	RefreshExpiresIn int64
	RefreshExpiresAt *time.Time
}

// DecryptedCredentials is what the sync engine receives from GetCredentials
type DecryptedCredentials struct {
	TenantID       string
	Provider       string
	Type           CredentialType
	Credentials    map[string]string
	AccessToken    string
	TokenExpiresAt *time.Time
	IsTokenExpired bool
	Config         map[string]any
}

// RefreshResult is the outcome of RefreshTokenIfNeeded
type RefreshResult struct {
	AccessToken string
	Refreshed   bool
}

// IntegrationSummary is a display-safe view of a credential. It never carries secrets.
type IntegrationSummary struct {
	Provider        string         `json:"provider"`
	CredentialType  CredentialType `json:"credential_type"`
	IsActive        bool           `json:"is_active"`
	TokenExpiresAt  *time.Time     `json:"token_expires_at,omitempty"`
	LastRefreshedAt *time.Time     `json:"last_refreshed_at,omitempty"`
	Config          map[string]any `json:"config"`
	HasErrors       bool           `json:"has_errors"`
	ErrorCount      int            `json:"error_count"`
	LastError       string         `json:"last_error,omitempty"`
}
