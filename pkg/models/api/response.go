package api

import (
	"time"

	"github.com/iddaa-lens/statsync/pkg/database/pool"
	"github.com/iddaa-lens/statsync/pkg/models"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Database  string      `json:"database,omitempty"`
	Pool      *pool.Stats `json:"pool,omitempty"`
}

// ErrorResponse is returned for any non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// IntegrationsResponse lists a tenant's integrations without secrets
type IntegrationsResponse struct {
	TenantID     string                      `json:"tenant_id"`
	Integrations []models.IntegrationSummary `json:"integrations"`
}

// SyncTriggerResponse acknowledges an on-demand run that continues in the background
type SyncTriggerResponse struct {
	Status    string    `json:"status"`
	Kind      string    `json:"kind"`
	RequestID string    `json:"request_id"`
	Accepted  time.Time `json:"accepted_at"`
}

// TenantSyncResponse is returned by a synchronous single-tenant sync
type TenantSyncResponse struct {
	TenantID      string  `json:"tenant_id"`
	PlayersSynced int     `json:"players_synced"`
	GamesSynced   int     `json:"games_synced"`
	DurationMS    int64   `json:"duration_ms"`
	TriggeredBy   *string `json:"triggered_by,omitempty"`
}

// SaveIntegrationRequest stores or replaces a tenant's provider credentials
type SaveIntegrationRequest struct {
	TenantID       string                `json:"tenant_id"`
	Provider       string                `json:"provider"`
	CredentialType models.CredentialType `json:"credential_type"`
	Credentials    map[string]string     `json:"credentials"`
	Config         map[string]any        `json:"config"`
}

// UpdateConfigRequest shallow-merges keys into an integration's config
type UpdateConfigRequest struct {
	TenantID string         `json:"tenant_id"`
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config"`
}

// IntegrationRef names one integration in admin actions
type IntegrationRef struct {
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider"`
}
