package integrations

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/handlers"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models"
	"github.com/iddaa-lens/statsync/pkg/models/api"
)

// Manager is the credential lifecycle surface exposed to administrators
type Manager interface {
	GetTeamIntegrations(ctx context.Context, tenantID string) ([]models.IntegrationSummary, error)
	SaveCredentials(ctx context.Context, tenantID, provider string, creds map[string]string, config map[string]any, credType models.CredentialType) error
	UpdateConfig(ctx context.Context, tenantID, provider string, partial map[string]any) error
	DeactivateCredentials(ctx context.Context, tenantID, provider string) error
	DeleteCredentials(ctx context.Context, tenantID, provider string) error
}

type Handler struct {
	manager         Manager
	defaultProvider string
	logger          *logger.Logger
}

func NewHandler(manager Manager, defaultProvider string, log *logger.Logger) *Handler {
	return &Handler{
		manager:         manager,
		defaultProvider: defaultProvider,
		logger:          log,
	}
}

// List handles GET /api/integrations?tenant_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		handlers.WriteError(w, h.logger, http.StatusBadRequest, "tenant_id is required")
		return
	}

	summaries, err := h.manager.GetTeamIntegrations(r.Context(), tenantID)
	if err != nil {
		h.fail(w, err, tenantID, "list")
		return
	}
	if summaries == nil {
		summaries = []models.IntegrationSummary{}
	}

	handlers.WriteJSON(w, h.logger, http.StatusOK, api.IntegrationsResponse{
		TenantID:     tenantID,
		Integrations: summaries,
	})
}

// Save handles PUT /api/integrations
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var req api.SaveIntegrationRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		handlers.WriteError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	provider := h.provider(req.Provider)

	if err := h.manager.SaveCredentials(r.Context(), req.TenantID, provider, req.Credentials, req.Config, req.CredentialType); err != nil {
		h.fail(w, err, req.TenantID, "save")
		return
	}

	h.logger.WithTenant(req.TenantID).Info().
		Str("action", "integration_saved").
		Str("provider", provider).
		Str("credential_type", string(req.CredentialType)).
		Msg("Integration credentials saved")
	w.WriteHeader(http.StatusNoContent)
}

// UpdateConfig handles PATCH /api/integrations/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateConfigRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		handlers.WriteError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Config) == 0 {
		handlers.WriteError(w, h.logger, http.StatusBadRequest, "config must not be empty")
		return
	}

	if err := h.manager.UpdateConfig(r.Context(), req.TenantID, h.provider(req.Provider), req.Config); err != nil {
		h.fail(w, err, req.TenantID, "update_config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deactivate handles POST /api/integrations/deactivate
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req api.IntegrationRef
	if err := handlers.DecodeJSON(w, r, &req); err != nil || req.TenantID == "" {
		handlers.WriteError(w, h.logger, http.StatusBadRequest, "tenant_id is required")
		return
	}

	if err := h.manager.DeactivateCredentials(r.Context(), req.TenantID, h.provider(req.Provider)); err != nil {
		h.fail(w, err, req.TenantID, "deactivate")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/integrations?tenant_id=&provider=
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		handlers.WriteError(w, h.logger, http.StatusBadRequest, "tenant_id is required")
		return
	}

	if err := h.manager.DeleteCredentials(r.Context(), tenantID, h.provider(r.URL.Query().Get("provider"))); err != nil {
		h.fail(w, err, tenantID, "delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) provider(p string) string {
	if p = strings.TrimSpace(p); p != "" {
		return p
	}
	return h.defaultProvider
}

func (h *Handler) fail(w http.ResponseWriter, err error, tenantID, op string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, credentials.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, credentials.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.WithTenant(tenantID).Error().
			Err(err).
			Str("action", "integration_"+op+"_failed").
			Msg("Integration request failed")
		handlers.WriteError(w, h.logger, status, "Failed to "+strings.ReplaceAll(op, "_", " ")+" integration")
		return
	}
	handlers.WriteError(w, h.logger, status, err.Error())
}
