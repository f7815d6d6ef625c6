package syncs

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/handlers"
	"github.com/iddaa-lens/statsync/pkg/jobs"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models"
	"github.com/iddaa-lens/statsync/pkg/models/api"
	"github.com/iddaa-lens/statsync/pkg/services"
)

// Runner is the on-demand side of the scheduler
type Runner interface {
	RunFullSync(ctx context.Context) (*jobs.RunReport, error)
	RunLiveStatsSync(ctx context.Context) (*jobs.RunReport, error)
	SyncTenant(ctx context.Context, tenantID string, triggeredBy *string) (*models.SyncResult, error)
}

// Handler triggers sync runs outside the timer cadence
type Handler struct {
	runner Runner
	logger *logger.Logger

	background sync.WaitGroup
}

func NewHandler(runner Runner, log *logger.Logger) *Handler {
	return &Handler{
		runner: runner,
		logger: log,
	}
}

// Full handles POST /api/sync/full
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, jobs.KindFull, h.runner.RunFullSync)
}

// Live handles POST /api/sync/live
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, jobs.KindLive, h.runner.RunLiveStatsSync)
}

// trigger starts a run detached from the request and answers 202 right away.
// The run is overlap-guarded per tenant, so racing the timers is safe.
func (h *Handler) trigger(w http.ResponseWriter, kind string, run func(context.Context) (*jobs.RunReport, error)) {
	requestID := uuid.New().String()
	log := h.logger.WithJob(kind + "-sync").WithRequestID(requestID)
	ctx := log.ToContext(context.Background())

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		if _, err := run(ctx); err != nil {
			log.Error().
				Err(err).
				Str("action", "manual_run_failed").
				Msg("On-demand sync run failed")
		}
	}()

	handlers.WriteJSON(w, h.logger, http.StatusAccepted, api.SyncTriggerResponse{
		Status:    "accepted",
		Kind:      kind,
		RequestID: requestID,
		Accepted:  time.Now().UTC(),
	})
}

// Tenant handles POST /api/sync/tenant?tenant_id=&user_id= and runs inline
func (h *Handler) Tenant(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		handlers.WriteError(w, h.logger, http.StatusBadRequest, "tenant_id is required")
		return
	}
	var triggeredBy *string
	if user := strings.TrimSpace(r.URL.Query().Get("user_id")); user != "" {
		triggeredBy = &user
	}

	result, err := h.runner.SyncTenant(r.Context(), tenantID, triggeredBy)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.WithTenant(tenantID).Error().
				Err(err).
				Str("action", "tenant_sync_failed").
				Msg("On-demand tenant sync failed")
		}
		handlers.WriteError(w, h.logger, status, err.Error())
		return
	}

	handlers.WriteJSON(w, h.logger, http.StatusOK, api.TenantSyncResponse{
		TenantID:      tenantID,
		PlayersSynced: result.PlayersSynced,
		GamesSynced:   result.GamesSynced,
		DurationMS:    result.Duration.Milliseconds(),
		TriggeredBy:   triggeredBy,
	})
}

// Wait blocks until background runs started by this handler finish
func (h *Handler) Wait() {
	h.background.Wait()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrTenantBusy):
		return http.StatusConflict
	case credentials.IsTerminal(err), errors.Is(err, services.ErrMissingConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, credentials.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrProviderCallFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
