package health

import (
	"context"
	"net/http"
	"time"

	"github.com/iddaa-lens/statsync/pkg/database/pool"
	"github.com/iddaa-lens/statsync/pkg/handlers"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models/api"
)

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles health check requests
type Handler struct {
	db     Pinger
	stats  func() pool.Stats
	logger *logger.Logger
}

// NewHandler creates a new health handler. stats may be nil.
func NewHandler(db Pinger, stats func() pool.Stats, log *logger.Logger) *Handler {
	return &Handler{
		db:     db,
		stats:  stats,
		logger: log,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	response := api.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.db.Ping(ctx)
		cancel()

		if err != nil {
			h.logger.Warn().
				Err(err).
				Str("action", "health_db_unreachable").
				Msg("Database ping failed")
			response.Status = "degraded"
			response.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			response.Database = "ok"
		}
	}
	if h.stats != nil {
		stats := h.stats()
		response.Pool = &stats
	}

	handlers.WriteJSON(w, h.logger, status, response)

	h.logger.Debug().
		Str("action", "health_check").
		Str("endpoint", "/health").
		Str("remote_addr", r.RemoteAddr).
		Int("status_code", status).
		Dur("duration", time.Since(start)).
		Msg("Health check completed")
}
