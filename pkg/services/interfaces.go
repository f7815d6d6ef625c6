package services

import (
	"context"
	"time"

	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/models"
	"github.com/iddaa-lens/statsync/pkg/presto"
)

// CredentialManager is the slice of credentials.Manager the sync engine uses
type CredentialManager interface {
	GetCredentials(ctx context.Context, tenantID, provider string) (*models.DecryptedCredentials, error)
	RefreshTokenIfNeeded(ctx context.Context, tenantID, provider string, refresh credentials.RefreshFunc) (*models.RefreshResult, error)
	RefreshToken(ctx context.Context, tenantID, provider string, refresh credentials.RefreshFunc) (*models.RefreshResult, error)
	FindCredentialsNeedingRefresh(ctx context.Context, bufferMinutes int) ([]models.IntegrationCredential, error)
}

// ProviderClient is the stats provider API
type ProviderClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*models.Tokens, error)
	GetRoster(ctx context.Context, accessToken, teamID, season string) ([]presto.Player, error)
	GetSchedule(ctx context.Context, accessToken, teamID, season string) ([]presto.Event, error)
	GetEventStats(ctx context.Context, accessToken, eventID string) (string, error)
}

// GameRepository persists what the engine pulls from the provider
type GameRepository interface {
	UpsertGame(ctx context.Context, g *models.Game) (string, error)
	UpsertRosterPlayers(ctx context.Context, players []models.RosterPlayer) (int, error)
	GetGame(ctx context.Context, tenantID, gameID string) (*models.Game, error)
	ListLiveEligibleGames(ctx context.Context, tenantID string, now time.Time, window time.Duration) ([]models.GameRef, error)
	SaveGameStats(ctx context.Context, gameID string, pbp *models.PlayByPlay, lineScore []models.TeamLineScore) error
	UpdateGameScore(ctx context.Context, gameID, status string, homeScore, awayScore *int) error
	RecordSyncRun(ctx context.Context, run *models.SyncRun) error
}
