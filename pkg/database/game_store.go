package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models"
)

// GameStore persists the schedule, roster and parsed stats of each tenant
type GameStore struct {
	db     DBTX
	logger *logger.Logger
}

func NewGameStore(db DBTX, log *logger.Logger) *GameStore {
	if log == nil {
		log = logger.New("game-store")
	}
	return &GameStore{db: db, logger: log}
}

// UpsertGame inserts or updates a game keyed by (tenant, external id) and returns its id
func (s *GameStore) UpsertGame(ctx context.Context, g *models.Game) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO games (tenant_id, external_id, slug, home_team, away_team, start_time, status, home_score, away_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			slug = EXCLUDED.slug,
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			start_time = EXCLUDED.start_time,
			status = EXCLUDED.status,
			home_score = COALESCE(EXCLUDED.home_score, games.home_score),
			away_score = COALESCE(EXCLUDED.away_score, games.away_score),
			updated_at = NOW()
		RETURNING id::text`,
		g.TenantID, g.ExternalID, g.Slug, g.HomeTeam, g.AwayTeam, g.StartTime, g.Status, g.HomeScore, g.AwayScore,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert game %s: %w", g.ExternalID, err)
	}
	return id, nil
}

// UpsertRosterPlayers writes the roster of a tenant and returns how many rows changed
func (s *GameStore) UpsertRosterPlayers(ctx context.Context, players []models.RosterPlayer) (int, error) {
	start := time.Now()
	affected := 0
	for _, p := range players {
		tag, err := s.db.Exec(ctx, `
			INSERT INTO roster_players (tenant_id, external_id, first_name, last_name, uniform, position, class_year)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, external_id) DO UPDATE SET
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				uniform = EXCLUDED.uniform,
				position = EXCLUDED.position,
				class_year = EXCLUDED.class_year,
				updated_at = NOW()`,
			p.TenantID, p.ExternalID, p.FirstName, p.LastName, p.Uniform, p.Position, p.ClassYear,
		)
		if err != nil {
			s.logger.LogDatabaseOperation("upsert", "roster_players", affected, time.Since(start), err)
			return affected, fmt.Errorf("failed to upsert player %s: %w", p.ExternalID, err)
		}
		affected += int(tag.RowsAffected())
	}
	s.logger.LogDatabaseOperation("upsert", "roster_players", affected, time.Since(start), nil)
	return affected, nil
}

// GetGame returns a tenant's game, or nil when it does not exist
func (s *GameStore) GetGame(ctx context.Context, tenantID, gameID string) (*models.Game, error) {
	if !isUUID(gameID) {
		return nil, nil
	}

	var g models.Game
	err := s.db.QueryRow(ctx, `
		SELECT id::text, tenant_id, external_id, slug, home_team, away_team, start_time, status, home_score, away_score, updated_at
		FROM games
		WHERE tenant_id = $1 AND id = $2::uuid`,
		tenantID, gameID,
	).Scan(&g.ID, &g.TenantID, &g.ExternalID, &g.Slug, &g.HomeTeam, &g.AwayTeam, &g.StartTime, &g.Status,
		&g.HomeScore, &g.AwayScore, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game %s: %w", gameID, err)
	}
	return &g, nil
}

// ListLiveEligibleGames returns games in progress, plus scheduled games whose
// start time fell inside the window before now
func (s *GameStore) ListLiveEligibleGames(ctx context.Context, tenantID string, now time.Time, window time.Duration) ([]models.GameRef, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, external_id, status, start_time
		FROM games
		WHERE tenant_id = $1
			AND (status = $2 OR (status = $3 AND start_time BETWEEN $4 AND $5))
		ORDER BY start_time`,
		tenantID, models.GameStatusInProgress, models.GameStatusScheduled, now.Add(-window), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list live games: %w", err)
	}
	defer rows.Close()

	var refs []models.GameRef
	for rows.Next() {
		var r models.GameRef
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.Status, &r.StartTime); err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// SaveGameStats stores the parsed play-by-play and line score of a game.
// Either may be nil when the provider payload lacked it.
func (s *GameStore) SaveGameStats(ctx context.Context, gameID string, pbp *models.PlayByPlay, lineScore []models.TeamLineScore) error {
	var (
		pbpJSON, lineJSON []byte
		totalPlays        int
		err               error
	)
	if pbp != nil {
		if pbpJSON, err = json.Marshal(pbp); err != nil {
			return fmt.Errorf("failed to encode play-by-play: %w", err)
		}
		totalPlays = pbp.TotalPlays
	}
	if lineScore != nil {
		if lineJSON, err = json.Marshal(lineScore); err != nil {
			return fmt.Errorf("failed to encode line score: %w", err)
		}
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, `
		INSERT INTO game_stats (game_id, play_by_play, line_score, total_plays, fetched_at)
		VALUES ($1::uuid, $2::jsonb, $3::jsonb, $4, NOW())
		ON CONFLICT (game_id) DO UPDATE SET
			play_by_play = COALESCE(EXCLUDED.play_by_play, game_stats.play_by_play),
			line_score = COALESCE(EXCLUDED.line_score, game_stats.line_score),
			total_plays = GREATEST(EXCLUDED.total_plays, game_stats.total_plays),
			fetched_at = NOW()`,
		gameID, nullableJSON(pbpJSON), nullableJSON(lineJSON), totalPlays,
	)
	s.logger.LogDatabaseOperation("upsert", "game_stats", int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save stats for game %s: %w", gameID, err)
	}
	return nil
}

// UpdateGameScore sets the status and, when known, the score of a game
func (s *GameStore) UpdateGameScore(ctx context.Context, gameID, status string, homeScore, awayScore *int) error {
	if !isUUID(gameID) {
		return fmt.Errorf("game %q: %w", gameID, ErrInvalidGameID)
	}
	_, err := s.db.Exec(ctx, `
		UPDATE games SET
			status = $2,
			home_score = COALESCE($3, home_score),
			away_score = COALESCE($4, away_score),
			updated_at = NOW()
		WHERE id = $1::uuid`,
		gameID, status, homeScore, awayScore,
	)
	if err != nil {
		return fmt.Errorf("failed to update score of game %s: %w", gameID, err)
	}
	return nil
}

// RecordSyncRun writes an audit row for one sync. A game id that is not a
// game key (an on-demand call naming an unknown game) is stored as NULL.
func (s *GameStore) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	gameID := run.GameID
	if gameID != nil && !isUUID(*gameID) {
		gameID = nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_runs (id, tenant_id, kind, game_id, triggered_by, started_at, finished_at, status, error)
		VALUES ($1::uuid, $2, $3, $4::uuid, $5, $6, $7, $8, $9)`,
		run.ID, run.TenantID, run.Kind, gameID, run.TriggeredBy, run.StartedAt, run.FinishedAt, run.Status, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// ErrInvalidGameID is returned for ids that cannot name a stored game
var ErrInvalidGameID = errors.New("invalid game id")

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullableJSON(raw []byte) *string {
	if raw == nil {
		return nil
	}
	s := string(raw)
	return &s
}
