package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models"
	"github.com/iddaa-lens/statsync/pkg/playbyplay"
	"github.com/iddaa-lens/statsync/pkg/presto"
	"github.com/iddaa-lens/statsync/pkg/utils"
)

var (
	// ErrProviderCallFailed is transient; the next scheduled run retries
	ErrProviderCallFailed = errors.New("provider call failed")
	// ErrGameNotFound means the game id does not belong to the tenant
	ErrGameNotFound = errors.New("game not found")
	// ErrMissingConfig means the integration lacks the provider team id
	ErrMissingConfig = errors.New("integration config incomplete")
)

const (
	SyncKindFull = "full"
	SyncKindLive = "live"

	configTeamID = "team_id"
	configSeason = "season"
)

// SyncConfig tunes the sync engine
type SyncConfig struct {
	// LiveWindow is how long after its scheduled start a game stays live-eligible
	// while the provider still reports it as scheduled
	LiveWindow time.Duration
	Now        func() time.Time
}

// SyncService pulls roster, schedule and live stats from the provider into
// the tenant's store
type SyncService struct {
	credentials CredentialManager
	provider    ProviderClient
	games       GameRepository
	logger      *logger.Logger
	liveWindow  time.Duration
	now         func() time.Time
}

func NewSyncService(creds CredentialManager, provider ProviderClient, games GameRepository, cfg SyncConfig, log *logger.Logger) *SyncService {
	if cfg.LiveWindow <= 0 {
		cfg.LiveWindow = 4 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.New("sync-service")
	}
	return &SyncService{
		credentials: creds,
		provider:    provider,
		games:       games,
		logger:      log,
		liveWindow:  cfg.LiveWindow,
		now:         cfg.Now,
	}
}

// session is what one tenant sync needs from its credential
type session struct {
	accessToken string
	teamID      string
	season      string
}

func (s *SyncService) openSession(ctx context.Context, tenantID string) (*session, error) {
	creds, err := s.credentials.GetCredentials(ctx, tenantID, presto.ProviderName)
	if err != nil {
		return nil, err
	}

	sess := &session{
		teamID: configString(creds.Config, configTeamID),
		season: configString(creds.Config, configSeason),
	}
	if sess.teamID == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrMissingConfig, configTeamID)
	}

	switch creds.Type {
	case models.CredentialTypeOAuth2:
		res, err := s.credentials.RefreshTokenIfNeeded(ctx, tenantID, presto.ProviderName, s.provider.RefreshToken)
		if err != nil {
			return nil, err
		}
		sess.accessToken = res.AccessToken
	default:
		sess.accessToken = firstNonEmpty(creds.Credentials["api_key"], creds.Credentials["token"], creds.AccessToken)
		if sess.accessToken == "" {
			return nil, fmt.Errorf("%w: no usable token for %s", credentials.ErrNotFound, presto.ProviderName)
		}
	}
	return sess, nil
}

// SyncAll reconciles roster and schedule of one tenant
func (s *SyncService) SyncAll(ctx context.Context, tenantID string, triggeredBy *string) (*models.SyncResult, error) {
	start := s.now()
	log := s.logger.WithTenant(tenantID)

	result, err := s.syncAll(ctx, tenantID)
	s.recordRun(ctx, tenantID, SyncKindFull, nil, triggeredBy, start, err)
	if err != nil {
		return nil, err
	}

	result.Duration = s.now().Sub(start)
	log.Info().
		Str("action", "tenant_full_sync_complete").
		Int("players", result.PlayersSynced).
		Int("games", result.GamesSynced).
		Dur("duration", result.Duration).
		Msg("Roster and schedule synced")
	return result, nil
}

func (s *SyncService) syncAll(ctx context.Context, tenantID string) (*models.SyncResult, error) {
	sess, err := s.openSession(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	roster, err := s.provider.GetRoster(ctx, sess.accessToken, sess.teamID, sess.season)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderCallFailed, err)
	}
	players := make([]models.RosterPlayer, 0, len(roster))
	for _, p := range roster {
		players = append(players, models.RosterPlayer{
			TenantID:   tenantID,
			ExternalID: p.ID,
			FirstName:  strings.TrimSpace(p.FirstName),
			LastName:   strings.TrimSpace(p.LastName),
			Uniform:    p.Uniform,
			Position:   p.Position,
			ClassYear:  p.ClassYear,
		})
	}
	if _, err := s.games.UpsertRosterPlayers(ctx, players); err != nil {
		return nil, err
	}

	schedule, err := s.provider.GetSchedule(ctx, sess.accessToken, sess.teamID, sess.season)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderCallFailed, err)
	}
	synced := 0
	for _, ev := range schedule {
		game := &models.Game{
			TenantID:   tenantID,
			ExternalID: ev.ID,
			Slug:       utils.GenerateGameSlug(ev.Away.Name, ev.Home.Name, ev.StartTime, ev.ID),
			HomeTeam:   ev.Home.Name,
			AwayTeam:   ev.Away.Name,
			StartTime:  ev.StartTime,
			Status:     presto.GameStatus(ev.Status),
		}
		if ev.Result != nil {
			home, away := ev.Result.HomeScore, ev.Result.AwayScore
			game.HomeScore, game.AwayScore = &home, &away
		}
		if _, err := s.games.UpsertGame(ctx, game); err != nil {
			return nil, err
		}
		synced++
	}

	return &models.SyncResult{
		TenantID:      tenantID,
		PlayersSynced: len(players),
		GamesSynced:   synced,
	}, nil
}

// GetLiveEligibleGames lists games worth polling for live stats right now
func (s *SyncService) GetLiveEligibleGames(ctx context.Context, tenantID string) ([]models.GameRef, error) {
	return s.games.ListLiveEligibleGames(ctx, tenantID, s.now(), s.liveWindow)
}

// SyncLiveStats fetches, parses and stores the current stats of one game
func (s *SyncService) SyncLiveStats(ctx context.Context, tenantID, gameID string, triggeredBy *string) error {
	start := s.now()
	err := s.syncLiveStats(ctx, tenantID, gameID)
	s.recordRun(ctx, tenantID, SyncKindLive, &gameID, triggeredBy, start, err)
	return err
}

func (s *SyncService) syncLiveStats(ctx context.Context, tenantID, gameID string) error {
	game, err := s.games.GetGame(ctx, tenantID, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	log := s.logger.WithTenant(tenantID).WithGame(game.ID, game.ExternalID)

	sess, err := s.openSession(ctx, tenantID)
	if err != nil {
		return err
	}

	markup, err := s.provider.GetEventStats(ctx, sess.accessToken, game.ExternalID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderCallFailed, err)
	}

	pbp := playbyplay.Parse(markup)
	var lineScore []models.TeamLineScore
	if pbp != nil {
		lineScore = pbp.LineScore
	} else {
		lineScore = playbyplay.ParseLineScore(markup)
	}

	if pbp == nil && lineScore == nil {
		log.Debug().
			Str("action", "live_stats_empty").
			Msg("Provider has no stats for this game yet")
		return nil
	}

	if err := s.games.SaveGameStats(ctx, game.ID, pbp, lineScore); err != nil {
		return err
	}

	status := game.Status
	if status == models.GameStatusScheduled {
		status = models.GameStatusInProgress
	}
	home, away := scoreFromLineScore(game, lineScore)
	if err := s.games.UpdateGameScore(ctx, game.ID, status, home, away); err != nil {
		return err
	}

	totalPlays := 0
	if pbp != nil {
		totalPlays = pbp.TotalPlays
	}
	log.Info().
		Str("action", "live_stats_synced").
		Int("total_plays", totalPlays).
		Int("line_score_teams", len(lineScore)).
		Msg("Live stats stored")
	return nil
}

// RefreshExpiringTokens proactively refreshes provider tokens that expire
// within bufferMinutes. Failures are recorded by the credential manager and
// counted here; they never abort the pass.
func (s *SyncService) RefreshExpiringTokens(ctx context.Context, bufferMinutes int) (refreshed int, failed int, err error) {
	due, err := s.credentials.FindCredentialsNeedingRefresh(ctx, bufferMinutes)
	if err != nil {
		return 0, 0, err
	}

	for _, cred := range due {
		if cred.Provider != presto.ProviderName {
			continue
		}
		if _, err := s.credentials.RefreshToken(ctx, cred.TenantID, cred.Provider, s.provider.RefreshToken); err != nil {
			failed++
			s.logger.WithTenant(cred.TenantID).Warn().
				Err(err).
				Str("action", "proactive_refresh_failed").
				Bool("terminal", credentials.IsTerminal(err)).
				Msg("Proactive token refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed, failed, nil
}

func (s *SyncService) recordRun(ctx context.Context, tenantID, kind string, gameID, triggeredBy *string, start time.Time, runErr error) {
	run := &models.SyncRun{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Kind:        kind,
		GameID:      gameID,
		TriggeredBy: triggeredBy,
		StartedAt:   start,
		FinishedAt:  s.now(),
		Status:      "success",
	}
	if runErr != nil {
		msg := credentials.Sanitize(runErr.Error())
		run.Status = "failed"
		run.Error = &msg
	}
	if err := s.games.RecordSyncRun(ctx, run); err != nil {
		s.logger.WithTenant(tenantID).Warn().
			Err(err).
			Str("action", "sync_run_record_failed").
			Str("kind", kind).
			Msg("Could not record sync run")
	}
}

// scoreFromLineScore matches line score rows to the game's teams, by side
// when the provider sent one and by team name otherwise
func scoreFromLineScore(game *models.Game, rows []models.TeamLineScore) (home, away *int) {
	for i := range rows {
		runs := rows[i].Runs
		switch {
		case rows[i].Side == models.SideHome, rows[i].Side == models.SideUnknown && utils.SameTeam(rows[i].Name, game.HomeTeam):
			home = &runs
		case rows[i].Side == models.SideAway, rows[i].Side == models.SideUnknown && utils.SameTeam(rows[i].Name, game.AwayTeam):
			away = &runs
		}
	}
	return home, away
}

func configString(cfg map[string]any, key string) string {
	switch v := cfg[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
