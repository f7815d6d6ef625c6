package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models"
	"github.com/iddaa-lens/statsync/pkg/presto"
)

type fakeCredentials struct {
	creds       *models.DecryptedCredentials
	getErr      error
	refreshErr  error
	token       string
	refreshed   []string
	due         []models.IntegrationCredential
	forceErrFor map[string]error
}

func (f *fakeCredentials) GetCredentials(ctx context.Context, tenantID, provider string) (*models.DecryptedCredentials, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.creds, nil
}

func (f *fakeCredentials) RefreshTokenIfNeeded(ctx context.Context, tenantID, provider string, refresh credentials.RefreshFunc) (*models.RefreshResult, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &models.RefreshResult{AccessToken: f.token}, nil
}

func (f *fakeCredentials) RefreshToken(ctx context.Context, tenantID, provider string, refresh credentials.RefreshFunc) (*models.RefreshResult, error) {
	if err := f.forceErrFor[tenantID]; err != nil {
		return nil, err
	}
	f.refreshed = append(f.refreshed, tenantID)
	return &models.RefreshResult{AccessToken: "fresh", Refreshed: true}, nil
}

func (f *fakeCredentials) FindCredentialsNeedingRefresh(ctx context.Context, bufferMinutes int) ([]models.IntegrationCredential, error) {
	return f.due, nil
}

type fakeProvider struct {
	roster     []presto.Player
	schedule   []presto.Event
	stats      string
	err        error
	calls      int
	tokensSeen []string
}

func (f *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*models.Tokens, error) {
	return &models.Tokens{AccessToken: "new"}, nil
}

func (f *fakeProvider) GetRoster(ctx context.Context, accessToken, teamID, season string) ([]presto.Player, error) {
	f.calls++
	f.tokensSeen = append(f.tokensSeen, accessToken)
	return f.roster, f.err
}

func (f *fakeProvider) GetSchedule(ctx context.Context, accessToken, teamID, season string) ([]presto.Event, error) {
	f.calls++
	return f.schedule, f.err
}

func (f *fakeProvider) GetEventStats(ctx context.Context, accessToken, eventID string) (string, error) {
	f.calls++
	f.tokensSeen = append(f.tokensSeen, accessToken)
	return f.stats, f.err
}

type fakeGames struct {
	games       map[string]*models.Game
	upserted    []*models.Game
	players     []models.RosterPlayer
	savedStats  int
	savedPBP    *models.PlayByPlay
	savedLines  []models.TeamLineScore
	scoreStatus string
	home, away  *int
	runs        []*models.SyncRun
	liveWindow  time.Duration
}

func newFakeGames() *fakeGames {
	return &fakeGames{games: map[string]*models.Game{}}
}

func (f *fakeGames) UpsertGame(ctx context.Context, g *models.Game) (string, error) {
	f.upserted = append(f.upserted, g)
	return "id-" + g.ExternalID, nil
}

func (f *fakeGames) UpsertRosterPlayers(ctx context.Context, players []models.RosterPlayer) (int, error) {
	f.players = append(f.players, players...)
	return len(players), nil
}

func (f *fakeGames) GetGame(ctx context.Context, tenantID, gameID string) (*models.Game, error) {
	return f.games[gameID], nil
}

func (f *fakeGames) ListLiveEligibleGames(ctx context.Context, tenantID string, now time.Time, window time.Duration) ([]models.GameRef, error) {
	f.liveWindow = window
	return []models.GameRef{{ID: "g-1"}}, nil
}

func (f *fakeGames) SaveGameStats(ctx context.Context, gameID string, pbp *models.PlayByPlay, lineScore []models.TeamLineScore) error {
	f.savedStats++
	f.savedPBP = pbp
	f.savedLines = lineScore
	return nil
}

func (f *fakeGames) UpdateGameScore(ctx context.Context, gameID, status string, homeScore, awayScore *int) error {
	f.scoreStatus = status
	f.home, f.away = homeScore, awayScore
	return nil
}

func (f *fakeGames) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func oauthCreds() *models.DecryptedCredentials {
	return &models.DecryptedCredentials{
		TenantID: "tenant-a",
		Provider: presto.ProviderName,
		Type:     models.CredentialTypeOAuth2,
		Config:   map[string]any{"team_id": "team-9", "season": float64(2026)},
	}
}

func newTestService(creds *fakeCredentials, provider *fakeProvider, games *fakeGames) *SyncService {
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	return NewSyncService(creds, provider, games, SyncConfig{
		LiveWindow: 3 * time.Hour,
		Now:        func() time.Time { return now },
	}, logger.Nop())
}

func TestSyncAll(t *testing.T) {
	creds := &fakeCredentials{creds: oauthCreds(), token: "access-1"}
	provider := &fakeProvider{
		roster: []presto.Player{{ID: "p1", FirstName: " Jo ", LastName: "Smith", Uniform: "12"}},
		schedule: []presto.Event{{
			ID:        "ev1",
			StartTime: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC),
			Status:    "Final",
			Home:      presto.EventTeam{Name: "Home University"},
			Away:      presto.EventTeam{Name: "Away State"},
			Result:    &presto.EventScore{HomeScore: 3, AwayScore: 2},
		}},
	}
	games := newFakeGames()
	svc := newTestService(creds, provider, games)

	result, err := svc.SyncAll(context.Background(), "tenant-a", nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.PlayersSynced)
	require.Equal(t, 1, result.GamesSynced)

	require.Equal(t, "Jo", games.players[0].FirstName)
	require.Equal(t, "tenant-a", games.players[0].TenantID)

	g := games.upserted[0]
	require.Equal(t, "away-state-at-home-university-2026-03-14-ev1", g.Slug)
	require.Equal(t, models.GameStatusFinal, g.Status)
	require.Equal(t, 3, *g.HomeScore)

	require.Equal(t, []string{"access-1"}, provider.tokensSeen)
	require.Len(t, games.runs, 1)
	require.Equal(t, "success", games.runs[0].Status)
	require.Nil(t, games.runs[0].TriggeredBy)
}

func TestSyncAll_ProviderFailure(t *testing.T) {
	creds := &fakeCredentials{creds: oauthCreds(), token: "access-1"}
	provider := &fakeProvider{err: errors.New("upstream 502")}
	games := newFakeGames()
	svc := newTestService(creds, provider, games)

	user := "coach-1"
	_, err := svc.SyncAll(context.Background(), "tenant-a", &user)
	require.ErrorIs(t, err, ErrProviderCallFailed)
	require.Len(t, games.runs, 1)
	require.Equal(t, "failed", games.runs[0].Status)
	require.Equal(t, "coach-1", *games.runs[0].TriggeredBy)
}

func TestSyncAll_TerminalCredentialErrorPassesThrough(t *testing.T) {
	creds := &fakeCredentials{creds: oauthCreds(), refreshErr: credentials.ErrReauthRequired}
	provider := &fakeProvider{}
	svc := newTestService(creds, provider, newFakeGames())

	_, err := svc.SyncAll(context.Background(), "tenant-a", nil)
	require.ErrorIs(t, err, credentials.ErrReauthRequired)
	require.True(t, credentials.IsTerminal(err))
	require.Equal(t, 0, provider.calls)
}

func TestSyncAll_MissingTeamID(t *testing.T) {
	c := oauthCreds()
	c.Config = map[string]any{}
	svc := newTestService(&fakeCredentials{creds: c}, &fakeProvider{}, newFakeGames())

	_, err := svc.SyncAll(context.Background(), "tenant-a", nil)
	require.ErrorIs(t, err, ErrMissingConfig)
}

func TestSyncAll_APIKeyCredentials(t *testing.T) {
	c := oauthCreds()
	c.Type = models.CredentialTypeAPIKey
	c.Credentials = map[string]string{"api_key": "key-1"}
	provider := &fakeProvider{}
	svc := newTestService(&fakeCredentials{creds: c, refreshErr: errors.New("must not refresh")}, provider, newFakeGames())

	_, err := svc.SyncAll(context.Background(), "tenant-a", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"key-1"}, provider.tokensSeen)
}

const liveStatsFixture = `<bsgame>
  <team vh="V" id="AWY" name="Away State"><linescore runs="2" hits="5" errs="0" lob="3"><lineinn inn="1" score="2"/></linescore></team>
  <team vh="H" id="HME" name="Home University"><linescore runs="3" hits="6" errs="1" lob="2"><lineinn inn="1" score="3"/></linescore></team>
  <plays format="summary">
    <inning number="1">
      <batting vh="V"><play><batter name="A" scored="1"/></play></batting>
      <batting vh="H"><play><batter name="B" scored="1"/></play><play><batter name="C" out="1"/></play></batting>
    </inning>
  </plays>
</bsgame>`

func TestSyncLiveStats(t *testing.T) {
	games := newFakeGames()
	games.games["g-1"] = &models.Game{ID: "g-1", ExternalID: "ev1", HomeTeam: "Home University", AwayTeam: "Away State", Status: models.GameStatusScheduled}
	provider := &fakeProvider{stats: liveStatsFixture}
	svc := newTestService(&fakeCredentials{creds: oauthCreds(), token: "access-1"}, provider, games)

	err := svc.SyncLiveStats(context.Background(), "tenant-a", "g-1", nil)
	require.NoError(t, err)

	require.Equal(t, 1, games.savedStats)
	require.NotNil(t, games.savedPBP)
	require.Equal(t, 3, games.savedPBP.TotalPlays)
	require.Len(t, games.savedLines, 2)
	require.Equal(t, models.GameStatusInProgress, games.scoreStatus)
	require.Equal(t, 3, *games.home)
	require.Equal(t, 2, *games.away)

	require.Len(t, games.runs, 1)
	require.Equal(t, SyncKindLive, games.runs[0].Kind)
	require.Equal(t, "g-1", *games.runs[0].GameID)
}

func TestSyncLiveStats_NoDataYet(t *testing.T) {
	games := newFakeGames()
	games.games["g-1"] = &models.Game{ID: "g-1", ExternalID: "ev1", Status: models.GameStatusInProgress}
	svc := newTestService(&fakeCredentials{creds: oauthCreds(), token: "t"}, &fakeProvider{stats: ""}, games)

	require.NoError(t, svc.SyncLiveStats(context.Background(), "tenant-a", "g-1", nil))
	require.Equal(t, 0, games.savedStats)
	require.Equal(t, "success", games.runs[0].Status)
}

func TestSyncLiveStats_GameNotFound(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(&fakeCredentials{creds: oauthCreds()}, provider, newFakeGames())

	err := svc.SyncLiveStats(context.Background(), "tenant-a", "missing", nil)
	require.ErrorIs(t, err, ErrGameNotFound)
	require.Equal(t, 0, provider.calls)
}

func TestGetLiveEligibleGames_UsesWindow(t *testing.T) {
	games := newFakeGames()
	svc := newTestService(&fakeCredentials{}, &fakeProvider{}, games)

	refs, err := svc.GetLiveEligibleGames(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, 3*time.Hour, games.liveWindow)
}

func TestRefreshExpiringTokens(t *testing.T) {
	creds := &fakeCredentials{
		due: []models.IntegrationCredential{
			{TenantID: "a", Provider: presto.ProviderName},
			{TenantID: "b", Provider: presto.ProviderName},
			{TenantID: "c", Provider: "other"},
		},
		forceErrFor: map[string]error{"b": credentials.ErrDeactivated},
	}
	svc := newTestService(creds, &fakeProvider{}, newFakeGames())

	refreshed, failed, err := svc.RefreshExpiringTokens(context.Background(), 15)
	require.NoError(t, err)
	require.Equal(t, 1, refreshed)
	require.Equal(t, 1, failed)
	require.Equal(t, []string{"a"}, creds.refreshed)
}
