package credentials

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models"
)

const testProvider = "presto"

type fakeEncryptor struct {
	failDecrypt map[string]bool
}

func (f *fakeEncryptor) Encrypt(plaintext string) (string, error) {
	return "enc:" + reverse(plaintext), nil
}

func (f *fakeEncryptor) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("bad ciphertext")
	}
	plain := reverse(strings.TrimPrefix(ciphertext, "enc:"))
	if f.failDecrypt[plain] {
		return "", errors.New("authentication failed")
	}
	return plain, nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store   *MemoryStore
	enc     *fakeEncryptor
	clock   *testClock
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	enc := &fakeEncryptor{failDecrypt: map[string]bool{}}
	return &fixture{
		store: store,
		enc:   enc,
		clock: clock,
		manager: NewManager(store, enc, ManagerOptions{
			MaxRefreshErrors: 5,
			Logger:           logger.Nop(),
			Now:              clock.Now,
		}),
	}
}

// seedOAuth stores an oauth2 credential whose access token expires after accessTTL
func (f *fixture) seedOAuth(t *testing.T, tenantID string, accessTTL time.Duration) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.manager.SaveCredentials(ctx, tenantID, testProvider, nil, map[string]any{"season": "2026"}, models.CredentialTypeOAuth2))
	expires := f.clock.Now().Add(accessTTL)
	refreshExpires := f.clock.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, f.manager.SaveTokens(ctx, tenantID, testProvider, &models.Tokens{
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		ExpiresAt:        &expires,
		RefreshExpiresAt: &refreshExpires,
	}))
}

func TestRefreshTokenIfNeeded_ValidTokenSkipsRefresh(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Hour)

	calls := 0
	result, err := f.manager.RefreshTokenIfNeeded(context.Background(), "tenant-a", testProvider,
		func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
			calls++
			return nil, errors.New("should not be called")
		})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
	require.False(t, result.Refreshed)
	require.Equal(t, "access-1", result.AccessToken)
}

func TestRefreshTokenIfNeeded_ExpiredTokenRefreshesOnce(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Minute)
	f.clock.Advance(2 * time.Minute)

	var seen []string
	result, err := f.manager.RefreshTokenIfNeeded(context.Background(), "tenant-a", testProvider,
		func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
			seen = append(seen, refreshToken)
			return &models.Tokens{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600}, nil
		})
	require.NoError(t, err)
	require.Equal(t, []string{"refresh-1"}, seen)
	require.True(t, result.Refreshed)
	require.Equal(t, "access-2", result.AccessToken)

	rec, err := f.store.Get(context.Background(), "tenant-a", testProvider, true)
	require.NoError(t, err)
	require.Equal(t, 0, rec.RefreshErrorCount)
	require.Equal(t, f.clock.Now().Add(time.Hour), *rec.TokenExpiresAt)
	require.Equal(t, f.clock.Now(), *rec.LastRefreshedAt)
	require.NotContains(t, *rec.AccessTokenEncrypted, "access-2")
}

func TestRefreshTokenIfNeeded_NoRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.SaveCredentials(ctx, "tenant-a", testProvider, map[string]string{"username": "coach"}, nil, models.CredentialTypeBasic))

	_, err := f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider,
		func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
			t.Fatal("refresh must not be called")
			return nil, nil
		})
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRefreshTokenIfNeeded_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.RefreshTokenIfNeeded(context.Background(), "missing", testProvider, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshTokenIfNeeded_ExpiredRefreshTokenRequiresReauth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.SaveCredentials(ctx, "tenant-a", testProvider, nil, nil, models.CredentialTypeOAuth2))
	past := f.clock.Now().Add(-time.Minute)
	require.NoError(t, f.manager.SaveTokens(ctx, "tenant-a", testProvider, &models.Tokens{
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		ExpiresAt:        &past,
		RefreshExpiresAt: &past,
	}))

	_, err := f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider,
		func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
			t.Fatal("refresh must not be called")
			return nil, nil
		})
	require.ErrorIs(t, err, ErrReauthRequired)
	require.True(t, IsTerminal(err))

	rec, err := f.store.Get(ctx, "tenant-a", testProvider, false)
	require.NoError(t, err)
	require.False(t, rec.IsActive)

	_, err = f.manager.GetCredentials(ctx, "tenant-a", testProvider)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshTokenIfNeeded_DeactivatesAtThreshold(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Minute)
	f.clock.Advance(time.Hour)
	ctx := context.Background()

	calls := 0
	failing := func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
		calls++
		return nil, errors.New("invalid_grant: refresh_token=abc123 rejected")
	}

	for i := 1; i <= 4; i++ {
		_, err := f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider, failing)
		require.ErrorIs(t, err, ErrRefreshFailed)
		require.False(t, IsTerminal(err))

		var refreshErr *RefreshError
		require.True(t, errors.As(err, &refreshErr))
		require.Equal(t, i, refreshErr.ErrorCount)
		require.NotContains(t, refreshErr.Error(), "abc123")
	}

	_, err := f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider, failing)
	require.ErrorIs(t, err, ErrDeactivated)
	require.True(t, IsTerminal(err))
	require.Equal(t, 5, calls)

	rec, err := f.store.Get(ctx, "tenant-a", testProvider, false)
	require.NoError(t, err)
	require.False(t, rec.IsActive)
	require.Equal(t, 5, rec.RefreshErrorCount)
	require.NotContains(t, *rec.LastRefreshError, "abc123")

	_, err = f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider, failing)
	require.ErrorIs(t, err, ErrDeactivated)
	require.Equal(t, 5, calls, "deactivated credential must not reach the provider")
}

func TestRefreshTokenIfNeeded_SuccessResetsErrorCount(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Minute)
	f.clock.Advance(time.Hour)
	ctx := context.Background()

	_, err := f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider,
		func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
			return nil, errors.New("timeout")
		})
	require.Error(t, err)

	_, err = f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider,
		func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
			return &models.Tokens{AccessToken: "access-2", ExpiresIn: 600}, nil
		})
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, "tenant-a", testProvider, true)
	require.NoError(t, err)
	require.Equal(t, 0, rec.RefreshErrorCount)
	require.Nil(t, rec.LastRefreshError)
}

func TestRefreshTokenIfNeeded_CoalescesSamePair(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Minute)
	f.clock.Advance(time.Hour)

	var calls int32
	release := make(chan struct{})
	refresh := func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &models.Tokens{AccessToken: "access-2", ExpiresIn: 600}, nil
	}

	var wg sync.WaitGroup
	results := make([]*models.RefreshResult, 2)
	errs := make([]error, 2)
	started := make(chan struct{}, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			results[i], errs[i] = f.manager.RefreshTokenIfNeeded(context.Background(), "tenant-a", testProvider, refresh)
		}(i)
	}
	<-started
	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
	for i, res := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "access-2", res.AccessToken)
	}
}

func TestRefreshToken_ForcesRefreshOfValidToken(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", 10*time.Minute)

	result, err := f.manager.RefreshToken(context.Background(), "tenant-a", testProvider,
		func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
			return &models.Tokens{AccessToken: "access-2", ExpiresIn: 3600}, nil
		})
	require.NoError(t, err)
	require.True(t, result.Refreshed)
}

func TestGetCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.SaveCredentials(ctx, "tenant-a", testProvider,
		map[string]string{"username": "coach", "password": "hunter2"}, map[string]any{"team_id": "t-1"}, models.CredentialTypeBasic))

	creds, err := f.manager.GetCredentials(ctx, "tenant-a", testProvider)
	require.NoError(t, err)
	require.Equal(t, "hunter2", creds.Credentials["password"])
	require.Equal(t, "t-1", creds.Config["team_id"])
	require.Empty(t, creds.AccessToken)
	require.True(t, creds.IsTokenExpired)

	rec, err := f.store.Get(ctx, "tenant-a", testProvider, true)
	require.NoError(t, err)
	require.NotContains(t, *rec.CredentialsEncrypted, "hunter2")
}

func TestGetCredentials_AccessTokenDecryptFailureTolerated(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Hour)
	f.enc.failDecrypt["access-1"] = true

	creds, err := f.manager.GetCredentials(context.Background(), "tenant-a", testProvider)
	require.NoError(t, err)
	require.Empty(t, creds.AccessToken)
	require.False(t, creds.IsTokenExpired)
}

func TestGetCredentials_BasicDecryptFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.SaveCredentials(ctx, "tenant-a", testProvider,
		map[string]string{"api_key": "k"}, nil, models.CredentialTypeAPIKey))
	f.enc.failDecrypt[`{"api_key":"k"}`] = true

	_, err := f.manager.GetCredentials(ctx, "tenant-a", testProvider)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSaveCredentials_ResetsFailureState(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Minute)
	f.clock.Advance(time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider,
			func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
				return nil, errors.New("denied")
			})
	}
	require.NoError(t, f.manager.SaveCredentials(ctx, "tenant-a", testProvider, nil, nil, models.CredentialTypeOAuth2))

	rec, err := f.store.Get(ctx, "tenant-a", testProvider, true)
	require.NoError(t, err)
	require.True(t, rec.IsActive)
	require.Equal(t, 0, rec.RefreshErrorCount)
	require.Nil(t, rec.LastRefreshError)
}

func TestSaveCredentials_RejectsUnknownType(t *testing.T) {
	f := newFixture(t)

	err := f.manager.SaveCredentials(context.Background(), "tenant-a", testProvider, nil, nil, "saml")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSaveTokens_RequiresExistingRecord(t *testing.T) {
	f := newFixture(t)

	err := f.manager.SaveTokens(context.Background(), "tenant-a", testProvider, &models.Tokens{AccessToken: "a"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTokens_ExpiryResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.SaveCredentials(ctx, "tenant-a", testProvider, nil, nil, models.CredentialTypeOAuth2))

	absolute := f.clock.Now().Add(90 * time.Minute)
	require.NoError(t, f.manager.SaveTokens(ctx, "tenant-a", testProvider, &models.Tokens{
		AccessToken:      "a",
		RefreshToken:     "r",
		ExpiresIn:        60,
		ExpiresAt:        &absolute,
		RefreshExpiresIn: 7200,
	}))

	rec, err := f.store.Get(ctx, "tenant-a", testProvider, true)
	require.NoError(t, err)
	require.Equal(t, absolute, *rec.TokenExpiresAt)
	require.Equal(t, f.clock.Now().Add(2*time.Hour), *rec.RefreshTokenExpiresAt)
}

func TestRefreshTokenIfNeeded_NewTokenWithoutExpiryDropsStaleExpiry(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Minute)
	f.clock.Advance(2 * time.Minute)
	ctx := context.Background()

	calls := 0
	refresh := func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
		calls++
		return &models.Tokens{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	}

	result, err := f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider, refresh)
	require.NoError(t, err)
	require.True(t, result.Refreshed)

	rec, err := f.store.Get(ctx, "tenant-a", testProvider, true)
	require.NoError(t, err)
	require.Equal(t, f.clock.Now().Add(DefaultTokenLifetime), *rec.TokenExpiresAt)
	// the new refresh token came without an expiry, so the old one must not stick
	require.Nil(t, rec.RefreshTokenExpiresAt)

	result, err = f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider, refresh)
	require.NoError(t, err)
	require.False(t, result.Refreshed)
	require.Equal(t, "access-2", result.AccessToken)
	require.Equal(t, 1, calls)
}

func TestUpdateConfig_Merges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.SaveCredentials(ctx, "tenant-a", testProvider, nil,
		map[string]any{"season": "2026", "team_id": "t-1"}, models.CredentialTypeOAuth2))

	require.NoError(t, f.manager.UpdateConfig(ctx, "tenant-a", testProvider, map[string]any{"team_id": "t-2", "league": "ncaa"}))

	rec, err := f.store.Get(ctx, "tenant-a", testProvider, true)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"season": "2026", "team_id": "t-2", "league": "ncaa"}, rec.Config)

	err = f.manager.UpdateConfig(ctx, "other", testProvider, map[string]any{"x": 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateAndDelete_AreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.DeactivateCredentials(ctx, "missing", testProvider))
	require.NoError(t, f.manager.DeleteCredentials(ctx, "missing", testProvider))

	f.seedOAuth(t, "tenant-a", time.Hour)
	require.NoError(t, f.manager.DeactivateCredentials(ctx, "tenant-a", testProvider))
	require.NoError(t, f.manager.DeactivateCredentials(ctx, "tenant-a", testProvider))

	tenants, err := f.manager.ListActiveTenants(ctx, testProvider)
	require.NoError(t, err)
	require.Empty(t, tenants)

	require.NoError(t, f.manager.DeleteCredentials(ctx, "tenant-a", testProvider))
	rec, err := f.store.Get(ctx, "tenant-a", testProvider, false)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestGetTeamIntegrations_Redacted(t *testing.T) {
	f := newFixture(t)
	f.seedOAuth(t, "tenant-a", time.Minute)
	f.clock.Advance(time.Hour)
	ctx := context.Background()

	_, _ = f.manager.RefreshTokenIfNeeded(ctx, "tenant-a", testProvider,
		func(ctx context.Context, refreshToken string) (*models.Tokens, error) {
			return nil, errors.New("Authorization: Bearer sk_live_abcdef failed")
		})

	summaries, err := f.manager.GetTeamIntegrations(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	require.Equal(t, testProvider, s.Provider)
	require.Equal(t, models.CredentialTypeOAuth2, s.CredentialType)
	require.True(t, s.IsActive)
	require.True(t, s.HasErrors)
	require.Equal(t, 1, s.ErrorCount)
	require.NotContains(t, s.LastError, "sk_live_abcdef")
	require.Equal(t, "2026", s.Config["season"])
}

func TestFindCredentialsNeedingRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOAuth(t, "soon", 10*time.Minute)
	f.seedOAuth(t, "later", 2*time.Hour)
	require.NoError(t, f.manager.SaveCredentials(ctx, "basic-only", testProvider, map[string]string{"u": "p"}, nil, models.CredentialTypeBasic))

	due, err := f.manager.FindCredentialsNeedingRefresh(ctx, 15)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "soon", due[0].TenantID)
}
