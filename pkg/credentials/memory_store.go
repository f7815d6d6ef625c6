package credentials

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/statsync/pkg/models"
)

// MemoryStore is an in-process Store. It backs tests and single-node
// development setups without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.IntegrationCredential
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.IntegrationCredential),
		now:     time.Now,
	}
}

func memoryKey(tenantID, provider string) string {
	return tenantID + "\x00" + provider
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, provider string, activeOnly bool) (*models.IntegrationCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[memoryKey(tenantID, provider)]
	if !ok || (activeOnly && !rec.IsActive) {
		return nil, nil
	}
	return cloneCredential(rec), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, cred *models.IntegrationCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := cloneCredential(cred)
	key := memoryKey(cred.TenantID, cred.Provider)
	if existing, ok := s.records[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) SaveTokens(ctx context.Context, tenantID, provider string, update TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memoryKey(tenantID, provider)]
	if !ok {
		return ErrNotFound
	}
	if update.AccessTokenEncrypted != nil {
		rec.AccessTokenEncrypted = stringPtr(*update.AccessTokenEncrypted)
	}
	if update.RefreshTokenEncrypted != nil {
		rec.RefreshTokenEncrypted = stringPtr(*update.RefreshTokenEncrypted)
	}
	if update.AccessTokenEncrypted != nil || update.TokenExpiresAt != nil {
		rec.TokenExpiresAt = copyTime(update.TokenExpiresAt)
	}
	if update.RefreshTokenEncrypted != nil || update.RefreshTokenExpiresAt != nil {
		rec.RefreshTokenExpiresAt = copyTime(update.RefreshTokenExpiresAt)
	}
	rec.LastRefreshedAt = timePtr(update.RefreshedAt)
	rec.RefreshErrorCount = 0
	rec.LastRefreshError = nil
	rec.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MergeConfig(ctx context.Context, tenantID, provider string, partial map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memoryKey(tenantID, provider)]
	if !ok {
		return ErrNotFound
	}
	if rec.Config == nil {
		rec.Config = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		rec.Config[k] = v
	}
	rec.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RecordRefreshFailure(ctx context.Context, tenantID, provider, message string, maxErrors int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memoryKey(tenantID, provider)]
	if !ok {
		return 0, false, ErrNotFound
	}
	rec.RefreshErrorCount++
	rec.LastRefreshError = stringPtr(message)
	if rec.RefreshErrorCount >= maxErrors {
		rec.IsActive = false
	}
	rec.UpdatedAt = s.now()
	return rec.RefreshErrorCount, !rec.IsActive, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, tenantID, provider string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[memoryKey(tenantID, provider)]; ok {
		rec.IsActive = active
		rec.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenantID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, memoryKey(tenantID, provider))
	return nil
}

func (s *MemoryStore) ListByTenant(ctx context.Context, tenantID string) ([]models.IntegrationCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.IntegrationCredential
	for _, rec := range s.records {
		if rec.TenantID == tenantID {
			out = append(out, *cloneCredential(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *MemoryStore) ListActiveTenants(ctx context.Context, provider string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tenants []string
	for _, rec := range s.records {
		if rec.Provider == provider && rec.IsActive {
			tenants = append(tenants, rec.TenantID)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MemoryStore) ListExpiring(ctx context.Context, cutoff time.Time) ([]models.IntegrationCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.IntegrationCredential
	for _, rec := range s.records {
		if !rec.IsActive || !rec.HasRefreshToken() || rec.TokenExpiresAt == nil {
			continue
		}
		if !rec.TokenExpiresAt.After(cutoff) {
			out = append(out, *cloneCredential(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenExpiresAt.Before(*out[j].TokenExpiresAt) })
	return out, nil
}

func cloneCredential(c *models.IntegrationCredential) *models.IntegrationCredential {
	out := *c
	if c.CredentialsEncrypted != nil {
		out.CredentialsEncrypted = stringPtr(*c.CredentialsEncrypted)
	}
	if c.AccessTokenEncrypted != nil {
		out.AccessTokenEncrypted = stringPtr(*c.AccessTokenEncrypted)
	}
	if c.RefreshTokenEncrypted != nil {
		out.RefreshTokenEncrypted = stringPtr(*c.RefreshTokenEncrypted)
	}
	if c.LastRefreshError != nil {
		out.LastRefreshError = stringPtr(*c.LastRefreshError)
	}
	if c.Config != nil {
		out.Config = make(map[string]any, len(c.Config))
		for k, v := range c.Config {
			out.Config[k] = v
		}
	}
	return &out
}

func stringPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}
