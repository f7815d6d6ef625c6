package jobs

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iddaa-lens/statsync/pkg/logger"
)

// JobLockManager provides cross-process locks for sync work. Keys are
// tenant-scoped (see TenantLockKey) or job names for auxiliary jobs.
type JobLockManager interface {
	// AcquireLock returns false without blocking when another session holds the key
	AcquireLock(ctx context.Context, key string) (bool, error)

	ReleaseLock(ctx context.Context, key string) error

	IsLocked(ctx context.Context, key string) (bool, error)
}

// TenantLockKey is the lock key shared by full and live syncs of one tenant
func TenantLockKey(tenantID string) string {
	return "statsync:tenant:" + tenantID
}

// LockSession is one dedicated database session. Advisory locks live exactly
// as long as the session that took them.
type LockSession interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Release hands a healthy session back
	Release()
	// Discard ends the session on the server, dropping whatever it still holds
	Discard(ctx context.Context) error
}

// SessionSource hands out sessions for lock holders
type SessionSource interface {
	Session(ctx context.Context) (LockSession, error)
}

// PoolSessions takes lock sessions from a pgx pool
type PoolSessions struct {
	Pool *pgxpool.Pool
}

func (p PoolSessions) Session(ctx context.Context) (LockSession, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return poolSession{conn: conn}, nil
}

type poolSession struct {
	conn *pgxpool.Conn
}

func (s poolSession) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return s.conn.QueryRow(ctx, sql, args...)
}

func (s poolSession) Release() {
	s.conn.Release()
}

// Discard closes the connection; the pool destroys closed connections on release
func (s poolSession) Discard(ctx context.Context) error {
	err := s.conn.Conn().Close(ctx)
	s.conn.Release()
	return err
}

// PostgreSQLLockManager implements JobLockManager with session-level
// advisory locks. Every held lock pins its own session until ReleaseLock, so
// a dropped connection costs only the lock it carried and the next
// acquisition starts on a fresh session.
type PostgreSQLLockManager struct {
	sessions SessionSource
	logger   *logger.Logger

	mu   sync.Mutex
	held map[string]LockSession
}

func NewPostgreSQLLockManager(sessions SessionSource, log *logger.Logger) *PostgreSQLLockManager {
	if log == nil {
		log = logger.New("job-lock-manager")
	}
	return &PostgreSQLLockManager{
		sessions: sessions,
		logger:   log,
		held:     make(map[string]LockSession),
	}
}

// lockID maps a key onto the int64 space advisory locks use
func lockID(key string) int64 {
	hash := md5.Sum([]byte(key))
	return int64(binary.BigEndian.Uint64(hash[:8]) >> 1)
}

func (p *PostgreSQLLockManager) holds(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.held[key]
	return ok
}

func (p *PostgreSQLLockManager) AcquireLock(ctx context.Context, key string) (bool, error) {
	id := lockID(key)

	// advisory locks are re-entrant per session; a second holder in this
	// process must still be refused
	if p.holds(key) {
		return false, nil
	}

	sess, err := p.sessions.Session(ctx)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("lock_key", key).
			Str("action", "lock_session_failed").
			Msg("No database session for advisory lock")
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	var acquired bool
	if err := sess.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
		p.discard(sess, key)
		p.logger.Error().
			Err(err).
			Str("lock_key", key).
			Int64("lock_id", id).
			Str("action", "acquire_lock_failed").
			Msg("Failed to acquire advisory lock")
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	if !acquired {
		sess.Release()
		p.logger.Debug().
			Str("lock_key", key).
			Int64("lock_id", id).
			Str("action", "lock_already_held").
			Msg("Lock held by another instance")
		return false, nil
	}

	p.mu.Lock()
	p.held[key] = sess
	p.mu.Unlock()
	return true, nil
}

func (p *PostgreSQLLockManager) ReleaseLock(ctx context.Context, key string) error {
	id := lockID(key)

	p.mu.Lock()
	sess, ok := p.held[key]
	delete(p.held, key)
	p.mu.Unlock()

	if !ok {
		p.logger.Warn().
			Str("lock_key", key).
			Int64("lock_id", id).
			Str("action", "lock_not_held").
			Msg("Released a lock this process did not hold")
		return nil
	}

	var released bool
	if err := sess.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", id).Scan(&released); err != nil {
		// ending the session drops the lock server-side
		p.discard(sess, key)
		p.logger.Error().
			Err(err).
			Str("lock_key", key).
			Int64("lock_id", id).
			Str("action", "release_lock_failed").
			Msg("Failed to release advisory lock, session discarded")
		return fmt.Errorf("release lock %s: %w", key, err)
	}

	if !released {
		p.logger.Warn().
			Str("lock_key", key).
			Int64("lock_id", id).
			Str("action", "lock_lost").
			Msg("Advisory lock was no longer held by its session")
	}
	sess.Release()
	return nil
}

// IsLocked probes the key by taking and immediately dropping it
func (p *PostgreSQLLockManager) IsLocked(ctx context.Context, key string) (bool, error) {
	if p.holds(key) {
		return true, nil
	}
	id := lockID(key)

	sess, err := p.sessions.Session(ctx)
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", key, err)
	}

	var free bool
	if err := sess.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&free); err != nil {
		p.discard(sess, key)
		return false, fmt.Errorf("check lock %s: %w", key, err)
	}
	if !free {
		sess.Release()
		return true, nil
	}

	var dropped bool
	if err := sess.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", id).Scan(&dropped); err != nil {
		p.discard(sess, key)
		return false, nil
	}
	sess.Release()
	return false, nil
}

func (p *PostgreSQLLockManager) discard(sess LockSession, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Discard(ctx); err != nil {
		p.logger.Debug().
			Err(err).
			Str("lock_key", key).
			Msg("Closing broken lock session failed")
	}
}
