package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no (active) credential exists for the tenant/provider pair
	ErrNotFound = errors.New("credentials: not found")
	// ErrNoRefreshToken means the access token expired and nothing can renew it
	ErrNoRefreshToken = errors.New("credentials: no refresh token stored")
	// ErrReauthRequired is terminal: the refresh token itself expired and the
	// integration was deactivated until someone re-authenticates
	ErrReauthRequired = errors.New("credentials: re-authentication required")
	// ErrDeactivated is terminal: too many consecutive refresh failures
	ErrDeactivated = errors.New("credentials: integration deactivated")
	// ErrDecryptionFailed means stored ciphertext could not be opened
	ErrDecryptionFailed = errors.New("credentials: decryption failed")
	// ErrRefreshFailed is transient; the next scheduled run may retry
	ErrRefreshFailed = errors.New("credentials: token refresh failed")
	// ErrInvalidInput rejects malformed save requests
	ErrInvalidInput = errors.New("credentials: invalid input")
)

// IsTerminal reports whether err means the integration must not be retried
// until a human re-authenticates it.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrReauthRequired) || errors.Is(err, ErrDeactivated)
}

// RefreshError carries the sanitized provider failure and the consecutive failure count
type RefreshError struct {
	TenantID   string
	Provider   string
	ErrorCount int
	Message    string
	terminal   bool
}

func (e *RefreshError) Error() string {
	if e.terminal {
		return fmt.Sprintf("integration %s for tenant %s deactivated after %d consecutive refresh failures: %s",
			e.Provider, e.TenantID, e.ErrorCount, e.Message)
	}
	return fmt.Sprintf("token refresh for %s (tenant %s) failed, attempt %d: %s",
		e.Provider, e.TenantID, e.ErrorCount, e.Message)
}

// Unwrap ties the error to the taxonomy. The provider error itself is never
// wrapped since it may carry secrets; only its sanitized text is kept.
func (e *RefreshError) Unwrap() error {
	if e.terminal {
		return ErrDeactivated
	}
	return ErrRefreshFailed
}
