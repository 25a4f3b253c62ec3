// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects the access token issued after a successful identification.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// FailureRecord is the per-user failure state kept by the tracker.
// A record exists only for users with at least one unreset, unexpired failure.
type FailureRecord struct {
	UserID       string
	FailureCount int
	LastFailure  time.Time
	LockedUntil  time.Time // zero for the in-memory variant (lock is derived)
}

// LockStatus is the externally visible lockout state for a user.
type LockStatus struct {
	UserID             string `json:"user_id"`
	Locked             bool   `json:"locked"`
	RemainingAttempts  int    `json:"remaining_attempts"`   // UnlimitedAttempts sentinel when lockout is disabled
	MinutesUntilExpiry int    `json:"minutes_until_expiry"` // minutes until the record expires or the lock releases
}

// Attempt outcome values stored in the attempt log.
const (
	OutcomeSuccess       = "success"
	OutcomeNotRecognized = "not_recognized"
	OutcomeLocked        = "locked"
)

// Attempt is one identify attempt recorded for post-mortem inspection.
// Raw client IPs are never stored, only their SHA-256 hash.
type Attempt struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	Outcome    string    `json:"outcome"`
	Confidence float64   `json:"confidence"`
	IPHash     []byte    `json:"ip_hash,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdentifyResult is the outcome of one identification request.
// On lockout or recognition failure the lock metadata is still populated so
// transports can report remaining attempts to the caller.
type IdentifyResult struct {
	UserID             string
	Recognized         bool
	Confidence         float64
	Tokens             Tokens
	Locked             bool
	RemainingAttempts  int
	MinutesUntilExpiry int
}
