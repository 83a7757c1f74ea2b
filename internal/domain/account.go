package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus is the gating state persisted on the account row.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Account is the canonical identity-and-gating aggregate for M04.
// It carries everything the access-gating rules read or mutate so the
// suspension and unlock paths can work on one row-locked record.
type Account struct {
	AccountID    uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Role         string

	EmailVerified bool
	Status        AccountStatus
	EmailOTP      *string
	OTPExpiresAt  *time.Time

	// Engagement/suspension state. EligibleForSuspension is an explicit
	// flag set by the external KYC process, never inferred from other
	// fields, so gating behavior cannot drift silently.
	ConsecutiveFailedDays int
	EligibleForSuspension bool
	SuspendedAt           *time.Time
	SuspensionReason      *string
	ReactivationFeePaid   bool
	KYCFeePaid            bool
	// LastEvaluatedDay is the per-account idempotency watermark for the
	// daily engagement evaluation (UTC date, zero time-of-day).
	LastEvaluatedDay *time.Time

	ReferralCode         string
	ReferredBy           *uuid.UUID
	ReferralBonusGranted bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Suspended reports whether the account is in the suspended gating state.
func (a Account) Suspended() bool {
	return a.Status == AccountStatusSuspended
}

// OTPSet reports whether a passcode/expiry pair is currently stored.
// The invariant is both-set or both-null; this helper keeps checks honest.
func (a Account) OTPSet() bool {
	return a.EmailOTP != nil && a.OTPExpiresAt != nil
}

// Session models a login session issued by M04.
// Persisted separately to support per-device revocation.
type Session struct {
	SessionID      uuid.UUID
	AccountID      uuid.UUID
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
}

// LoginAttempt records failed authentication outcomes for audit.
type LoginAttempt struct {
	ID            int64
	AccountID     *uuid.UUID
	AttemptAt     time.Time
	IPAddress     string
	Status        string
	FailureReason string
	UserAgent     string
}

// WatchTimeRecord is the Engagement Tracker's per-day aggregate.
// This service only reads it; the tracking ingester owns writes.
type WatchTimeRecord struct {
	AccountID    uuid.UUID
	Day          time.Time
	TotalSeconds int
	MetTarget    bool
}
