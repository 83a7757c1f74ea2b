package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
)

// CreateAccountTxParams captures atomic account-creation inputs.
// Referral linkage and the outbox event ride the same transaction so a
// registered account can never exist without its registration signal.
type CreateAccountTxParams struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Role         string
	ReferralCode string
	ReferredBy   *uuid.UUID
	EmailOTP     string
	OTPExpiresAt time.Time
	CreatedAtUTC time.Time
}

// AccountMutation is applied to a row-locked account inside a repository
// transaction. It returns the mutated account plus outbox events to write
// atomically with it. Returning the account unchanged with no events is a
// valid no-op (the lock still serializes concurrent mutators).
type AccountMutation func(account domain.Account) (domain.Account, []OutboxEvent, error)

// AccountRepository defines persistence for the account aggregate.
// UpdateTx is the single mutual-exclusion point for per-account mutation
// paths: OTP verification and engagement evaluation both take the row
// lock through it so concurrent requests serialize per account.
type AccountRepository interface {
	CreateWithOutboxTx(ctx context.Context, params CreateAccountTxParams, event OutboxEvent) (domain.Account, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
	GetByID(ctx context.Context, accountID uuid.UUID) (domain.Account, error)
	GetByReferralCode(ctx context.Context, code string) (domain.Account, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	SetOTP(ctx context.Context, accountID uuid.UUID, otp string, expiresAt, now time.Time) error
	UpdateTx(ctx context.Context, accountID uuid.UUID, mutate AccountMutation) (domain.Account, error)
	// ListEligibleForEvaluation pages active accounts with
	// eligible_for_suspension set, for the daily sweep.
	ListEligibleForEvaluation(ctx context.Context, limit, offset int) ([]uuid.UUID, error)
}

// SessionCreateParams captures metadata required to create a session record.
type SessionCreateParams struct {
	AccountID      uuid.UUID
	IPAddress      string
	UserAgent      string
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// SessionRepository manages persistent session lifecycle. It is separate
// from token parsing so revocation remains source-of-truth driven.
type SessionRepository interface {
	Create(ctx context.Context, params SessionCreateParams) (domain.Session, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (domain.Session, error)
	RevokeByID(ctx context.Context, sessionID uuid.UUID, revokedAt time.Time) error
}

// LoginAttemptRepository stores failed login outcomes for audit.
type LoginAttemptRepository interface {
	Insert(ctx context.Context, attempt domain.LoginAttempt) error
}

// WatchTimeRepository reads the Engagement Tracker's per-day aggregates.
// This service never writes watch time.
type WatchTimeRepository interface {
	GetDay(ctx context.Context, accountID uuid.UUID, day time.Time) (*domain.WatchTimeRecord, error)
}

// PaymentDecision is produced by the verification callback inside
// PaymentOrderRepository.FinalizeTx. Order and account are written in the
// same transaction as one unit.
type PaymentDecision struct {
	Order   domain.PaymentOrder
	Account domain.Account
	Events  []OutboxEvent
}

// PaymentOrderRepository persists payment orders and owns the atomic
// verify-then-mutate step. FinalizeTx locks the order row; if the order is
// already terminal it returns it untouched without invoking decide (the
// at-most-once guarantee). Otherwise decide runs with the locked order and
// account, and its result is committed as one unit. A decide error rolls
// everything back, leaving the order pending. The bool result reports
// whether decide ran on this call.
type PaymentOrderRepository interface {
	Create(ctx context.Context, order domain.PaymentOrder) error
	GetByID(ctx context.Context, orderID uuid.UUID) (domain.PaymentOrder, error)
	FindPending(ctx context.Context, accountID uuid.UUID, purpose domain.PaymentPurpose) (*domain.PaymentOrder, error)
	FinalizeTx(ctx context.Context, orderID uuid.UUID, decide func(order domain.PaymentOrder, account domain.Account) (PaymentDecision, error)) (domain.PaymentOrder, bool, error)
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error and
// claim metadata used by the publish worker.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	FirstSeenAt    time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository stores and claims lifecycle events for the publish worker.
type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken string, reason string, failedAt time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken string, reason string, deadLetteredAt time.Time) error
}
