package postgres

import (
	"time"

	"github.com/google/uuid"
)

type accountModel struct {
	AccountID    uuid.UUID `gorm:"column:account_id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"column:email"`
	PasswordHash string    `gorm:"column:password_hash"`
	FirstName    string    `gorm:"column:first_name"`
	LastName     string    `gorm:"column:last_name"`
	Phone        string    `gorm:"column:phone"`
	Role         string    `gorm:"column:role"`

	EmailVerified bool       `gorm:"column:email_verified"`
	Status        string     `gorm:"column:status"`
	EmailOTP      *string    `gorm:"column:email_otp"`
	OTPExpiresAt  *time.Time `gorm:"column:otp_expires_at"`

	ConsecutiveFailedDays int        `gorm:"column:consecutive_failed_days"`
	EligibleForSuspension bool       `gorm:"column:eligible_for_suspension"`
	SuspendedAt           *time.Time `gorm:"column:suspended_at"`
	SuspensionReason      *string    `gorm:"column:suspension_reason"`
	ReactivationFeePaid   bool       `gorm:"column:reactivation_fee_paid"`
	KYCFeePaid            bool       `gorm:"column:kyc_fee_paid"`
	LastEvaluatedDay      *time.Time `gorm:"column:last_evaluated_day"`

	ReferralCode         string     `gorm:"column:referral_code"`
	ReferredBy           *uuid.UUID `gorm:"column:referred_by"`
	ReferralBonusGranted bool       `gorm:"column:referral_bonus_granted"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "accounts" }

type sessionModel struct {
	SessionID      uuid.UUID  `gorm:"column:session_id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID      uuid.UUID  `gorm:"column:account_id"`
	IPAddress      *string    `gorm:"column:ip_address"`
	UserAgent      string     `gorm:"column:user_agent"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	LastActivityAt time.Time  `gorm:"column:last_activity_at"`
	ExpiresAt      time.Time  `gorm:"column:expires_at"`
	RevokedAt      *time.Time `gorm:"column:revoked_at"`
}

func (sessionModel) TableName() string { return "sessions" }

type loginAttemptModel struct {
	ID            int64      `gorm:"column:id;primaryKey"`
	AccountID     *uuid.UUID `gorm:"column:account_id"`
	AttemptAt     time.Time  `gorm:"column:attempt_at"`
	IPAddress     *string    `gorm:"column:ip_address"`
	Status        string     `gorm:"column:status"`
	FailureReason string     `gorm:"column:failure_reason"`
	UserAgent     string     `gorm:"column:user_agent"`
}

func (loginAttemptModel) TableName() string { return "login_attempts" }

// watchTimeModel mirrors the Engagement Tracker's per-day aggregate table.
// This service reads it and never writes it.
type watchTimeModel struct {
	AccountID    uuid.UUID `gorm:"column:account_id;primaryKey"`
	Day          time.Time `gorm:"column:day;primaryKey"`
	TotalSeconds int       `gorm:"column:total_seconds"`
	MetTarget    bool      `gorm:"column:met_target"`
}

func (watchTimeModel) TableName() string { return "watch_time_daily" }

type paymentOrderModel struct {
	OrderID       uuid.UUID  `gorm:"column:order_id;type:uuid;primaryKey"`
	AccountID     uuid.UUID  `gorm:"column:account_id"`
	Purpose       string     `gorm:"column:purpose"`
	AmountCents   int64      `gorm:"column:amount_cents"`
	Currency      string     `gorm:"column:currency"`
	Status        string     `gorm:"column:status"`
	GatewayRef    string     `gorm:"column:gateway_ref"`
	SessionHandle string     `gorm:"column:session_handle"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
	VerifiedAt    *time.Time `gorm:"column:verified_at"`
}

func (paymentOrderModel) TableName() string { return "payment_orders" }

type gatingOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	FirstSeenAt    time.Time  `gorm:"column:first_seen_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (gatingOutboxModel) TableName() string { return "gating_outbox" }
