package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
)

// RateLimit pairs an attempt threshold with its window.
type RateLimit struct {
	Threshold int
	Window    time.Duration
}

type Config struct {
	DefaultRole string
	TokenTTL    time.Duration
	SessionTTL  time.Duration

	OTPTTL    time.Duration
	OTPDigits int

	ReferralCodeLength      int
	ReferralCodeMaxAttempts int

	SuspensionThreshold int
	DailyTargetSeconds  int

	KYCFeeCents           int64
	ReactivationFeeCents  int64
	Currency              string
	GatewayVerifyTimeout  time.Duration
	SweepBatchSize        int

	LoginRateLimit     RateLimit
	SignupRateLimit    RateLimit
	VerifyOTPRateLimit RateLimit
	ResendOTPRateLimit RateLimit
}

// Actor is the authenticated caller context, resolved by the HTTP adapter
// from the session token. Operations receive it explicitly; the engine
// never reaches into a global session container.
type Actor struct {
	AccountID uuid.UUID
	Role      string
	SessionID uuid.UUID
}

type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Phone        string `json:"phone"`
	ReferralCode string `json:"referralCode"`
	IPAddress    string `json:"-"`
}

type SignupResponse struct {
	AccountID            uuid.UUID `json:"accountId"`
	RequiresVerification bool      `json:"requiresVerification"`
}

type LoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

type LoginResponse struct {
	RequiresVerification bool            `json:"requiresVerification,omitempty"`
	Token                string          `json:"token,omitempty"`
	SessionID            uuid.UUID       `json:"sessionId,omitempty"`
	ExpiresIn            int64           `json:"expiresIn,omitempty"`
	Account              *AccountSummary `json:"account,omitempty"`
}

type VerifyOTPRequest struct {
	Email     string `json:"email"`
	OTP       string `json:"otp"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

type ResendOTPRequest struct {
	Email     string `json:"email"`
	IPAddress string `json:"-"`
}

// AccountSummary is the session-facing account projection. It never
// exposes the password hash or stored passcode.
type AccountSummary struct {
	AccountID     uuid.UUID            `json:"accountId"`
	Email         string               `json:"email"`
	FirstName     string               `json:"firstName"`
	LastName      string               `json:"lastName"`
	Role          string               `json:"role"`
	EmailVerified bool                 `json:"emailVerified"`
	AccountStatus domain.AccountStatus `json:"accountStatus"`
	ReferralCode  string               `json:"referralCode"`
	KYCFeePaid    bool                 `json:"kycFeePaid"`
}

type SuspensionStatus struct {
	AccountStatus         domain.AccountStatus   `json:"accountStatus"`
	State                 domain.EngagementState `json:"state"`
	ConsecutiveFailedDays int                    `json:"consecutiveFailedDays"`
	EligibleForSuspension bool                   `json:"eligibleForSuspension"`
	SuspendedAt           *time.Time             `json:"suspendedAt,omitempty"`
	SuspensionReason      *string                `json:"suspensionReason,omitempty"`
	ReactivationFeeCents  int64                  `json:"reactivationFeeCents,omitempty"`
	ReactivationFeePaid   bool                   `json:"reactivationFeePaid"`
}

type CreatePaymentResponse struct {
	OrderID       uuid.UUID `json:"orderId"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	SessionHandle string    `json:"sessionHandle"`
}

type VerifyPaymentResponse struct {
	OrderID  uuid.UUID                 `json:"orderId"`
	Status   domain.PaymentOrderStatus `json:"status"`
	Verified bool                      `json:"verified"`
}

type PayReactivationFeeResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	OrderID       uuid.UUID `json:"orderId,omitempty"`
	SessionHandle string    `json:"sessionHandle,omitempty"`
}

// EvaluationResult reports what a single (account, day) evaluation did.
type EvaluationResult struct {
	AccountID uuid.UUID
	Day       time.Time
	Applied   bool
	MetTarget bool
	Streak    int
	State     domain.EngagementState
	Suspended bool
}

// SweepStats aggregates one daily sweep run.
type SweepStats struct {
	Evaluated int
	Skipped   int
	Suspended int
	Failed    int
}
