package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredentials hides whether email or password failed.
	// The reason is to prevent account-enumeration side channels.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountSuspended blocks session issuance for suspended accounts.
	// Adapters attach the requires-reactivation signal when mapping it.
	ErrAccountSuspended = errors.New("account suspended")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
	ErrRateLimited      = errors.New("rate limited")
	// ErrOTPMismatch and ErrOTPExpired stay distinct so a typo does not get
	// reported as an expired passcode.
	ErrOTPMismatch = errors.New("passcode does not match")
	ErrOTPExpired  = errors.New("passcode expired")
	// ErrAlreadyVerified stops resend flows for verified accounts.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrReferralCodeExhausted is returned when the bounded code generator
	// runs out of attempts. Surfaced as an internal error; retrying the
	// whole signup is the only recovery.
	ErrReferralCodeExhausted = errors.New("referral code space exhausted")
	// ErrReferralCodeTaken reports a lost race on the referral_code unique
	// index. Callers regenerate the code and retry the insert.
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrGatewayUnavailable marks a payment-collector call that timed out or
	// errored before producing a terminal answer. The order stays pending.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrSessionExpired     = errors.New("session expired")
)
