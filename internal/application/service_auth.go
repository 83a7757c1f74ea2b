package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
)

// Signup creates an unverified account and stores its first OTP in one
// transaction. No session is issued: the caller must prove control of the
// email through VerifyOTP first.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (SignupResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return SignupResponse{}, err
	}
	if ip := strings.TrimSpace(req.IPAddress); ip != "" {
		if err := s.enforceRateLimit(ctx, "signup:ip:"+ip, s.cfg.SignupRateLimit); err != nil {
			return SignupResponse{}, err
		}
	}
	if err := s.enforceRateLimit(ctx, "signup:identifier:"+email, s.cfg.SignupRateLimit); err != nil {
		return SignupResponse{}, err
	}

	if err := domain.ValidatePassword(req.Password); err != nil {
		return SignupResponse{}, err
	}
	if strings.TrimSpace(req.FirstName) == "" {
		return SignupResponse{}, fmt.Errorf("%w: first name is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.LastName) == "" {
		return SignupResponse{}, fmt.Errorf("%w: last name is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Phone) == "" {
		return SignupResponse{}, fmt.Errorf("%w: phone is required", domain.ErrInvalidInput)
	}

	// An unresolvable referral code is silently ignored; only a real
	// account may be linked as referrer.
	var referredBy *uuid.UUID
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referrer, err := s.accounts.GetByReferralCode(ctx, strings.ToUpper(code))
		switch {
		case err == nil:
			id := referrer.AccountID
			referredBy = &id
		case errors.Is(err, domain.ErrNotFound):
		default:
			return SignupResponse{}, err
		}
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return SignupResponse{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFn()
	otp := randomDigits(s.cfg.OTPDigits)
	event := s.buildEvent(eventTypeAccountRegistered, email, map[string]any{
		"email":         email,
		"registered_at": now,
		"referred":      referredBy != nil,
	})

	// The uniqueness pre-check in generateReferralCode does not hold under
	// concurrent signups, so a lost race on the referral_code index is
	// retried here with a fresh code under the same attempt budget.
	attempts := s.cfg.ReferralCodeMaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	var account domain.Account
	for i := 0; ; i++ {
		referralCode, err := s.generateReferralCode(ctx)
		if err != nil {
			return SignupResponse{}, err
		}
		account, err = s.accounts.CreateWithOutboxTx(ctx, ports.CreateAccountTxParams{
			Email:        email,
			PasswordHash: passwordHash,
			FirstName:    strings.TrimSpace(req.FirstName),
			LastName:     strings.TrimSpace(req.LastName),
			Phone:        strings.TrimSpace(req.Phone),
			Role:         s.cfg.DefaultRole,
			ReferralCode: referralCode,
			ReferredBy:   referredBy,
			EmailOTP:     otp,
			OTPExpiresAt: now.Add(s.cfg.OTPTTL),
			CreatedAtUTC: now,
		}, event)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrReferralCodeTaken) && i < attempts-1 {
			continue
		}
		if errors.Is(err, domain.ErrReferralCodeTaken) {
			return SignupResponse{}, domain.ErrReferralCodeExhausted
		}
		return SignupResponse{}, err
	}

	slog.Default().InfoContext(ctx, "account registered",
		"service", "M04-Account-Gating-Service",
		"module", "application",
		"layer", "application",
		"operation", "signup",
		"outcome", "success",
		"account_id", account.AccountID,
	)
	return SignupResponse{AccountID: account.AccountID, RequiresVerification: true}, nil
}

// Login validates credentials and gates session issuance on verification
// and suspension state. Unknown email and wrong password produce the same
// error on purpose.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return LoginResponse{}, err
	}
	if ip := strings.TrimSpace(req.IPAddress); ip != "" {
		if err := s.enforceRateLimit(ctx, "login:ip:"+ip, s.cfg.LoginRateLimit); err != nil {
			return LoginResponse{}, err
		}
	}
	if err := s.enforceRateLimit(ctx, "login:identifier:"+email, s.cfg.LoginRateLimit); err != nil {
		return LoginResponse{}, err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		s.recordLoginFailure(ctx, nil, req, "ACCOUNT_NOT_FOUND")
		return LoginResponse{}, domain.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(account.PasswordHash, req.Password); err != nil {
		s.recordLoginFailure(ctx, &account.AccountID, req, "INVALID_PASSWORD")
		return LoginResponse{}, domain.ErrInvalidCredentials
	}

	if account.Suspended() {
		s.recordLoginFailure(ctx, &account.AccountID, req, "ACCOUNT_SUSPENDED")
		return LoginResponse{}, domain.ErrAccountSuspended
	}

	if !account.EmailVerified {
		// Regenerate rather than resend: a fresh passcode invalidates
		// anything that may have leaked from the earlier attempt.
		now := s.nowFn()
		otp := randomDigits(s.cfg.OTPDigits)
		if err := s.accounts.SetOTP(ctx, account.AccountID, otp, now.Add(s.cfg.OTPTTL), now); err != nil {
			return LoginResponse{}, err
		}
		return LoginResponse{RequiresVerification: true}, nil
	}

	token, session, err := s.issueSession(ctx, account, req.IPAddress, req.UserAgent)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{
		Token:     token,
		SessionID: session.SessionID,
		ExpiresIn: int64(s.cfg.TokenTTL.Seconds()),
		Account:   summarize(account),
	}, nil
}

// VerifyOTP proves control of the email, flips the verified flag, grants
// the referral bonus at most once, and issues the first session. The flag
// flip, passcode clear, and bonus grant commit as one row-locked unit so a
// racing resend or duplicate submit cannot double-grant.
func (s *Service) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (LoginResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return LoginResponse{}, err
	}
	if ip := strings.TrimSpace(req.IPAddress); ip != "" {
		if err := s.enforceRateLimit(ctx, "verify-otp:ip:"+ip, s.cfg.VerifyOTPRateLimit); err != nil {
			return LoginResponse{}, err
		}
	}
	if err := s.enforceRateLimit(ctx, "verify-otp:identifier:"+email, s.cfg.VerifyOTPRateLimit); err != nil {
		return LoginResponse{}, err
	}
	submitted := strings.TrimSpace(req.OTP)
	if submitted == "" {
		return LoginResponse{}, fmt.Errorf("%w: otp is required", domain.ErrInvalidInput)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return LoginResponse{}, err
	}

	now := s.nowFn()
	updated, err := s.accounts.UpdateTx(ctx, account.AccountID, func(acc domain.Account) (domain.Account, []ports.OutboxEvent, error) {
		if acc.EmailVerified {
			return acc, nil, domain.ErrAlreadyVerified
		}
		if !acc.OTPSet() || *acc.EmailOTP != submitted {
			return acc, nil, domain.ErrOTPMismatch
		}
		if now.After(*acc.OTPExpiresAt) {
			return acc, nil, domain.ErrOTPExpired
		}

		acc.EmailVerified = true
		acc.EmailOTP = nil
		acc.OTPExpiresAt = nil
		acc.UpdatedAt = now

		events := []ports.OutboxEvent{
			s.buildEvent(eventTypeAccountVerified, acc.AccountID.String(), map[string]any{
				"account_id":  acc.AccountID,
				"verified_at": now,
			}),
		}
		if acc.ReferredBy != nil && !acc.ReferralBonusGranted {
			acc.ReferralBonusGranted = true
			events = append(events, s.buildEvent(eventTypeReferralBonus, acc.ReferredBy.String(), map[string]any{
				"referrer_id": acc.ReferredBy,
				"referred_id": acc.AccountID,
				"granted_at":  now,
			}))
		}
		return acc, events, nil
	})
	if err != nil {
		return LoginResponse{}, err
	}

	token, session, err := s.issueSession(ctx, updated, req.IPAddress, req.UserAgent)
	if err != nil {
		return LoginResponse{}, err
	}

	slog.Default().InfoContext(ctx, "email verified",
		"service", "M04-Account-Gating-Service",
		"module", "application",
		"layer", "application",
		"operation", "verify_otp",
		"outcome", "success",
		"account_id", updated.AccountID,
	)
	return LoginResponse{
		Token:     token,
		SessionID: session.SessionID,
		ExpiresIn: int64(s.cfg.TokenTTL.Seconds()),
		Account:   summarize(updated),
	}, nil
}

// ResendOTP regenerates the passcode for an unverified account.
func (s *Service) ResendOTP(ctx context.Context, req ResendOTPRequest) error {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return err
	}
	if ip := strings.TrimSpace(req.IPAddress); ip != "" {
		if err := s.enforceRateLimit(ctx, "resend-otp:ip:"+ip, s.cfg.ResendOTPRateLimit); err != nil {
			return err
		}
	}
	if err := s.enforceRateLimit(ctx, "resend-otp:identifier:"+email, s.cfg.ResendOTPRateLimit); err != nil {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return domain.ErrAlreadyVerified
	}

	now := s.nowFn()
	return s.accounts.SetOTP(ctx, account.AccountID, randomDigits(s.cfg.OTPDigits), now.Add(s.cfg.OTPTTL), now)
}

// Logout revokes the caller's current session row.
func (s *Service) Logout(ctx context.Context, actor Actor) error {
	return s.sessions.RevokeByID(ctx, actor.SessionID, s.nowFn())
}

// CheckSession resolves a raw token into the current account summary.
// Invalid, expired, or revoked tokens return (nil, nil): the check
// endpoint reports "no user" rather than an error.
func (s *Service) CheckSession(ctx context.Context, token string) (*AccountSummary, error) {
	actor, err := s.ResolveActor(ctx, token)
	if err != nil {
		return nil, nil
	}
	account, err := s.accounts.GetByID(ctx, actor.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return summarize(account), nil
}

// AccountAccess returns the gating-relevant projection of one account for
// mesh-internal callers.
func (s *Service) AccountAccess(ctx context.Context, accountID uuid.UUID) (*AccountSummary, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return summarize(account), nil
}

// ResolveActor validates the token signature, expiry, and session state.
func (s *Service) ResolveActor(ctx context.Context, token string) (Actor, error) {
	claims, err := s.tokenSigner.ParseAndValidate(token)
	if err != nil {
		return Actor{}, domain.ErrUnauthorized
	}
	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return Actor{}, domain.ErrUnauthorized
	}
	now := s.nowFn()
	if session.RevokedAt != nil {
		return Actor{}, domain.ErrSessionRevoked
	}
	if now.After(session.ExpiresAt) {
		return Actor{}, domain.ErrSessionExpired
	}
	return Actor{AccountID: claims.AccountID, Role: claims.Role, SessionID: claims.SessionID}, nil
}

func (s *Service) issueSession(ctx context.Context, account domain.Account, ip, userAgent string) (string, domain.Session, error) {
	now := s.nowFn()
	session, err := s.sessions.Create(ctx, ports.SessionCreateParams{
		AccountID:      account.AccountID,
		IPAddress:      ip,
		UserAgent:      userAgent,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
		LastActivityAt: now,
	})
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	token, err := s.tokenSigner.Sign(ports.AuthClaims{
		AccountID: account.AccountID,
		Email:     account.Email,
		Role:      account.Role,
		SessionID: session.SessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	})
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("sign token: %w", err)
	}
	return token, session, nil
}
