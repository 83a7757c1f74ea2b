package application

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
)

// normalizeEmail canonicalizes and validates email format before persistence/comparison.
func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%w: invalid email", domain.ErrInvalidInput)
	}
	return trimmed, nil
}

// randomDigits returns a zero-padded cryptographically random numeric code.
func randomDigits(size int) string {
	if size <= 0 {
		size = 6
	}
	max := 1
	for i := 0; i < size; i++ {
		max *= 10
	}
	raw := make([]byte, 4)
	_, _ = rand.Read(raw)
	n := int(raw[0])<<24 | int(raw[1])<<16 | int(raw[2])<<8 | int(raw[3])
	if n < 0 {
		n = -n
	}
	return fmt.Sprintf("%0*d", size, n%max)
}

// randomReferralCode returns an upper-case base32 code of the given length.
func randomReferralCode(length int) string {
	if length <= 0 {
		length = 8
	}
	raw := make([]byte, length)
	_, _ = rand.Read(raw)
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return code[:length]
}

// generateReferralCode is the bounded-retry uniqueness loop: generate,
// check against the store, retry up to the configured attempt budget.
// Exhaustion is an explicit failure rather than an open-ended spin.
func (s *Service) generateReferralCode(ctx context.Context) (string, error) {
	attempts := s.cfg.ReferralCodeMaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	for i := 0; i < attempts; i++ {
		code := randomReferralCode(s.cfg.ReferralCodeLength)
		exists, err := s.accounts.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", domain.ErrReferralCodeExhausted
}

// enforceRateLimit counts this attempt and rejects when the window budget
// is exceeded. A store outage degrades open with a warn log: availability
// of login beats strict limiting when Redis is down.
func (s *Service) enforceRateLimit(ctx context.Context, key string, limit RateLimit) error {
	if s.rates == nil || limit.Threshold <= 0 || limit.Window <= 0 {
		return nil
	}
	if strings.TrimSpace(key) == "" {
		return nil
	}

	count, err := s.rates.Increment(ctx, key, limit.Window)
	if err != nil {
		slog.Default().WarnContext(ctx, "rate-limit state unavailable",
			"service", "M04-Account-Gating-Service",
			"module", "application",
			"layer", "application",
			"operation", "rate_limit",
			"outcome", "warning",
			"key", key,
			"error", err,
		)
		return nil
	}
	if count > int64(limit.Threshold) {
		return domain.ErrRateLimited
	}
	return nil
}

// recordLoginFailure stores failed login context for audit.
func (s *Service) recordLoginFailure(ctx context.Context, accountID *uuid.UUID, req LoginRequest, reason string) {
	if err := s.loginAttempts.Insert(ctx, domain.LoginAttempt{
		AccountID:     accountID,
		AttemptAt:     s.nowFn(),
		IPAddress:     req.IPAddress,
		Status:        "FAILED",
		FailureReason: reason,
		UserAgent:     req.UserAgent,
	}); err != nil {
		slog.Default().WarnContext(ctx, "failed to persist login attempt",
			"service", "M04-Account-Gating-Service",
			"module", "application",
			"layer", "application",
			"operation", "record_login_failure",
			"outcome", "failure",
			"reason", reason,
			"error", err,
		)
	}
}

// buildEvent packages a lifecycle event for the outbox.
func (s *Service) buildEvent(eventType, partitionKey string, body map[string]any) ports.OutboxEvent {
	payload, _ := json.Marshal(body)
	return ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		OccurredAt:   s.nowFn(),
	}
}

func summarize(account domain.Account) *AccountSummary {
	return &AccountSummary{
		AccountID:     account.AccountID,
		Email:         account.Email,
		FirstName:     account.FirstName,
		LastName:      account.LastName,
		Role:          account.Role,
		EmailVerified: account.EmailVerified,
		AccountStatus: account.Status,
		ReferralCode:  account.ReferralCode,
		KYCFeePaid:    account.KYCFeePaid,
	}
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
