package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"gorm.io/gorm"
)

func toDomainAccount(row accountModel) domain.Account {
	return domain.Account{
		AccountID:    row.AccountID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		FirstName:    row.FirstName,
		LastName:     row.LastName,
		Phone:        row.Phone,
		Role:         row.Role,

		EmailVerified: row.EmailVerified,
		Status:        domain.AccountStatus(row.Status),
		EmailOTP:      row.EmailOTP,
		OTPExpiresAt:  row.OTPExpiresAt,

		ConsecutiveFailedDays: row.ConsecutiveFailedDays,
		EligibleForSuspension: row.EligibleForSuspension,
		SuspendedAt:           row.SuspendedAt,
		SuspensionReason:      row.SuspensionReason,
		ReactivationFeePaid:   row.ReactivationFeePaid,
		KYCFeePaid:            row.KYCFeePaid,
		LastEvaluatedDay:      row.LastEvaluatedDay,

		ReferralCode:         row.ReferralCode,
		ReferredBy:           row.ReferredBy,
		ReferralBonusGranted: row.ReferralBonusGranted,

		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// accountUpdates flattens the mutable account columns for a row-locked
// write-back. Identity and creation columns are never touched.
func accountUpdates(acc domain.Account) map[string]any {
	return map[string]any{
		"email_verified":          acc.EmailVerified,
		"status":                  string(acc.Status),
		"email_otp":               acc.EmailOTP,
		"otp_expires_at":          acc.OTPExpiresAt,
		"consecutive_failed_days": acc.ConsecutiveFailedDays,
		"eligible_for_suspension": acc.EligibleForSuspension,
		"suspended_at":            acc.SuspendedAt,
		"suspension_reason":       acc.SuspensionReason,
		"reactivation_fee_paid":   acc.ReactivationFeePaid,
		"kyc_fee_paid":            acc.KYCFeePaid,
		"last_evaluated_day":      acc.LastEvaluatedDay,
		"referral_bonus_granted":  acc.ReferralBonusGranted,
		"updated_at":              acc.UpdatedAt,
	}
}

func toDomainSession(row sessionModel) domain.Session {
	ip := ""
	if row.IPAddress != nil {
		ip = *row.IPAddress
	}
	return domain.Session{
		SessionID:      row.SessionID,
		AccountID:      row.AccountID,
		IPAddress:      ip,
		UserAgent:      row.UserAgent,
		CreatedAt:      row.CreatedAt,
		LastActivityAt: row.LastActivityAt,
		ExpiresAt:      row.ExpiresAt,
		RevokedAt:      row.RevokedAt,
	}
}

func toDomainWatchTime(row watchTimeModel) domain.WatchTimeRecord {
	return domain.WatchTimeRecord{
		AccountID:    row.AccountID,
		Day:          row.Day,
		TotalSeconds: row.TotalSeconds,
		MetTarget:    row.MetTarget,
	}
}

func toDomainOrder(row paymentOrderModel) domain.PaymentOrder {
	return domain.PaymentOrder{
		OrderID:       row.OrderID,
		AccountID:     row.AccountID,
		Purpose:       domain.PaymentPurpose(row.Purpose),
		AmountCents:   row.AmountCents,
		Currency:      row.Currency,
		Status:        domain.PaymentOrderStatus(row.Status),
		GatewayRef:    row.GatewayRef,
		SessionHandle: row.SessionHandle,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		VerifiedAt:    row.VerifiedAt,
	}
}

func toOrderModel(order domain.PaymentOrder) paymentOrderModel {
	return paymentOrderModel{
		OrderID:       order.OrderID,
		AccountID:     order.AccountID,
		Purpose:       string(order.Purpose),
		AmountCents:   order.AmountCents,
		Currency:      order.Currency,
		Status:        string(order.Status),
		GatewayRef:    order.GatewayRef,
		SessionHandle: order.SessionHandle,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
		VerifiedAt:    order.VerifiedAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// uniqueViolation reports whether err is a unique-constraint violation and,
// when the driver exposes it, which constraint was hit. gorm's TranslateError
// collapses the pg error into ErrDuplicatedKey, so the raw pgconn error is
// checked first to keep the constraint name.
func uniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", true
	}
	return "", false
}
