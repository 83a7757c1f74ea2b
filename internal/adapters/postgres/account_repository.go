package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountRepository struct {
	db *gorm.DB
}

func (r *accountRepository) CreateWithOutboxTx(ctx context.Context, params ports.CreateAccountTxParams, event ports.OutboxEvent) (domain.Account, error) {
	var result domain.Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		otp := params.EmailOTP
		expires := params.OTPExpiresAt
		rec := accountModel{
			Email:                 params.Email,
			PasswordHash:          params.PasswordHash,
			FirstName:             params.FirstName,
			LastName:              params.LastName,
			Phone:                 params.Phone,
			Role:                  params.Role,
			EmailVerified:         false,
			Status:                string(domain.AccountStatusActive),
			EmailOTP:              &otp,
			OTPExpiresAt:          &expires,
			EligibleForSuspension: false,
			ReferralCode:          params.ReferralCode,
			ReferredBy:            params.ReferredBy,
			CreatedAt:             params.CreatedAtUTC,
			UpdatedAt:             params.CreatedAtUTC,
		}
		if err := tx.Create(&rec).Error; err != nil {
			if constraint, ok := uniqueViolation(err); ok {
				// Two unique indexes can fire here. A referral_code race is
				// retryable with a fresh code; a duplicate email is not.
				if strings.Contains(constraint, "referral_code") {
					return domain.ErrReferralCodeTaken
				}
				return domain.ErrConflict
			}
			return err
		}

		payload := event.Payload
		if len(payload) == 0 {
			payload = []byte(`{}`)
		}
		outbox := gatingOutboxModel{
			OutboxID:     event.EventID,
			EventType:    event.EventType,
			PartitionKey: rec.AccountID.String(),
			Payload:      string(payload),
			CreatedAt:    event.OccurredAt,
			FirstSeenAt:  event.OccurredAt,
		}
		if err := tx.Create(&outbox).Error; err != nil {
			return err
		}

		result = toDomainAccount(rec)
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	return result, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("email = ?", email).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, err
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) GetByID(ctx context.Context, accountID uuid.UUID) (domain.Account, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, err
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) GetByReferralCode(ctx context.Context, code string) (domain.Account, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("referral_code = ?", code).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, err
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("referral_code = ?", code).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *accountRepository) SetOTP(ctx context.Context, accountID uuid.UUID, otp string, expiresAt, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"email_otp":      otp,
			"otp_expires_at": expiresAt,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateTx applies the mutation to a row-locked account and writes the
// result plus any outbox events in the same transaction. The row lock is
// the per-account serialization point for every mutation path.
func (r *accountRepository) UpdateTx(ctx context.Context, accountID uuid.UUID, mutate ports.AccountMutation) (domain.Account, error) {
	var result domain.Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec accountModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		mutated, events, err := mutate(toDomainAccount(rec))
		if err != nil {
			return err
		}

		if err := tx.
			Model(&accountModel{}).
			Where("account_id = ?", accountID).
			Updates(accountUpdates(mutated)).Error; err != nil {
			return err
		}
		if err := insertOutboxEvents(tx, events); err != nil {
			return err
		}

		result = mutated
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	return result, nil
}

func (r *accountRepository) ListEligibleForEvaluation(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("eligible_for_suspension = ?", true).
		Where("status = ?", string(domain.AccountStatusActive)).
		Order("account_id ASC").
		Limit(limit).
		Offset(offset).
		Pluck("account_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func insertOutboxEvents(tx *gorm.DB, events []ports.OutboxEvent) error {
	for _, event := range events {
		payload := event.Payload
		if len(payload) == 0 {
			payload = []byte(`{}`)
		}
		rec := gatingOutboxModel{
			OutboxID:     event.EventID,
			EventType:    event.EventType,
			PartitionKey: event.PartitionKey,
			Payload:      string(payload),
			CreatedAt:    event.OccurredAt,
			FirstSeenAt:  event.OccurredAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
	}
	return nil
}
