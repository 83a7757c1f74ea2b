package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type paymentOrderRepository struct {
	db *gorm.DB
}

func (r *paymentOrderRepository) Create(ctx context.Context, order domain.PaymentOrder) error {
	rec := toOrderModel(order)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *paymentOrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (domain.PaymentOrder, error) {
	var rec paymentOrderModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PaymentOrder{}, domain.ErrNotFound
		}
		return domain.PaymentOrder{}, err
	}
	return toDomainOrder(rec), nil
}

func (r *paymentOrderRepository) FindPending(ctx context.Context, accountID uuid.UUID, purpose domain.PaymentPurpose) (*domain.PaymentOrder, error) {
	var rec paymentOrderModel
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("purpose = ?", string(purpose)).
		Where("status = ?", string(domain.PaymentStatusPending)).
		Order("created_at DESC").
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	order := toDomainOrder(rec)
	return &order, nil
}

// FinalizeTx locks the order row, then the account row, and commits the
// decision as one unit. A terminal order short-circuits before decide runs
// so a repeat verification can never re-apply the account mutation. Lock
// order is always order first, account second, on every finalize path.
func (r *paymentOrderRepository) FinalizeTx(ctx context.Context, orderID uuid.UUID, decide func(order domain.PaymentOrder, account domain.Account) (ports.PaymentDecision, error)) (domain.PaymentOrder, bool, error) {
	var (
		result  domain.PaymentOrder
		decided bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var orderRec paymentOrderModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			Take(&orderRec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		order := toDomainOrder(orderRec)
		if order.Terminal() {
			result = order
			return nil
		}

		var accountRec accountModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", order.AccountID).
			Take(&accountRec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		decision, err := decide(order, toDomainAccount(accountRec))
		if err != nil {
			return err
		}
		decided = true

		updated := toOrderModel(decision.Order)
		if err := tx.
			Model(&paymentOrderModel{}).
			Where("order_id = ?", orderID).
			Updates(map[string]any{
				"status":      updated.Status,
				"updated_at":  updated.UpdatedAt,
				"verified_at": updated.VerifiedAt,
			}).Error; err != nil {
			return err
		}
		if err := tx.
			Model(&accountModel{}).
			Where("account_id = ?", order.AccountID).
			Updates(accountUpdates(decision.Account)).Error; err != nil {
			return err
		}
		if err := insertOutboxEvents(tx, decision.Events); err != nil {
			return err
		}

		result = decision.Order
		return nil
	})
	if err != nil {
		return domain.PaymentOrder{}, false, err
	}
	return result, decided, nil
}
