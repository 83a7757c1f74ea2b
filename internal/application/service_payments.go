package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/ports"
)

// CreatePayment opens a pending order for the given purpose. At most one
// unresolved order may exist per (account, purpose); a second create is a
// conflict, not a new order.
func (s *Service) CreatePayment(ctx context.Context, actor Actor, purpose domain.PaymentPurpose) (CreatePaymentResponse, error) {
	account, err := s.accounts.GetByID(ctx, actor.AccountID)
	if err != nil {
		return CreatePaymentResponse{}, err
	}

	amount, err := s.feeFor(account, purpose)
	if err != nil {
		return CreatePaymentResponse{}, err
	}

	if pending, err := s.orders.FindPending(ctx, actor.AccountID, purpose); err != nil {
		return CreatePaymentResponse{}, err
	} else if pending != nil {
		return CreatePaymentResponse{}, fmt.Errorf("%w: pending %s order already exists", domain.ErrConflict, purpose)
	}

	orderID := uuid.New()
	gatewayOrder, err := s.gateway.CreateOrder(ctx, orderID, amount, s.cfg.Currency, purpose)
	if err != nil {
		return CreatePaymentResponse{}, fmt.Errorf("%w: create order: %v", domain.ErrGatewayUnavailable, err)
	}

	now := s.nowFn()
	order := domain.PaymentOrder{
		OrderID:       orderID,
		AccountID:     actor.AccountID,
		Purpose:       purpose,
		AmountCents:   amount,
		Currency:      s.cfg.Currency,
		Status:        domain.PaymentStatusPending,
		GatewayRef:    gatewayOrder.Reference,
		SessionHandle: gatewayOrder.SessionHandle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return CreatePaymentResponse{}, err
	}

	slog.Default().InfoContext(ctx, "payment order created",
		"service", "M04-Account-Gating-Service",
		"module", "application",
		"layer", "application",
		"operation", "create_payment",
		"outcome", "success",
		"order_id", orderID,
		"purpose", purpose,
		"amount_cents", amount,
	)
	return CreatePaymentResponse{
		OrderID:       orderID,
		AmountCents:   amount,
		Currency:      s.cfg.Currency,
		SessionHandle: gatewayOrder.SessionHandle,
	}, nil
}

// VerifyPayment resolves a pending order against the gateway and applies
// the purpose's account mutation exactly once. An already-verified order
// returns success without re-applying anything; a gateway timeout leaves
// the order pending and retryable.
func (s *Service) VerifyPayment(ctx context.Context, actor Actor, orderID uuid.UUID) (VerifyPaymentResponse, error) {
	existing, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return VerifyPaymentResponse{}, err
	}
	if actor.Role != "admin" && existing.AccountID != actor.AccountID {
		return VerifyPaymentResponse{}, domain.ErrForbidden
	}

	order, decided, err := s.orders.FinalizeTx(ctx, orderID, func(order domain.PaymentOrder, account domain.Account) (ports.PaymentDecision, error) {
		// The gateway poll is the only suspension point; bound it so a
		// stuck collector cannot hold the order row lock indefinitely.
		pollCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayVerifyTimeout)
		defer cancel()

		status, err := s.gateway.OrderStatus(pollCtx, order.GatewayRef)
		if err != nil {
			return ports.PaymentDecision{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}

		now := s.nowFn()
		switch status {
		case ports.GatewayStatusSucceeded:
			order.Status = domain.PaymentStatusVerified
			order.VerifiedAt = timePtr(now)
			order.UpdatedAt = now
			account, events := s.applyUnlock(order, account, now)
			return ports.PaymentDecision{Order: order, Account: account, Events: events}, nil
		case ports.GatewayStatusFailed:
			order.Status = domain.PaymentStatusFailed
			order.UpdatedAt = now
			return ports.PaymentDecision{Order: order, Account: account}, nil
		default:
			// Still pending at the collector: keep ours pending too.
			return ports.PaymentDecision{Order: order, Account: account}, nil
		}
	})
	if err != nil {
		return VerifyPaymentResponse{}, err
	}

	if decided {
		slog.Default().InfoContext(ctx, "payment order resolved",
			"service", "M04-Account-Gating-Service",
			"module", "application",
			"layer", "application",
			"operation", "verify_payment",
			"outcome", "success",
			"order_id", orderID,
			"status", order.Status,
		)
	}
	return VerifyPaymentResponse{
		OrderID:  order.OrderID,
		Status:   order.Status,
		Verified: order.Status == domain.PaymentStatusVerified,
	}, nil
}

// PayReactivationFee is the suspended user's one-call unlock flow: reuse
// or create the reactivation order and attempt to verify it. Gateway
// failure reports success=false rather than an error so the client can
// retry without special cases.
func (s *Service) PayReactivationFee(ctx context.Context, actor Actor) (PayReactivationFeeResponse, error) {
	account, err := s.accounts.GetByID(ctx, actor.AccountID)
	if err != nil {
		return PayReactivationFeeResponse{}, err
	}
	if !account.Suspended() {
		return PayReactivationFeeResponse{}, fmt.Errorf("%w: account is not suspended", domain.ErrConflict)
	}

	pending, err := s.orders.FindPending(ctx, actor.AccountID, domain.PaymentPurposeReactivationFee)
	if err != nil {
		return PayReactivationFeeResponse{}, err
	}

	var orderID uuid.UUID
	var sessionHandle string
	if pending != nil {
		orderID = pending.OrderID
		sessionHandle = pending.SessionHandle
	} else {
		created, err := s.CreatePayment(ctx, actor, domain.PaymentPurposeReactivationFee)
		if err != nil {
			if errors.Is(err, domain.ErrGatewayUnavailable) {
				return PayReactivationFeeResponse{Success: false, Message: "payment gateway unavailable, try again"}, nil
			}
			return PayReactivationFeeResponse{}, err
		}
		orderID = created.OrderID
		sessionHandle = created.SessionHandle
	}

	verified, err := s.VerifyPayment(ctx, actor, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return PayReactivationFeeResponse{
				Success:       false,
				Message:       "payment not confirmed yet, try again",
				OrderID:       orderID,
				SessionHandle: sessionHandle,
			}, nil
		}
		return PayReactivationFeeResponse{}, err
	}

	if !verified.Verified {
		return PayReactivationFeeResponse{
			Success:       false,
			Message:       "payment not completed",
			OrderID:       orderID,
			SessionHandle: sessionHandle,
		}, nil
	}
	return PayReactivationFeeResponse{Success: true, Message: "account reactivated", OrderID: orderID}, nil
}

// feeFor resolves the fixed amount for a purpose and rejects orders that
// no longer make sense for the account's state.
func (s *Service) feeFor(account domain.Account, purpose domain.PaymentPurpose) (int64, error) {
	switch purpose {
	case domain.PaymentPurposeKYCFee:
		if account.KYCFeePaid {
			return 0, fmt.Errorf("%w: kyc fee already paid", domain.ErrConflict)
		}
		return s.cfg.KYCFeeCents, nil
	case domain.PaymentPurposeReactivationFee:
		if !account.Suspended() {
			return 0, fmt.Errorf("%w: account is not suspended", domain.ErrConflict)
		}
		return s.cfg.ReactivationFeeCents, nil
	default:
		return 0, domain.ErrInvalidInput
	}
}

// applyUnlock performs the single account mutation tied to a verified
// order. Exactly one branch runs per purpose.
func (s *Service) applyUnlock(order domain.PaymentOrder, account domain.Account, now time.Time) (domain.Account, []ports.OutboxEvent) {
	switch order.Purpose {
	case domain.PaymentPurposeReactivationFee:
		account.Status = domain.AccountStatusActive
		account.ReactivationFeePaid = true
		account.SuspendedAt = nil
		account.SuspensionReason = nil
		account.ConsecutiveFailedDays = 0
		account.UpdatedAt = now
		return account, []ports.OutboxEvent{
			s.buildEvent(eventTypeAccountReactivated, account.AccountID.String(), map[string]any{
				"account_id":     account.AccountID,
				"order_id":       order.OrderID,
				"reactivated_at": now,
			}),
		}
	case domain.PaymentPurposeKYCFee:
		account.KYCFeePaid = true
		account.UpdatedAt = now
		return account, []ports.OutboxEvent{
			s.buildEvent(eventTypeKYCFeePaid, account.AccountID.String(), map[string]any{
				"account_id": account.AccountID,
				"order_id":   order.OrderID,
				"paid_at":    now,
			}),
		}
	default:
		return account, nil
	}
}
