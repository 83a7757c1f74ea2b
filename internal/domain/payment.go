package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentPurpose scopes an order to the single account mutation its
// verification is allowed to trigger.
type PaymentPurpose string

const (
	PaymentPurposeKYCFee          PaymentPurpose = "kyc_fee"
	PaymentPurposeReactivationFee PaymentPurpose = "reactivation_fee"
)

// PaymentOrderStatus tracks the order lifecycle. Orders transition from
// pending to exactly one terminal state; the terminal write carries the
// account mutation in the same transaction.
type PaymentOrderStatus string

const (
	PaymentStatusPending  PaymentOrderStatus = "pending"
	PaymentStatusVerified PaymentOrderStatus = "verified"
	PaymentStatusFailed   PaymentOrderStatus = "failed"
)

// PaymentOrder is the unlock-protocol aggregate. GatewayRef is the
// external collector's identifier used for status polling.
type PaymentOrder struct {
	OrderID       uuid.UUID
	AccountID     uuid.UUID
	Purpose       PaymentPurpose
	AmountCents   int64
	Currency      string
	Status        PaymentOrderStatus
	GatewayRef    string
	SessionHandle string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	VerifiedAt    *time.Time
}

// Terminal reports whether the order already reached verified or failed.
func (o PaymentOrder) Terminal() bool {
	return o.Status == PaymentStatusVerified || o.Status == PaymentStatusFailed
}
