package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
)

// GatewayOrder is the external collector's handle for a created order.
// SessionHandle is opaque to this service; clients pass it to the payment UI.
type GatewayOrder struct {
	Reference     string
	SessionHandle string
}

// GatewayStatus is the collector's answer to a status poll.
type GatewayStatus string

const (
	GatewayStatusSucceeded GatewayStatus = "succeeded"
	GatewayStatusFailed    GatewayStatus = "failed"
	GatewayStatusPending   GatewayStatus = "pending"
)

// PaymentGateway is the external payment-collector client port.
// OrderStatus is the only suspension point in the unlock protocol; callers
// bound it with a context deadline, and a deadline error must surface as an
// error rather than a fabricated terminal status.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, orderID uuid.UUID, amountCents int64, currency string, purpose domain.PaymentPurpose) (GatewayOrder, error)
	OrderStatus(ctx context.Context, reference string) (GatewayStatus, error)
}
