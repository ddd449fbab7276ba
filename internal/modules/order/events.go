// README: Inbound lifecycle events accepted by the engine.
package order

import "restaurantbot/internal/types"

type Event interface {
	Name() string
}

// AdminStatusChange moves the order status along AllowedTransitions.
type AdminStatusChange struct {
	Target Status
	Reason string
	Actor  string
}

// PaymentVerified is the client-side checkout confirmation after signature check.
type PaymentVerified struct {
	GatewayOrderID string
	PaymentRef     string
	Method         PaymentMethod
}

type WebhookKind string

const (
	WebhookCaptured WebhookKind = "payment.captured"
	WebhookFailed   WebhookKind = "payment.failed"
)

type PaymentWebhook struct {
	Kind           WebhookKind
	GatewayOrderID string
	PaymentRef     string
	Method         PaymentMethod
	Reason         string
}

type RefundApproved struct {
	By string
}

type RefundRejected struct {
	By     string
	Reason string
}

type DeliveryAssigned struct {
	PartnerID   string
	PartnerName string
}

// RefundAttemptSucceeded and RefundAttemptFailed are emitted by the refund executor.
type RefundAttemptSucceeded struct {
	RefundID string
	Amount   types.Money
}

type RefundAttemptFailed struct {
	Reason string
}

func (AdminStatusChange) Name() string      { return "admin_status_change" }
func (PaymentVerified) Name() string        { return "payment_verified" }
func (PaymentWebhook) Name() string         { return "payment_webhook" }
func (RefundApproved) Name() string         { return "refund_approved" }
func (RefundRejected) Name() string         { return "refund_rejected" }
func (DeliveryAssigned) Name() string       { return "delivery_assigned" }
func (RefundAttemptSucceeded) Name() string { return "refund_succeeded" }
func (RefundAttemptFailed) Name() string    { return "refund_failed" }
