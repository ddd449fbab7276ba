// README: Order aggregate, the three status axes and the admin transition table.
package order

import (
	"time"

	"restaurantbot/internal/types"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
	StatusRefundFailed   Status = "refund_failed"
)

// Terminal statuses start the retention clock.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending          PaymentStatus = "pending"
	PaymentPaid             PaymentStatus = "paid"
	PaymentFailed           PaymentStatus = "failed"
	PaymentCancelled        PaymentStatus = "cancelled"
	PaymentRefundProcessing PaymentStatus = "refund_processing"
	PaymentRefunded         PaymentStatus = "refunded"
	PaymentRefundFailed     PaymentStatus = "refund_failed"
)

type RefundStatus string

const (
	RefundNone           RefundStatus = "none"
	RefundPending        RefundStatus = "pending"
	RefundScheduled      RefundStatus = "scheduled"
	RefundCompleted      RefundStatus = "completed"
	RefundStatusRejected RefundStatus = "rejected"
	RefundFailed         RefundStatus = "failed"
)

type PaymentMethod string

const (
	MethodCOD        PaymentMethod = "cod"
	MethodUPI        PaymentMethod = "upi"
	MethodCard       PaymentMethod = "card"
	MethodNetbanking PaymentMethod = "netbanking"
	MethodWallet     PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCOD, MethodUPI, MethodCard, MethodNetbanking, MethodWallet:
		return true
	}
	return false
}

type ServiceType string

const (
	ServiceDelivery ServiceType = "delivery"
	ServicePickup   ServiceType = "pickup"
	ServiceDineIn   ServiceType = "dine_in"
)

func (s ServiceType) Valid() bool {
	return s == ServiceDelivery || s == ServicePickup || s == ServiceDineIn
}

// Bucket is a ledger partition for one lifecycle phase.
type Bucket string

const (
	BucketNew       Bucket = "new"
	BucketDelivered Bucket = "delivered"
	BucketCancelled Bucket = "cancelled"
	BucketSelfPick  Bucket = "selfpick"
)

var Buckets = []Bucket{BucketNew, BucketDelivered, BucketCancelled, BucketSelfPick}

type Customer struct {
	Phone   string `json:"phone"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// LineItem is a priced snapshot copied at placement; catalog edits never reach it.
type LineItem struct {
	CatalogRef *string     `json:"catalog_ref,omitempty"`
	Name       string      `json:"name"`
	Category   string      `json:"category,omitempty"`
	UnitPrice  types.Money `json:"unit_price"`
	Quantity   int         `json:"quantity"`
	Unit       string      `json:"unit,omitempty"`
}

func (li LineItem) Subtotal() types.Money {
	return li.UnitPrice * types.Money(li.Quantity)
}

type TrackingEntry struct {
	Status  Status    `json:"status"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Payment struct {
	Status         PaymentStatus
	Method         PaymentMethod
	GatewayOrderID *string
	PaymentRef     *string
	PaidAt         *time.Time
}

type Refund struct {
	Status      RefundStatus
	Reason      *string
	RefundID    *string
	Amount      *types.Money
	RequestedAt *time.Time
	CompletedAt *time.Time
}

type Assignment struct {
	PartnerID   *string
	PartnerName *string
	AssignedAt  *time.Time
}

type Order struct {
	ID              types.ID
	Code            string
	Customer        Customer
	Items           []LineItem
	Total           types.Money
	ServiceType     ServiceType
	Status          Status
	Payment         Payment
	Refund          Refund
	Assignment      Assignment
	Tracking        []TrackingEntry
	Hidden          bool
	StatusUpdatedAt *time.Time
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int
}

func (o *Order) IsCOD() bool {
	return o.Payment.Method == MethodCOD
}

// EntryBucket is where a freshly confirmed order lands in the ledger.
func (o *Order) EntryBucket() Bucket {
	if o.ServiceType == ServiceDelivery {
		return BucketNew
	}
	return BucketSelfPick
}

// Clone returns a deep copy so the engine never mutates its input.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]LineItem(nil), o.Items...)
	c.Tracking = append([]TrackingEntry(nil), o.Tracking...)
	return c
}

// AllowedTransitions lists admin-driven order status moves. Refund outcomes
// (refunded, refund_failed) are reached only through the refund executor.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusReady, StatusOutForDelivery, StatusDelivered, StatusCancelled},
	StatusPreparing:      {StatusReady, StatusOutForDelivery, StatusDelivered, StatusCancelled},
	StatusReady:          {StatusOutForDelivery, StatusDelivered, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
