// README: Pure lifecycle engine; validates an event against the status triple and declares effects.
package order

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"restaurantbot/internal/modules/notify"
	"restaurantbot/internal/types"
)

type Engine struct {
	Location    *time.Location
	RefundDelay time.Duration
	AdminTopic  string
}

func NewEngine(loc *time.Location, refundDelay time.Duration, adminTopic string) Engine {
	if loc == nil {
		loc = time.UTC
	}
	if adminTopic == "" {
		adminTopic = "admin"
	}
	return Engine{Location: loc, RefundDelay: refundDelay, AdminTopic: adminTopic}
}

// Apply never mutates cur. On error the zero Transition is returned.
func (e Engine) Apply(cur Order, ev Event, now time.Time) (Transition, error) {
	o := cur.Clone()
	b := &builder{o: &o, now: now}

	var err error
	switch ev := ev.(type) {
	case AdminStatusChange:
		err = e.adminStatus(b, ev)
	case PaymentVerified:
		err = e.paymentCaptured(b, ev.GatewayOrderID, ev.PaymentRef, ev.Method)
	case PaymentWebhook:
		switch ev.Kind {
		case WebhookCaptured:
			err = e.paymentCaptured(b, ev.GatewayOrderID, ev.PaymentRef, ev.Method)
		case WebhookFailed:
			err = e.paymentFailed(b, ev)
		default:
			err = invalid(cur, ev, "unsupported webhook "+string(ev.Kind))
		}
	case RefundApproved:
		err = e.refundApproved(b, ev)
	case RefundRejected:
		err = e.refundRejected(b, ev)
	case DeliveryAssigned:
		err = e.assign(b, ev)
	case RefundAttemptSucceeded:
		err = e.refundSucceeded(b, ev)
	case RefundAttemptFailed:
		err = e.refundFailed(b, ev)
	default:
		err = fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}
	if err != nil {
		return Transition{}, err
	}
	o.UpdatedAt = now
	return Transition{Order: o, Effects: b.effects}, nil
}

func invalid(o Order, ev Event, why string) error {
	return fmt.Errorf("%w: %s on %s (%s/%s/%s): %s", ErrInvalidTransition, ev.Name(), o.Code,
		o.Status, o.Payment.Status, o.Refund.Status, why)
}

func (e Engine) adminStatus(b *builder, ev AdminStatusChange) error {
	o := b.o
	if !CanTransition(o.Status, ev.Target) {
		return invalid(*o, ev, "not allowed from "+string(o.Status))
	}
	switch ev.Target {
	case StatusConfirmed:
		if o.Payment.Status != PaymentPaid && !(o.IsCOD() && o.Payment.Status == PaymentPending) {
			return invalid(*o, ev, "online order is not paid")
		}
	case StatusOutForDelivery:
		if o.ServiceType != ServiceDelivery {
			return invalid(*o, ev, "not a delivery order")
		}
	case StatusCancelled:
		if o.Refund.Status != RefundNone {
			return invalid(*o, ev, "refund already in progress")
		}
	}

	o.Status = ev.Target
	msg := statusMessage(ev.Target)
	if ev.Reason != "" {
		msg += ": " + ev.Reason
	}
	b.track(ev.Target, msg)

	switch ev.Target {
	case StatusDelivered:
		o.DeliveredAt = &b.now
		if o.IsCOD() && o.ServiceType != ServicePickup && o.Payment.Status == PaymentPending {
			b.setPaid("Cash collected on delivery")
		}
		b.terminal()
		if o.Payment.Status == PaymentPaid {
			b.revenue(o.Total, types.DayKey(b.now, e.Location))
		}
		b.ledger(BucketDelivered)
		b.notifyCustomer(notify.ChannelWhatsApp, notify.TemplateOrderDelivered)
		if o.Customer.Email != "" && o.Payment.Status == PaymentPaid {
			b.notifyEmail(notify.TemplateOrderReceipt)
		}
	case StatusCancelled:
		refund := false
		switch {
		case o.Payment.Status == PaymentPaid && o.Payment.PaymentRef != nil:
			refund = true
			amount := o.Total
			o.Refund.Status = RefundPending
			o.Refund.Amount = &amount
			o.Refund.RequestedAt = &b.now
			if ev.Reason != "" {
				reason := ev.Reason
				o.Refund.Reason = &reason
			}
			o.Payment.Status = PaymentRefundProcessing
			b.track(StatusCancelled, "Refund of Rs "+amount.String()+" initiated")
			b.add(Effect{Kind: EffectScheduleRefund, Delay: e.RefundDelay})
		case o.Payment.Status == PaymentPending:
			o.Payment.Status = PaymentCancelled
		}
		b.terminal()
		b.ledger(BucketCancelled)
		params := b.params()
		if refund {
			params["refund"] = "true"
		}
		b.notifyWith(notify.ChannelWhatsApp, o.Customer.Phone, notify.TemplateOrderCancelled, params)
	case StatusConfirmed:
		b.ledger(o.EntryBucket())
		b.notifyCustomer(notify.ChannelWhatsApp, notify.TemplateOrderConfirmed)
	default:
		b.ledger(o.EntryBucket())
		b.notifyCustomer(notify.ChannelWhatsApp, notify.TemplateOrderStatus)
	}
	return nil
}

func (e Engine) paymentCaptured(b *builder, gatewayOrderID, paymentRef string, method PaymentMethod) error {
	o := b.o
	ev := PaymentVerified{GatewayOrderID: gatewayOrderID, PaymentRef: paymentRef, Method: method}
	if paymentRef == "" {
		return invalid(*o, ev, "missing payment reference")
	}
	if o.Status != StatusPending {
		return invalid(*o, ev, "order is not awaiting payment")
	}
	if o.Payment.Status != PaymentPending && o.Payment.Status != PaymentFailed {
		return invalid(*o, ev, "payment already "+string(o.Payment.Status))
	}
	if gatewayOrderID != "" && o.Payment.GatewayOrderID != nil && *o.Payment.GatewayOrderID != gatewayOrderID {
		return invalid(*o, ev, "gateway order mismatch")
	}

	if gatewayOrderID != "" {
		o.Payment.GatewayOrderID = &gatewayOrderID
	}
	o.Payment.PaymentRef = &paymentRef
	if method.Valid() && method != MethodCOD {
		o.Payment.Method = method
	}
	b.setPaid("Payment received")
	o.Status = StatusConfirmed
	b.track(StatusConfirmed, statusMessage(StatusConfirmed))
	b.ledger(o.EntryBucket())
	b.notifyCustomer(notify.ChannelWhatsApp, notify.TemplateOrderConfirmed)
	return nil
}

func (e Engine) paymentFailed(b *builder, ev PaymentWebhook) error {
	o := b.o
	if o.Status != StatusPending || o.Payment.Status != PaymentPending {
		return invalid(*o, ev, "payment is not pending")
	}
	o.Payment.Status = PaymentFailed
	msg := "Payment failed"
	if ev.Reason != "" {
		msg += ": " + ev.Reason
	}
	b.track(StatusPending, msg)
	b.notifyCustomer(notify.ChannelWhatsApp, notify.TemplatePaymentFailed)
	return nil
}

func (e Engine) refundApproved(b *builder, ev RefundApproved) error {
	o := b.o
	if o.Status != StatusCancelled && o.Status != StatusRefundFailed {
		return invalid(*o, ev, "order is not cancelled")
	}
	if o.Refund.Status != RefundPending && o.Refund.Status != RefundFailed {
		return invalid(*o, ev, "no refund awaiting approval")
	}
	if o.Payment.PaymentRef == nil {
		return invalid(*o, ev, "no payment to refund")
	}
	o.Refund.Status = RefundScheduled
	o.Payment.Status = PaymentRefundProcessing
	if o.Status == StatusRefundFailed {
		o.Status = StatusCancelled
		b.terminal()
	}
	msg := "Refund approved"
	if ev.By != "" {
		msg += " by " + ev.By
	}
	b.track(o.Status, msg)
	b.add(Effect{Kind: EffectScheduleRefund, Delay: 0})
	b.ledger(BucketCancelled)
	return nil
}

func (e Engine) refundRejected(b *builder, ev RefundRejected) error {
	o := b.o
	switch o.Refund.Status {
	case RefundPending, RefundScheduled, RefundFailed:
	default:
		return invalid(*o, ev, "no refund to reject")
	}
	if o.Payment.Status != PaymentRefundProcessing && o.Payment.Status != PaymentRefundFailed {
		return invalid(*o, ev, "payment is not in refund")
	}
	o.Refund.Status = RefundStatusRejected
	if ev.Reason != "" {
		reason := ev.Reason
		o.Refund.Reason = &reason
	}
	o.Payment.Status = PaymentPaid
	if o.Status == StatusRefundFailed {
		o.Status = StatusCancelled
		b.terminal()
	}
	msg := "Refund rejected"
	if ev.Reason != "" {
		msg += ": " + ev.Reason
	}
	b.track(o.Status, msg)
	b.add(Effect{Kind: EffectCancelRefund})
	b.ledger(BucketCancelled)
	params := b.params()
	params["reason"] = ev.Reason
	b.notifyWith(notify.ChannelWhatsApp, o.Customer.Phone, notify.TemplateRefundRejected, params)
	return nil
}

func (e Engine) assign(b *builder, ev DeliveryAssigned) error {
	o := b.o
	if ev.PartnerID == "" {
		return invalid(*o, ev, "missing partner")
	}
	if o.ServiceType != ServiceDelivery {
		return invalid(*o, ev, "not a delivery order")
	}
	switch o.Status {
	case StatusConfirmed, StatusPreparing, StatusReady, StatusOutForDelivery:
	default:
		return invalid(*o, ev, "order cannot be assigned in "+string(o.Status))
	}
	partnerID, name := ev.PartnerID, ev.PartnerName
	o.Assignment = Assignment{PartnerID: &partnerID, PartnerName: &name, AssignedAt: &b.now}
	params := b.params()
	params["partner"] = name
	b.notifyWith(notify.ChannelPush, notify.PartnerTopic(partnerID), notify.TemplatePartnerAssigned, params)
	return nil
}

// refundSucceeded accepts a rejected or failed refund too: money already moved at the gateway.
func (e Engine) refundSucceeded(b *builder, ev RefundAttemptSucceeded) error {
	o := b.o
	switch o.Refund.Status {
	case RefundPending, RefundScheduled, RefundFailed, RefundStatusRejected:
	default:
		return invalid(*o, ev, "no refund in progress")
	}
	refundID, amount := ev.RefundID, ev.Amount
	o.Status = StatusRefunded
	o.Payment.Status = PaymentRefunded
	o.Refund.Status = RefundCompleted
	o.Refund.RefundID = &refundID
	o.Refund.Amount = &amount
	o.Refund.CompletedAt = &b.now
	b.terminal()
	b.track(StatusRefunded, fmt.Sprintf("Refund of Rs %s processed (%s)", amount, refundID))
	b.ledger(BucketCancelled)

	params := b.params()
	params["amount"] = amount.String()
	params["refund_id"] = refundID
	b.notifyWith(notify.ChannelWhatsApp, o.Customer.Phone, notify.TemplateRefundCompleted, params)
	if o.Customer.Email != "" {
		b.notifyWith(notify.ChannelEmail, o.Customer.Email, notify.TemplateRefundCompleted, params)
	}
	return nil
}

func (e Engine) refundFailed(b *builder, ev RefundAttemptFailed) error {
	o := b.o
	if o.Refund.Status != RefundPending && o.Refund.Status != RefundScheduled {
		return invalid(*o, ev, "no refund in progress")
	}
	reason := ev.Reason
	if reason == "" {
		reason = "unknown gateway error"
	}
	o.Status = StatusRefundFailed
	o.Payment.Status = PaymentRefundFailed
	o.Refund.Status = RefundFailed
	o.Refund.Reason = &reason
	b.track(StatusRefundFailed, "Refund failed: "+reason)
	b.ledger(BucketCancelled)
	b.notifyCustomer(notify.ChannelWhatsApp, notify.TemplateRefundDelayed)
	params := b.params()
	params["reason"] = reason
	b.notifyWith(notify.ChannelPush, e.AdminTopic, notify.TemplateRefundFailedOps, params)
	return nil
}

func statusMessage(s Status) string {
	switch s {
	case StatusConfirmed:
		return "Order confirmed"
	case StatusPreparing:
		return "Order is being prepared"
	case StatusReady:
		return "Order is ready"
	case StatusOutForDelivery:
		return "Order is out for delivery"
	case StatusDelivered:
		return "Order delivered"
	case StatusCancelled:
		return "Order cancelled"
	}
	return "Status changed to " + string(s)
}

// builder accumulates mutations and effects for a single transition.
type builder struct {
	o       *Order
	now     time.Time
	effects []Effect
}

func (b *builder) add(e Effect) {
	e.OrderCode = b.o.Code
	e.Target = b.o.Status
	b.effects = append(b.effects, e)
}

func (b *builder) track(s Status, msg string) {
	entry := TrackingEntry{Status: s, Message: msg, At: b.now}
	b.o.Tracking = append(b.o.Tracking, entry)
	b.add(Effect{Kind: EffectAppendTracking, Tracking: &entry})
}

func (b *builder) setPaid(msg string) {
	b.o.Payment.Status = PaymentPaid
	b.o.Payment.PaidAt = &b.now
	b.add(Effect{Kind: EffectSetPaymentPaid})
	b.track(b.o.Status, msg)
}

// terminal stamps StatusUpdatedAt, never moving it backwards.
func (b *builder) terminal() {
	if b.o.StatusUpdatedAt == nil || b.now.After(*b.o.StatusUpdatedAt) {
		b.o.StatusUpdatedAt = &b.now
	}
}

func (b *builder) revenue(amount types.Money, day string) {
	b.add(Effect{Kind: EffectUpdateDailyRevenue, Amount: amount, Day: day})
}

func (b *builder) ledger(bucket Bucket) {
	b.add(Effect{Kind: EffectSyncLedger, Bucket: bucket})
}

func (b *builder) params() map[string]string {
	o := b.o
	names := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		names = append(names, it.Name+" x"+strconv.Itoa(it.Quantity))
	}
	return map[string]string{
		"code":    o.Code,
		"name":    o.Customer.Name,
		"total":   o.Total.String(),
		"status":  strings.ReplaceAll(string(o.Status), "_", " "),
		"service": string(o.ServiceType),
		"address": o.Customer.Address,
		"items":   strings.Join(names, ", "),
	}
}

func (b *builder) notifyCustomer(ch notify.Channel, template string) {
	b.notifyWith(ch, b.o.Customer.Phone, template, b.params())
}

func (b *builder) notifyEmail(template string) {
	b.notifyWith(notify.ChannelEmail, b.o.Customer.Email, template, b.params())
}

func (b *builder) notifyWith(ch notify.Channel, recipient, template string, params map[string]string) {
	b.add(Effect{Kind: EffectNotify, Channel: ch, Recipient: recipient, Template: template, Params: params})
}
