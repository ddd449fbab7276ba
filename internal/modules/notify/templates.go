// README: Notification templates rendered with text/template.
package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

const (
	TemplateOrderPlaced     = "order_placed"
	TemplateOrderConfirmed  = "order_confirmed"
	TemplateOrderStatus     = "order_status"
	TemplateOrderDelivered  = "order_delivered"
	TemplateOrderReceipt    = "order_receipt"
	TemplateOrderCancelled  = "order_cancelled"
	TemplatePaymentFailed   = "payment_failed"
	TemplateRefundCompleted = "refund_completed"
	TemplateRefundDelayed   = "refund_delayed"
	TemplateRefundRejected  = "refund_rejected"
	TemplateRefundFailedOps = "refund_failed_ops"
	TemplateNewOrderOps     = "new_order_ops"
	TemplatePartnerAssigned = "partner_assigned"
)

type tmpl struct {
	title *template.Template
	body  *template.Template
}

type Templates struct {
	byName map[string]tmpl
}

var defaultTemplates = map[string][2]string{
	TemplateOrderPlaced:     {"Order received", "Hi {{.name}}, we received order {{.code}} for Rs {{.total}}. We will confirm it shortly."},
	TemplateOrderConfirmed:  {"Order confirmed", "Hi {{.name}}, your order {{.code}} is confirmed. Total Rs {{.total}}."},
	TemplateOrderStatus:     {"Order update", "Order {{.code}} is now {{.status}}."},
	TemplateOrderDelivered:  {"Order delivered", "Order {{.code}} has been delivered. Enjoy your meal!"},
	TemplateOrderReceipt:    {"Receipt for {{.code}}", "Thank you {{.name}}.\nOrder {{.code}}\nItems: {{.items}}\nTotal paid: Rs {{.total}}"},
	TemplateOrderCancelled:  {"Order cancelled", "Order {{.code}} was cancelled.{{if .refund}} A refund of Rs {{.total}} has been initiated.{{end}}"},
	TemplatePaymentFailed:   {"Payment failed", "Payment for order {{.code}} failed. Please try again."},
	TemplateRefundCompleted: {"Refund processed", "Your refund of Rs {{.amount}} for order {{.code}} has been processed (ref {{.refund_id}})."},
	TemplateRefundDelayed:   {"Refund update", "We could not complete the refund for order {{.code}} yet. Our team will contact you."},
	TemplateRefundRejected:  {"Refund update", "The refund request for order {{.code}} was declined. {{.reason}}"},
	TemplateRefundFailedOps: {"Refund failed", "Refund for {{.code}} failed: {{.reason}}"},
	TemplateNewOrderOps:     {"New order", "New {{.service}} order {{.code}} for Rs {{.total}}"},
	TemplatePartnerAssigned: {"New delivery", "Order {{.code}} assigned to you. Deliver to {{.address}}"},
}

func DefaultTemplates() *Templates {
	t, err := NewTemplates(defaultTemplates)
	if err != nil {
		panic(err)
	}
	return t
}

func NewTemplates(defs map[string][2]string) (*Templates, error) {
	out := &Templates{byName: make(map[string]tmpl, len(defs))}
	for name, def := range defs {
		title, err := template.New(name + ".title").Option("missingkey=zero").Parse(def[0])
		if err != nil {
			return nil, fmt.Errorf("parse %s title: %w", name, err)
		}
		body, err := template.New(name + ".body").Option("missingkey=zero").Parse(def[1])
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", name, err)
		}
		out.byName[name] = tmpl{title: title, body: body}
	}
	return out, nil
}

func (t *Templates) Render(name string, params map[string]string) (Message, error) {
	tp, ok := t.byName[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", name)
	}
	if params == nil {
		params = map[string]string{}
	}
	var title, body bytes.Buffer
	if err := tp.title.Execute(&title, params); err != nil {
		return Message{}, err
	}
	if err := tp.body.Execute(&body, params); err != nil {
		return Message{}, err
	}
	return Message{Template: name, Title: title.String(), Body: body.String(), Data: params}, nil
}
