// README: Ledger contract and the row layout mirrored into every bucket tab.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurantbot/internal/modules/order"
)

var ErrLedgerSync = errors.New("ledger sync failed")

// Ledger is keyed by order code; row positions are never relied upon by callers.
type Ledger interface {
	// UpsertRow reports true when the row was appended rather than updated in place.
	UpsertRow(ctx context.Context, bucket order.Bucket, code string, row Row) (bool, error)
	FindRow(ctx context.Context, bucket order.Bucket, code string) (*Row, error)
	// MoveRow reports false when from holds no row for code.
	MoveRow(ctx context.Context, from, to order.Bucket, code string) (bool, error)
	// DeleteRow reports false when bucket holds no row for code.
	DeleteRow(ctx context.Context, bucket order.Bucket, code string) (bool, error)
}

// Header is written to row 1 of each tab.
var Header = []string{
	"Order Code", "Placed At", "Customer", "Phone", "Address", "Items",
	"Total (INR)", "Service", "Payment Method", "Payment Status", "Status", "Refund Status", "Updated At",
}

const lastColumn = "M"

type Row struct {
	Code          string
	PlacedAt      string
	Customer      string
	Phone         string
	Address       string
	Items         string
	Total         string
	Service       string
	Method        string
	PaymentStatus string
	Status        string
	RefundStatus  string
	UpdatedAt     string
}

func (r Row) Values() []any {
	return []any{
		r.Code, r.PlacedAt, r.Customer, r.Phone, r.Address, r.Items,
		r.Total, r.Service, r.Method, r.PaymentStatus, r.Status, r.RefundStatus, r.UpdatedAt,
	}
}

func RowFromValues(vals []any) Row {
	get := func(i int) string {
		if i >= len(vals) || vals[i] == nil {
			return ""
		}
		return fmt.Sprint(vals[i])
	}
	return Row{
		Code:          get(0),
		PlacedAt:      get(1),
		Customer:      get(2),
		Phone:         get(3),
		Address:       get(4),
		Items:         get(5),
		Total:         get(6),
		Service:       get(7),
		Method:        get(8),
		PaymentStatus: get(9),
		Status:        get(10),
		RefundStatus:  get(11),
		UpdatedAt:     get(12),
	}
}

const stampLayout = "2006-01-02 15:04"

func RowFromOrder(o order.Order, loc *time.Location) Row {
	if loc == nil {
		loc = time.UTC
	}
	items := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, fmt.Sprintf("%s x%d", it.Name, it.Quantity))
	}
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = o.CreatedAt
	}
	return Row{
		Code:          o.Code,
		PlacedAt:      o.CreatedAt.In(loc).Format(stampLayout),
		Customer:      o.Customer.Name,
		Phone:         o.Customer.Phone,
		Address:       o.Customer.Address,
		Items:         strings.Join(items, ", "),
		Total:         o.Total.Rupees().StringFixed(2),
		Service:       string(o.ServiceType),
		Method:        strings.ToUpper(string(o.Payment.Method)),
		PaymentStatus: string(o.Payment.Status),
		Status:        string(o.Status),
		RefundStatus:  string(o.Refund.Status),
		UpdatedAt:     updated.In(loc).Format(stampLayout),
	}
}
