// README: Dashboard counters and per-day report history, in paise.
package stats

import (
	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/types"
)

// Totals are cumulative over orders already rolled up at hide time.
type Totals struct {
	Orders    int64       `json:"orders"`
	Revenue   types.Money `json:"revenue"`
	Customers int64       `json:"customers"`
}

type Today struct {
	Date      string      `json:"date"`
	Orders    int64       `json:"orders"`
	Delivered int64       `json:"delivered"`
	Revenue   types.Money `json:"revenue"`
}

type Snapshot struct {
	Totals Totals
	Today  Today
}

// Live aggregates visible orders that are not yet part of Totals.
type Live struct {
	Orders  int64       `json:"orders"`
	Revenue types.Money `json:"revenue"`
}

type Dashboard struct {
	Cumulative Totals `json:"cumulative"`
	Today      Today  `json:"today"`
	Live       Live   `json:"live"`
	Combined   Totals `json:"combined"`
}

type Tally struct {
	Quantity int64       `json:"quantity"`
	Revenue  types.Money `json:"revenue"`
}

type Report struct {
	Day          string           `json:"day"`
	TotalOrders  int64            `json:"total_orders"`
	Delivered    int64            `json:"delivered_orders"`
	Cancelled    int64            `json:"cancelled_orders"`
	Refunded     int64            `json:"refunded_orders"`
	Revenue      types.Money      `json:"revenue"`
	Items        map[string]Tally `json:"items"`
	Categories   map[string]Tally `json:"categories"`
	ServiceTypes map[string]int64 `json:"service_types"`
}

func newReport(day string) Report {
	return Report{
		Day:          day,
		Items:        map[string]Tally{},
		Categories:   map[string]Tally{},
		ServiceTypes: map[string]int64{},
	}
}

// Merge adds other into r; it never subtracts.
func (r *Report) Merge(other Report) {
	if r.Items == nil {
		r.Items = map[string]Tally{}
	}
	if r.Categories == nil {
		r.Categories = map[string]Tally{}
	}
	if r.ServiceTypes == nil {
		r.ServiceTypes = map[string]int64{}
	}
	r.TotalOrders += other.TotalOrders
	r.Delivered += other.Delivered
	r.Cancelled += other.Cancelled
	r.Refunded += other.Refunded
	r.Revenue += other.Revenue
	for k, v := range other.Items {
		t := r.Items[k]
		t.Quantity += v.Quantity
		t.Revenue += v.Revenue
		r.Items[k] = t
	}
	for k, v := range other.Categories {
		t := r.Categories[k]
		t.Quantity += v.Quantity
		t.Revenue += v.Revenue
		r.Categories[k] = t
	}
	for k, v := range other.ServiceTypes {
		r.ServiceTypes[k] += v
	}
}

// CountsRevenue matches the live revenue predicate used by the order store.
func CountsRevenue(o order.Order) bool {
	return o.Payment.Status == order.PaymentPaid && o.Status != order.StatusCancelled
}

func (r *Report) add(o order.Order) {
	r.TotalOrders++
	switch o.Status {
	case order.StatusDelivered:
		r.Delivered++
	case order.StatusCancelled:
		r.Cancelled++
	case order.StatusRefunded:
		r.Refunded++
	}
	r.ServiceTypes[string(o.ServiceType)]++
	if !CountsRevenue(o) {
		return
	}
	r.Revenue += o.Total
	for _, it := range o.Items {
		sub := it.Subtotal()
		t := r.Items[it.Name]
		t.Quantity += int64(it.Quantity)
		t.Revenue += sub
		r.Items[it.Name] = t

		cat := it.Category
		if cat == "" {
			cat = "Uncategorised"
		}
		c := r.Categories[cat]
		c.Quantity += int64(it.Quantity)
		c.Revenue += sub
		r.Categories[cat] = c
	}
}
