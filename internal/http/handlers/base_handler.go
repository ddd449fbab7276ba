// README: Base handler utilities (JSON helpers, error mapping, order views).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidCode accepts order codes like ORD240315K7QZ; uppercase alphanumerics and dashes.
func isValidCode(v string) bool {
	if v == "" || len(v) > 40 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest), errors.Is(err, order.ErrBadSignature):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type orderView struct {
	Code          string                `json:"code"`
	Customer      order.Customer        `json:"customer"`
	Items         []order.LineItem      `json:"items"`
	Total         types.Money           `json:"total"`
	TotalDisplay  string                `json:"total_display"`
	ServiceType   order.ServiceType     `json:"service_type"`
	Status        order.Status          `json:"status"`
	PaymentStatus order.PaymentStatus   `json:"payment_status"`
	PaymentMethod order.PaymentMethod   `json:"payment_method"`
	RefundStatus  order.RefundStatus    `json:"refund_status"`
	RefundID      *string               `json:"refund_id,omitempty"`
	PartnerName   *string               `json:"partner_name,omitempty"`
	Tracking      []order.TrackingEntry `json:"tracking"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func toOrderView(o *order.Order) orderView {
	return orderView{
		Code:          o.Code,
		Customer:      o.Customer,
		Items:         o.Items,
		Total:         o.Total,
		TotalDisplay:  o.Total.String(),
		ServiceType:   o.ServiceType,
		Status:        o.Status,
		PaymentStatus: o.Payment.Status,
		PaymentMethod: o.Payment.Method,
		RefundStatus:  o.Refund.Status,
		RefundID:      o.Refund.RefundID,
		PartnerName:   o.Assignment.PartnerName,
		Tracking:      o.Tracking,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func toOrderViews(orders []order.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderView(&orders[i]))
	}
	return out
}
