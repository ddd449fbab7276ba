// README: Customer-facing order handlers for placement, lookup and online checkout.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/modules/payment"
	"restaurantbot/internal/types"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, cmd order.PlaceCommand) (*order.Order, error)
	Get(ctx context.Context, code string) (*order.Order, error)
	CreatePaymentIntent(ctx context.Context, code string) (payment.Intent, error)
	VerifyPayment(ctx context.Context, cmd order.VerifyCommand) (*order.Order, error)
}

type OrderHandler struct {
	order OrderService
}

func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{order: svc}
}

type lineItemReq struct {
	CatalogRef *string `json:"catalog_ref"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	UnitPrice  int64   `json:"unit_price"`
	Quantity   int     `json:"quantity"`
	Unit       string  `json:"unit"`
}

type placeOrderReq struct {
	Customer    order.Customer `json:"customer"`
	Items       []lineItemReq  `json:"items"`
	ServiceType string         `json:"service_type"`
	Method      string         `json:"payment_method"`
}

func (h *OrderHandler) Place(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	items := make([]order.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.LineItem{
			CatalogRef: it.CatalogRef,
			Name:       it.Name,
			Category:   it.Category,
			UnitPrice:  types.Money(it.UnitPrice),
			Quantity:   it.Quantity,
			Unit:       it.Unit,
		})
	}
	o, err := h.order.PlaceOrder(c.Request.Context(), order.PlaceCommand{
		Customer:    req.Customer,
		Items:       items,
		ServiceType: order.ServiceType(req.ServiceType),
		Method:      order.PaymentMethod(req.Method),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toOrderView(o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	code := c.Param("code")
	if !isValidCode(code) {
		writeError(c, http.StatusBadRequest, "invalid order code")
		return
	}
	o, err := h.order.Get(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

func (h *OrderHandler) CreateIntent(c *gin.Context) {
	code := c.Param("code")
	if !isValidCode(code) {
		writeError(c, http.StatusBadRequest, "invalid order code")
		return
	}
	intent, err := h.order.CreatePaymentIntent(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{
		"gateway_order_id": intent.GatewayOrderID,
		"amount":           intent.Amount,
		"currency":         intent.Currency,
		"receipt":          intent.Receipt,
	})
}

type verifyPaymentReq struct {
	GatewayOrderID string `json:"razorpay_order_id"`
	PaymentRef     string `json:"razorpay_payment_id"`
	Signature      string `json:"razorpay_signature"`
	Method         string `json:"method"`
}

func (h *OrderHandler) Verify(c *gin.Context) {
	var req verifyPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.order.VerifyPayment(c.Request.Context(), order.VerifyCommand{
		GatewayOrderID: req.GatewayOrderID,
		PaymentRef:     req.PaymentRef,
		Signature:      req.Signature,
		Method:         order.PaymentMethod(req.Method),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}
