// README: Customer sign-up and profile lookup.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"restaurantbot/internal/modules/customer"
	"restaurantbot/internal/modules/order"
)

type CustomerStore interface {
	Register(ctx context.Context, c order.Customer) (bool, error)
	Get(ctx context.Context, phone string) (*customer.Profile, error)
}

type CustomerHandler struct {
	customers CustomerStore
	stats     NewCustomerRecorder
}

type NewCustomerRecorder interface {
	RecordNewCustomer(ctx context.Context) error
}

func NewCustomerHandler(store CustomerStore, stats NewCustomerRecorder) *CustomerHandler {
	return &CustomerHandler{customers: store, stats: stats}
}

func (h *CustomerHandler) Register(c *gin.Context) {
	var req order.Customer
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Phone) == "" {
		writeError(c, http.StatusBadRequest, "phone is required")
		return
	}
	created, err := h.customers.Register(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if h.stats != nil {
			if err := h.stats.RecordNewCustomer(c.Request.Context()); err != nil {
				_ = c.Error(err)
			}
		}
	}
	writeJSON(c, status, gin.H{"phone": req.Phone, "created": created})
}

func (h *CustomerHandler) Get(c *gin.Context) {
	p, err := h.customers.Get(c.Request.Context(), c.Param("phone"))
	if errors.Is(err, customer.ErrNotFound) {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, p)
}
