// README: Operator handlers; status changes, partner assignment, refund review and ledger resync.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"restaurantbot/internal/http/middleware"
	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/modules/refund"
)

type AdminService interface {
	ListActive(ctx context.Context, limit int) ([]order.Order, error)
	ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error)
	ApplyTransition(ctx context.Context, code string, ev order.Event) (*order.Order, []order.Effect, error)
}

type LedgerResyncer interface {
	ResyncStatus(ctx context.Context, status order.Status, bucket order.Bucket) (int, error)
}

type PendingRefunds interface {
	Pending() []refund.Due
}

type AdminHandler struct {
	order   AdminService
	ledger  LedgerResyncer
	refunds PendingRefunds
}

func NewAdminHandler(svc AdminService, ledger LedgerResyncer, refunds PendingRefunds) *AdminHandler {
	return &AdminHandler{order: svc, ledger: ledger, refunds: refunds}
}

func (h *AdminHandler) List(c *gin.Context) {
	var (
		orders []order.Order
		err    error
	)
	if status := c.Query("status"); status != "" {
		orders, err = h.order.ListByStatus(c.Request.Context(), order.Status(status))
	} else {
		limit, _ := strconv.Atoi(c.Query("limit"))
		orders, err = h.order.ListActive(c.Request.Context(), limit)
	}
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": toOrderViews(orders)})
}

type statusReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "missing status")
		return
	}
	h.apply(c, order.AdminStatusChange{
		Target: order.Status(req.Status),
		Reason: req.Reason,
		Actor:  middleware.CallerUID(c),
	})
}

type assignReq struct {
	PartnerID   string `json:"partner_id"`
	PartnerName string `json:"partner_name"`
}

func (h *AdminHandler) Assign(c *gin.Context) {
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.PartnerID == "" {
		writeError(c, http.StatusBadRequest, "missing partner_id")
		return
	}
	h.apply(c, order.DeliveryAssigned{PartnerID: req.PartnerID, PartnerName: req.PartnerName})
}

func (h *AdminHandler) ApproveRefund(c *gin.Context) {
	h.apply(c, order.RefundApproved{By: middleware.CallerUID(c)})
}

type rejectReq struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) RejectRefund(c *gin.Context) {
	var req rejectReq
	_ = c.ShouldBindJSON(&req)
	h.apply(c, order.RefundRejected{By: middleware.CallerUID(c), Reason: req.Reason})
}

func (h *AdminHandler) apply(c *gin.Context, ev order.Event) {
	code := c.Param("code")
	if !isValidCode(code) {
		writeError(c, http.StatusBadRequest, "invalid order code")
		return
	}
	o, _, err := h.order.ApplyTransition(c.Request.Context(), code, ev)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

func (h *AdminHandler) PendingRefunds(c *gin.Context) {
	if h.refunds == nil {
		writeJSON(c, http.StatusOK, gin.H{"refunds": []refund.Due{}})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"refunds": h.refunds.Pending()})
}

type resyncReq struct {
	Status string `json:"status"`
	Bucket string `json:"bucket"`
}

func (h *AdminHandler) ResyncLedger(c *gin.Context) {
	var req resyncReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" || !validBucket(order.Bucket(req.Bucket)) {
		writeError(c, http.StatusBadRequest, "status and a known bucket are required")
		return
	}
	n, err := h.ledger.ResyncStatus(c.Request.Context(), order.Status(req.Status), order.Bucket(req.Bucket))
	if err != nil {
		_ = c.Error(err)
		writeJSON(c, http.StatusBadGateway, gin.H{"synced": n, "error": "ledger resync incomplete"})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"synced": n})
}

func validBucket(b order.Bucket) bool {
	for _, known := range order.Buckets {
		if b == known {
			return true
		}
	}
	return false
}
