// README: Razorpay webhook receiver; verifies the raw body signature and feeds payment events to the order engine.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"restaurantbot/internal/modules/order"
)

const maxWebhookBody = 1 << 20

type WebhookVerifier interface {
	VerifyWebhook(body []byte, signature string) bool
}

type WebhookService interface {
	HandleWebhook(ctx context.Context, ev order.PaymentWebhook) (*order.Order, error)
}

type WebhookHandler struct {
	verifier WebhookVerifier
	order    WebhookService
	log      zerolog.Logger
}

func NewWebhookHandler(verifier WebhookVerifier, svc WebhookService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, order: svc, log: log.With().Str("component", "webhook").Logger()}
}

type rzpWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Method           string `json:"method"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// Razorpay retries anything that is not 2xx, so replays and unknown orders are acknowledged.
func (h *WebhookHandler) Razorpay(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, "unreadable body")
		return
	}
	if !h.verifier.VerifyWebhook(body, c.GetHeader("X-Razorpay-Signature")) {
		writeError(c, http.StatusBadRequest, order.ErrBadSignature.Error())
		return
	}
	var msg rzpWebhook
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	kind := order.WebhookKind(msg.Event)
	if kind != order.WebhookCaptured && kind != order.WebhookFailed {
		writeJSON(c, http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	entity := msg.Payload.Payment.Entity
	_, err = h.order.HandleWebhook(c.Request.Context(), order.PaymentWebhook{
		Kind:           kind,
		GatewayOrderID: entity.OrderID,
		PaymentRef:     entity.ID,
		Method:         order.PaymentMethod(entity.Method),
		Reason:         entity.ErrorDescription,
	})
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, gin.H{"status": "processed"})
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrNotFound):
		h.log.Info().Err(err).Str("event", msg.Event).Str("gateway_order_id", entity.OrderID).Msg("webhook acknowledged without change")
		writeJSON(c, http.StatusOK, gin.H{"status": "ignored"})
	default:
		writeOrderError(c, err)
	}
}
