// README: Razorpay REST client implementing Gateway (orders, payments, refunds, signatures).
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"restaurantbot/internal/types"
)

type RazorpayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type Razorpay struct {
	cfg  RazorpayConfig
	http *http.Client
}

func NewRazorpay(cfg RazorpayConfig, client *http.Client) *Razorpay {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Razorpay{cfg: cfg, http: client}
}

type rzpOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type rzpPayment struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Captured       bool   `json:"captured"`
	Method         string `json:"method"`
	CreatedAt      int64  `json:"created_at"`
}

type rzpRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type rzpError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (r *Razorpay) CreateIntent(ctx context.Context, amount types.Money, orderRef string) (Intent, error) {
	body := map[string]any{
		"amount":   int64(amount),
		"currency": types.Currency,
		"receipt":  orderRef,
		"notes":    map[string]string{"order_code": orderRef},
	}
	var out rzpOrder
	if err := r.do(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return Intent{}, err
	}
	return Intent{
		GatewayOrderID: out.ID,
		Amount:         types.Money(out.Amount),
		Currency:       out.Currency,
		Receipt:        out.Receipt,
	}, nil
}

// VerifySignature checks the checkout signature over "<gateway_order_id>|<payment_id>".
func (r *Razorpay) VerifySignature(payload, signature string) bool {
	return validHMAC(r.cfg.KeySecret, []byte(payload), signature)
}

func (r *Razorpay) VerifyWebhook(body []byte, signature string) bool {
	return validHMAC(r.cfg.WebhookSecret, body, signature)
}

func (r *Razorpay) FetchPayment(ctx context.Context, paymentRef string) (Snapshot, error) {
	var out rzpPayment
	if err := r.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentRef), nil, &out); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		ID:             out.ID,
		Status:         PaymentState(out.Status),
		RefundedAmount: types.Money(out.AmountRefunded),
		Method:         out.Method,
		CreatedAt:      time.Unix(out.CreatedAt, 0),
	}
	if out.Captured || out.Status == string(StateCaptured) || out.Status == string(StateRefunded) {
		snap.CapturedAmount = types.Money(out.Amount)
	}
	return snap, nil
}

func (r *Razorpay) Refund(ctx context.Context, paymentRef string, amount types.Money, notes map[string]string) (Receipt, error) {
	body := map[string]any{"amount": int64(amount), "speed": "normal"}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var out rzpRefund
	if err := r.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentRef)+"/refund", body, &out); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		RefundID:   out.ID,
		PaymentRef: out.PaymentID,
		Amount:     types.Money(out.Amount),
		Status:     out.Status,
		CreatedAt:  time.Unix(out.CreatedAt, 0),
	}, nil
}

func (r *Razorpay) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s %s: %v", ErrGatewayTransient, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrGatewayTransient, err)
	}
	if resp.StatusCode >= 300 {
		var e rzpError
		_ = json.Unmarshal(raw, &e)
		return &GatewayError{
			StatusCode:  resp.StatusCode,
			Code:        e.Error.Code,
			Description: e.Error.Description,
			Class:       Classify(resp.StatusCode, e.Error.Description),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrGatewayTerminal, path, err)
	}
	return nil
}

func validHMAC(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign is the counterpart of VerifySignature, used by tests and local tooling.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
