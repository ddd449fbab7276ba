// README: Payment gateway contract, snapshots and the transient/terminal error taxonomy.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurantbot/internal/types"
)

var (
	ErrGatewayTransient = errors.New("payment gateway transient error")
	ErrGatewayTerminal  = errors.New("payment gateway terminal error")
	ErrAlreadyRefunded  = fmt.Errorf("%w: payment already fully refunded", ErrGatewayTerminal)
	ErrNotCaptured      = fmt.Errorf("%w: payment not captured", ErrGatewayTerminal)
)

type Gateway interface {
	CreateIntent(ctx context.Context, amount types.Money, orderRef string) (Intent, error)
	VerifySignature(payload, signature string) bool
	VerifyWebhook(body []byte, signature string) bool
	Refund(ctx context.Context, paymentRef string, amount types.Money, notes map[string]string) (Receipt, error)
	FetchPayment(ctx context.Context, paymentRef string) (Snapshot, error)
}

type Intent struct {
	GatewayOrderID string
	Amount         types.Money
	Currency       string
	Receipt        string
}

type PaymentState string

const (
	StateCreated    PaymentState = "created"
	StateAuthorized PaymentState = "authorized"
	StateCaptured   PaymentState = "captured"
	StateRefunded   PaymentState = "refunded"
	StateFailed     PaymentState = "failed"
)

type Snapshot struct {
	ID             string
	Status         PaymentState
	CapturedAmount types.Money
	RefundedAmount types.Money
	Method         string
	CreatedAt      time.Time
}

func (s Snapshot) Refundable() types.Money {
	if s.RefundedAmount >= s.CapturedAmount {
		return 0
	}
	return s.CapturedAmount - s.RefundedAmount
}

type Receipt struct {
	RefundID   string
	PaymentRef string
	Amount     types.Money
	Status     string
	CreatedAt  time.Time
}

type ErrorClass int

const (
	ClassTerminal ErrorClass = iota
	ClassTransient
	// ClassTiming is a bad request the gateway returns for payments that are too fresh to refund.
	ClassTiming
)

type GatewayError struct {
	StatusCode  int
	Code        string
	Description string
	Class       ErrorClass
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %d %s: %s", e.StatusCode, e.Code, e.Description)
}

func (e *GatewayError) Unwrap() error {
	if e.Class == ClassTerminal {
		return ErrGatewayTerminal
	}
	return ErrGatewayTransient
}

var timingHints = []string{
	"too recent",
	"try again after",
	"not yet settled",
	"being processed",
	"please retry",
}

// Classify maps an HTTP status and gateway description to an error class.
func Classify(status int, description string) ErrorClass {
	switch {
	case status == 429 || status >= 500:
		return ClassTransient
	case status == 400:
		d := strings.ToLower(description)
		for _, h := range timingHints {
			if strings.Contains(d, h) {
				return ClassTiming
			}
		}
	}
	return ClassTerminal
}
