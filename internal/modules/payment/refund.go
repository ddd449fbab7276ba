// README: Refunder validates live payment state and runs the bounded refund retry loop.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"restaurantbot/internal/types"
)

type RefundPolicy struct {
	MinSettlementAge  time.Duration
	MaxSettlementWait time.Duration
	RetryDelay        time.Duration
	TimingRetryDelay  time.Duration
	MaxRetries        int
	MaxWindow         time.Duration
}

func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{
		MinSettlementAge:  2 * time.Minute,
		MaxSettlementWait: 90 * time.Second,
		RetryDelay:        2 * time.Second,
		TimingRetryDelay:  15 * time.Second,
		MaxRetries:        3,
		MaxWindow:         2 * time.Minute,
	}
}

type Refunder struct {
	gw     Gateway
	policy RefundPolicy
	log    zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRefunder(gw Gateway, policy RefundPolicy, log zerolog.Logger) *Refunder {
	return &Refunder{
		gw:     gw,
		policy: policy,
		log:    log.With().Str("component", "refunder").Logger(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Refund refunds up to amount against paymentRef. The amount is clamped to what
// the gateway still considers refundable; amount <= 0 means "everything left".
//
// A payment the gateway already reports as fully refunded returns ErrAlreadyRefunded
// together with a receipt describing the refunded amount. When every attempt fails
// but a fresh snapshot shows the money moved anyway (a lost response), the refund
// is reported as done.
func (r *Refunder) Refund(ctx context.Context, paymentRef string, amount types.Money, notes map[string]string) (Receipt, error) {
	snap, err := r.gw.FetchPayment(ctx, paymentRef)
	if err != nil {
		return Receipt{}, fmt.Errorf("fetch payment %s: %w", paymentRef, err)
	}
	if snap.Status == StateRefunded || (snap.CapturedAmount > 0 && snap.Refundable() == 0) {
		return reconciledReceipt(paymentRef, snap.RefundedAmount, r.now()), ErrAlreadyRefunded
	}
	if snap.Status != StateCaptured {
		return Receipt{}, fmt.Errorf("%w (status %s)", ErrNotCaptured, snap.Status)
	}
	refundable := snap.Refundable()
	if amount <= 0 || amount > refundable {
		if amount > refundable {
			r.log.Warn().Str("payment_ref", paymentRef).
				Int64("requested", int64(amount)).Int64("refundable", int64(refundable)).
				Msg("clamping refund amount")
		}
		amount = refundable
	}

	if age := r.now().Sub(snap.CreatedAt); age < r.policy.MinSettlementAge {
		wait := r.policy.MinSettlementAge - age
		if wait > r.policy.MaxSettlementWait {
			wait = r.policy.MaxSettlementWait
		}
		r.log.Info().Str("payment_ref", paymentRef).Dur("wait", wait).Msg("payment too recent, waiting before refund")
		if err := r.sleep(ctx, wait); err != nil {
			return Receipt{}, fmt.Errorf("%w: settlement wait: %v", ErrGatewayTransient, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.policy.MaxWindow)
	defer cancel()

	timing := false
	attempt := 0
	var backoff retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		if timing {
			return r.policy.TimingRetryDelay, false
		}
		return r.policy.RetryDelay, false
	})
	backoff = retry.WithMaxRetries(uint64(r.policy.MaxRetries), backoff)
	backoff = retry.WithMaxDuration(r.policy.MaxWindow, backoff)

	var receipt Receipt
	var lastErr error
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		rc, err := r.gw.Refund(ctx, paymentRef, amount, notes)
		if err == nil {
			receipt = rc
			return nil
		}
		lastErr = err
		var ge *GatewayError
		timing = errors.As(err, &ge) && ge.Class == ClassTiming
		if errors.Is(err, ErrGatewayTransient) {
			r.log.Warn().Err(err).Str("payment_ref", paymentRef).Int("attempt", attempt).Msg("refund attempt failed, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return receipt, nil
	}
	if lastErr != nil {
		if rc, ok := r.landed(ctx, paymentRef, snap.RefundedAmount, amount); ok {
			return rc, nil
		}
	}
	if lastErr != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return Receipt{}, fmt.Errorf("refund %s gave up after %d attempts: %w", paymentRef, attempt, lastErr)
	}
	return Receipt{}, fmt.Errorf("refund %s after %d attempts: %w", paymentRef, attempt, err)
}

// landed re-reads the payment after failed attempts and reports whether the
// refunded total grew by at least amount since before the first attempt.
func (r *Refunder) landed(ctx context.Context, paymentRef string, before, amount types.Money) (Receipt, bool) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	snap, err := r.gw.FetchPayment(fetchCtx, paymentRef)
	if err != nil {
		r.log.Warn().Err(err).Str("payment_ref", paymentRef).Msg("could not re-read payment after failed refund")
		return Receipt{}, false
	}
	if snap.RefundedAmount-before < amount {
		return Receipt{}, false
	}
	r.log.Warn().Str("payment_ref", paymentRef).
		Int64("refunded", int64(snap.RefundedAmount)).
		Msg("refund response lost but gateway shows the refund, treating as processed")
	return reconciledReceipt(paymentRef, amount, r.now()), true
}

func reconciledReceipt(paymentRef string, amount types.Money, at time.Time) Receipt {
	return Receipt{
		RefundID:   "reconciled-" + paymentRef,
		PaymentRef: paymentRef,
		Amount:     amount,
		Status:     "reconciled",
		CreatedAt:  at,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
