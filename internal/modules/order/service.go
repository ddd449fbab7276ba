// README: Order service; placement, locked transitions with optimistic retry, refund execution.
package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"restaurantbot/internal/modules/notify"
	"restaurantbot/internal/modules/payment"
	"restaurantbot/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order state conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrDuplicateCode     = errors.New("duplicate order code")
	ErrBadSignature      = errors.New("invalid payment signature")
)

const maxConflictRetries = 3

type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, code string) (*Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	// Save persists o if the stored version still equals expectedVersion.
	Save(ctx context.Context, o *Order, expectedVersion int) (bool, error)
	SetGatewayOrderID(ctx context.Context, code, gatewayOrderID string) (bool, error)
	ListActive(ctx context.Context, limit int) ([]Order, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Order, error)
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount types.Money, orderRef string) (payment.Intent, error)
	VerifySignature(payload, signature string) bool
}

type Refunder interface {
	Refund(ctx context.Context, paymentRef string, amount types.Money, notes map[string]string) (payment.Receipt, error)
}

type CustomerRecorder interface {
	// RecordOrder upserts the profile with has_ordered=true and reports whether it was new.
	RecordOrder(ctx context.Context, c Customer, at time.Time) (bool, error)
}

type PlacementRecorder interface {
	RecordPlacement(ctx context.Context, at time.Time) error
	RecordNewCustomer(ctx context.Context) error
}

type Deps struct {
	Gateway    PaymentGateway
	Refunder   Refunder
	Customers  CustomerRecorder
	Stats      PlacementRecorder
	Dispatcher *Dispatcher
	Locks      *KeyedMutex
	Logger     zerolog.Logger
	Clock      func() time.Time
}

type Service struct {
	repo   Repository
	engine Engine
	deps   Deps
	locks  *KeyedMutex
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, engine Engine, deps Deps) *Service {
	s := &Service{
		repo:   repo,
		engine: engine,
		deps:   deps,
		locks:  deps.Locks,
		log:    deps.Logger.With().Str("component", "order").Logger(),
		now:    deps.Clock,
	}
	if s.locks == nil {
		s.locks = NewKeyedMutex()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.deps.Dispatcher == nil {
		s.deps.Dispatcher = NewDispatcher(DispatcherDeps{Logger: deps.Logger})
	}
	return s
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.deps.Dispatcher
}

type PlaceCommand struct {
	Customer    Customer
	Items       []LineItem
	ServiceType ServiceType
	Method      PaymentMethod
}

func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceCommand) (*Order, error) {
	if strings.TrimSpace(cmd.Customer.Phone) == "" || len(cmd.Items) == 0 {
		return nil, ErrBadRequest
	}
	if !cmd.ServiceType.Valid() || !cmd.Method.Valid() {
		return nil, ErrBadRequest
	}
	var total types.Money
	for _, it := range cmd.Items {
		if it.Name == "" || it.Quantity <= 0 || it.UnitPrice < 0 {
			return nil, ErrBadRequest
		}
		total += it.Subtotal()
	}

	now := s.now()
	o := &Order{
		ID:          types.ID(uuid.NewString()),
		Customer:    cmd.Customer,
		Items:       append([]LineItem(nil), cmd.Items...),
		Total:       total,
		ServiceType: cmd.ServiceType,
		Status:      StatusPending,
		Payment:     Payment{Status: PaymentPending, Method: cmd.Method},
		Refund:      Refund{Status: RefundNone},
		Tracking:    []TrackingEntry{{Status: StatusPending, Message: "Order placed", At: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var err error
	for i := 0; i < 3; i++ {
		o.Code = newCode(now, s.engine.Location)
		if err = s.repo.Create(ctx, o); !errors.Is(err, ErrDuplicateCode) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	topics := []string{TopicOrders, TopicDashboard}
	if s.deps.Customers != nil {
		created, err := s.deps.Customers.RecordOrder(ctx, o.Customer, now)
		if err != nil {
			s.log.Warn().Err(err).Str("order_code", o.Code).Msg("record customer")
		}
		if created {
			topics = append(topics, TopicCustomers)
			if s.deps.Stats != nil {
				if err := s.deps.Stats.RecordNewCustomer(ctx); err != nil {
					s.log.Warn().Err(err).Msg("record new customer")
				}
			}
		}
	}
	if s.deps.Stats != nil {
		if err := s.deps.Stats.RecordPlacement(ctx, now); err != nil {
			s.log.Warn().Err(err).Str("order_code", o.Code).Msg("record placement")
		}
	}

	var effects []Effect
	if o.IsCOD() {
		effects = placementEffects(o, s.engine.AdminTopic)
	}
	s.deps.Dispatcher.Dispatch(*o, effects, topics...)
	s.log.Info().Str("order_code", o.Code).Str("method", string(o.Payment.Method)).Int64("total", int64(o.Total)).Msg("order placed")
	return o, nil
}

// placementEffects announces a COD order immediately; online orders wait for payment.
func placementEffects(o *Order, adminTopic string) []Effect {
	b := &builder{o: o, now: o.CreatedAt}
	b.ledger(o.EntryBucket())
	b.notifyCustomer(notify.ChannelWhatsApp, notify.TemplateOrderPlaced)
	b.notifyWith(notify.ChannelPush, adminTopic, notify.TemplateNewOrderOps, b.params())
	return b.effects
}

func (s *Service) Get(ctx context.Context, code string) (*Order, error) {
	if code == "" {
		return nil, ErrBadRequest
	}
	return s.repo.Get(ctx, code)
}

func (s *Service) ListActive(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListActive(ctx, limit)
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	return s.repo.ListByStatus(ctx, status, 1000)
}

// ApplyTransition serialises the read-modify-write per order and retries on
// version conflicts. Effects are dispatched after the lock is released.
func (s *Service) ApplyTransition(ctx context.Context, code string, ev Event) (*Order, []Effect, error) {
	var tr Transition
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		tr, err = s.applyOnce(ctx, code, ev)
		if !errors.Is(err, ErrConflict) {
			break
		}
		s.log.Debug().Str("order_code", code).Int("attempt", attempt+1).Msg("version conflict, retrying")
	}
	if err != nil {
		return nil, nil, err
	}
	s.deps.Dispatcher.Dispatch(tr.Order, tr.Effects)
	s.log.Info().Str("order_code", code).Str("event", ev.Name()).
		Str("status", string(tr.Order.Status)).
		Str("payment_status", string(tr.Order.Payment.Status)).
		Str("refund_status", string(tr.Order.Refund.Status)).
		Msg("transition applied")
	return &tr.Order, tr.Effects, nil
}

func (s *Service) applyOnce(ctx context.Context, code string, ev Event) (Transition, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	cur, err := s.repo.Get(ctx, code)
	if err != nil {
		return Transition{}, err
	}
	tr, err := s.engine.Apply(*cur, ev, s.now())
	if err != nil {
		return Transition{}, err
	}
	ok, err := s.repo.Save(ctx, &tr.Order, cur.Version)
	if err != nil {
		return Transition{}, err
	}
	if !ok {
		return Transition{}, ErrConflict
	}
	tr.Order.Version = cur.Version + 1
	return tr, nil
}

func (s *Service) CreatePaymentIntent(ctx context.Context, code string) (payment.Intent, error) {
	if s.deps.Gateway == nil {
		return payment.Intent{}, ErrBadRequest
	}
	o, err := s.repo.Get(ctx, code)
	if err != nil {
		return payment.Intent{}, err
	}
	if o.IsCOD() || o.Status != StatusPending ||
		(o.Payment.Status != PaymentPending && o.Payment.Status != PaymentFailed) {
		return payment.Intent{}, ErrInvalidTransition
	}
	intent, err := s.deps.Gateway.CreateIntent(ctx, o.Total, o.Code)
	if err != nil {
		return payment.Intent{}, fmt.Errorf("create intent for %s: %w", code, err)
	}
	ok, err := s.repo.SetGatewayOrderID(ctx, code, intent.GatewayOrderID)
	if err != nil {
		return payment.Intent{}, err
	}
	if !ok {
		return payment.Intent{}, ErrConflict
	}
	return intent, nil
}

type VerifyCommand struct {
	GatewayOrderID string
	PaymentRef     string
	Signature      string
	Method         PaymentMethod
}

func (s *Service) VerifyPayment(ctx context.Context, cmd VerifyCommand) (*Order, error) {
	if cmd.GatewayOrderID == "" || cmd.PaymentRef == "" {
		return nil, ErrBadRequest
	}
	if s.deps.Gateway == nil || !s.deps.Gateway.VerifySignature(cmd.GatewayOrderID+"|"+cmd.PaymentRef, cmd.Signature) {
		return nil, ErrBadSignature
	}
	o, err := s.repo.GetByGatewayOrderID(ctx, cmd.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	updated, _, err := s.ApplyTransition(ctx, o.Code, PaymentVerified{
		GatewayOrderID: cmd.GatewayOrderID,
		PaymentRef:     cmd.PaymentRef,
		Method:         cmd.Method,
	})
	return updated, err
}

// HandleWebhook applies a verified gateway webhook. Replays surface as ErrInvalidTransition.
func (s *Service) HandleWebhook(ctx context.Context, ev PaymentWebhook) (*Order, error) {
	if ev.GatewayOrderID == "" {
		return nil, ErrBadRequest
	}
	o, err := s.repo.GetByGatewayOrderID(ctx, ev.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	updated, _, err := s.ApplyTransition(ctx, o.Code, ev)
	return updated, err
}

// refundDue reports whether a scheduled refund may still be executed for o.
func refundDue(o *Order) bool {
	if o.Status != StatusCancelled && o.Status != StatusRefundFailed {
		return false
	}
	if o.Payment.Status != PaymentRefundProcessing || o.Payment.PaymentRef == nil {
		return false
	}
	return o.Refund.Status == RefundPending || o.Refund.Status == RefundScheduled
}

// ExecuteRefund is invoked by the refund scheduler. The order is re-validated
// first and the gateway is called without holding the order lock.
func (s *Service) ExecuteRefund(ctx context.Context, code string) error {
	if s.deps.Refunder == nil {
		return errors.New("refunder not configured")
	}
	o, err := s.repo.Get(ctx, code)
	if err != nil {
		return err
	}
	if !refundDue(o) {
		s.log.Info().Str("order_code", code).
			Str("status", string(o.Status)).
			Str("payment_status", string(o.Payment.Status)).
			Str("refund_status", string(o.Refund.Status)).
			Msg("refund no longer due, skipping")
		return nil
	}

	amount := o.Total
	if o.Refund.Amount != nil {
		amount = *o.Refund.Amount
	}
	notes := map[string]string{"order_code": code}
	if o.Refund.Reason != nil {
		notes["reason"] = *o.Refund.Reason
	}

	receipt, refundErr := s.deps.Refunder.Refund(ctx, *o.Payment.PaymentRef, amount, notes)
	if errors.Is(refundErr, payment.ErrAlreadyRefunded) {
		// The gateway holds the money as returned, typically from an earlier attempt whose response was lost.
		s.log.Warn().Str("order_code", code).Int64("refunded", int64(receipt.Amount)).
			Msg("payment already refunded at gateway, recording refund as completed")
		refundErr = nil
	}
	var ev Event
	if refundErr != nil {
		s.log.Error().Err(refundErr).Str("order_code", code).Msg("refund failed")
		ev = RefundAttemptFailed{Reason: refundErr.Error()}
	} else {
		ev = RefundAttemptSucceeded{RefundID: receipt.RefundID, Amount: receipt.Amount}
	}

	// The outcome must land even if the caller's deadline is spent.
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, _, err := s.ApplyTransition(applyCtx, code, ev); err != nil {
		s.log.Error().Err(err).Str("order_code", code).Str("event", ev.Name()).
			Str("refund_id", receipt.RefundID).Msg("could not record refund outcome")
		return err
	}
	return refundErr
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newCode builds a human readable order code like ORD240315K7QZ.
func newCode(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return "ORD" + now.In(loc).Format("060102") + string(b)
}
