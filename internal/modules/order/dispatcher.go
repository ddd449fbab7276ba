// README: Executes declared effects after commit; mirror failures are logged, never returned.
package order

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"restaurantbot/internal/modules/notify"
	"restaurantbot/internal/types"
)

type LedgerSyncer interface {
	Sync(ctx context.Context, o Order, bucket Bucket) error
}

type Notifier interface {
	Send(ctx context.Context, ch notify.Channel, recipient, template string, params map[string]string) error
}

type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

type RevenueRecorder interface {
	RecordCompletion(ctx context.Context, code string, amount types.Money, day string) error
}

type RefundScheduler interface {
	Schedule(ctx context.Context, code string, delay time.Duration) error
	Cancel(code string)
}

type EventEmitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

const (
	TopicOrders    = "orders"
	TopicDashboard = "dashboard"
	TopicCustomers = "customers"
)

type DispatcherDeps struct {
	Ledger   LedgerSyncer
	Notifier Notifier
	Deduper  Deduper
	Stats    RevenueRecorder
	Refunds  RefundScheduler
	Events   EventEmitter
	Logger   zerolog.Logger
	Timeout  time.Duration
}

type Dispatcher struct {
	deps  DispatcherDeps
	log   zerolog.Logger
	order *KeyedMutex
	wg    sync.WaitGroup

	// inflight tracks, per order code with batches still running, the newest
	// version already mirrored to the ledger.
	mu       sync.Mutex
	inflight map[string]*batchState
}

type batchState struct {
	pending int
	synced  int
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	return &Dispatcher{
		deps:     deps,
		log:      deps.Logger.With().Str("component", "dispatcher").Logger(),
		order:    NewKeyedMutex(),
		inflight: make(map[string]*batchState),
	}
}

// SetRefunds wires the scheduler after construction; the scheduler itself depends on the order service.
func (d *Dispatcher) SetRefunds(r RefundScheduler) {
	d.deps.Refunds = r
}

// Dispatch schedules refund timers inline and runs the remaining effects in the
// background, preserving per-order effect order.
func (d *Dispatcher) Dispatch(o Order, effects []Effect, topics ...string) {
	var async []Effect
	for _, e := range effects {
		switch e.Kind {
		case EffectAppendTracking, EffectSetPaymentPaid:
			// applied by the engine
		case EffectScheduleRefund:
			if d.deps.Refunds == nil {
				d.log.Error().Str("order_code", e.OrderCode).Msg("refund scheduler not configured")
				continue
			}
			if err := d.deps.Refunds.Schedule(context.Background(), e.OrderCode, e.Delay); err != nil {
				d.log.Error().Err(err).Str("order_code", e.OrderCode).Msg("schedule refund")
			}
		case EffectCancelRefund:
			if d.deps.Refunds != nil {
				d.deps.Refunds.Cancel(e.OrderCode)
			}
		default:
			async = append(async, e)
		}
	}
	if len(topics) == 0 {
		topics = []string{TopicOrders, TopicDashboard}
	}

	d.mu.Lock()
	st, ok := d.inflight[o.Code]
	if !ok {
		st = &batchState{synced: -1}
		d.inflight[o.Code] = st
	}
	st.pending++
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(o.Code)
		unlock := d.order.Lock(o.Code)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), d.deps.Timeout)
		defer cancel()
		for _, e := range async {
			if e.Kind == EffectSyncLedger && !d.claimLedger(o) {
				d.log.Debug().Str("order_code", o.Code).Int("version", o.Version).Msg("stale ledger sync skipped")
				continue
			}
			d.run(ctx, o, e)
		}
		d.emit(ctx, o, topics)
	}()
}

// claimLedger reports whether o is at least as new as the last state mirrored
// to the ledger; batches can acquire the per-order lock out of dispatch order.
func (d *Dispatcher) claimLedger(o Order) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.inflight[o.Code]
	if st == nil {
		return true
	}
	if o.Version < st.synced {
		return false
	}
	st.synced = o.Version
	return true
}

func (d *Dispatcher) release(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.inflight[code]; st != nil {
		st.pending--
		if st.pending == 0 {
			delete(d.inflight, code)
		}
	}
}

// Wait blocks until all in-flight effect batches finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, o Order, e Effect) {
	log := d.log.With().Str("order_code", e.OrderCode).Str("effect", string(e.Kind)).Logger()
	switch e.Kind {
	case EffectSyncLedger:
		if d.deps.Ledger == nil {
			return
		}
		if err := d.deps.Ledger.Sync(ctx, o, e.Bucket); err != nil {
			log.Warn().Err(err).Str("bucket", string(e.Bucket)).Msg("ledger sync failed")
		}
	case EffectNotify:
		if d.deps.Notifier == nil {
			return
		}
		if d.deps.Deduper != nil {
			first, err := d.deps.Deduper.FirstSeen(ctx, e.Key())
			if err != nil {
				log.Debug().Err(err).Msg("notify dedupe unavailable")
			} else if !first {
				log.Debug().Str("template", e.Template).Msg("duplicate notification dropped")
				return
			}
		}
		if err := d.deps.Notifier.Send(ctx, e.Channel, e.Recipient, e.Template, e.Params); err != nil {
			log.Warn().Err(err).Str("template", e.Template).Str("channel", string(e.Channel)).Msg("notification failed")
		}
	case EffectUpdateDailyRevenue:
		if d.deps.Stats == nil {
			return
		}
		if err := d.deps.Stats.RecordCompletion(ctx, e.OrderCode, e.Amount, e.Day); err != nil {
			log.Error().Err(err).Str("day", e.Day).Msg("daily revenue update failed")
		}
	default:
		log.Warn().Msg("unhandled effect")
	}
}

func (d *Dispatcher) emit(ctx context.Context, o Order, topics []string) {
	if d.deps.Events == nil {
		return
	}
	payload := map[string]any{
		"code":           o.Code,
		"status":         o.Status,
		"payment_status": o.Payment.Status,
		"refund_status":  o.Refund.Status,
	}
	for _, t := range topics {
		if err := d.deps.Events.Emit(ctx, t, payload); err != nil {
			d.log.Debug().Err(err).Str("topic", t).Msg("event emit failed")
		}
	}
}
