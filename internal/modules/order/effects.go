// README: Side effects declared by transitions and executed by the dispatcher.
package order

import (
	"strings"
	"time"

	"restaurantbot/internal/modules/notify"
	"restaurantbot/internal/types"
)

type EffectKind string

const (
	EffectAppendTracking     EffectKind = "append_tracking"
	EffectSetPaymentPaid     EffectKind = "set_payment_paid"
	EffectScheduleRefund     EffectKind = "schedule_refund"
	EffectCancelRefund       EffectKind = "cancel_refund"
	EffectSyncLedger         EffectKind = "sync_ledger"
	EffectNotify             EffectKind = "notify"
	EffectUpdateDailyRevenue EffectKind = "update_daily_revenue"
)

// Effect carries the order code and target status so consumers can dedupe replays.
// AppendTracking and SetPaymentPaid are already applied to the returned order.
type Effect struct {
	Kind      EffectKind
	OrderCode string
	Target    Status

	Tracking *TrackingEntry
	Delay    time.Duration
	Bucket   Bucket

	Channel   notify.Channel
	Recipient string
	Template  string
	Params    map[string]string

	Amount types.Money
	Day    string
}

func (e Effect) Key() string {
	parts := []string{e.OrderCode, string(e.Kind), string(e.Target)}
	switch e.Kind {
	case EffectSyncLedger:
		parts = append(parts, string(e.Bucket))
	case EffectNotify:
		parts = append(parts, string(e.Channel), e.Recipient, e.Template)
	case EffectUpdateDailyRevenue:
		parts = append(parts, e.Day)
	}
	return strings.Join(parts, "|")
}

type Transition struct {
	Order   Order
	Effects []Effect
}

// Find returns the effects of the given kind, in declaration order.
func (t Transition) Find(kind EffectKind) []Effect {
	var out []Effect
	for _, e := range t.Effects {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
