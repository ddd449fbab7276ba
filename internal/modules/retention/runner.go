// README: Ticker loop driving the retention pipeline and the daily ledger re-sync.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"restaurantbot/internal/config"
	"restaurantbot/internal/modules/order"
)

type LedgerResyncer interface {
	ResyncStatus(ctx context.Context, status order.Status, bucket order.Bucket) (int, error)
}

type Runner struct {
	svc    *Service
	ledger LedgerResyncer
	cfg    config.RetentionConfig
	log    zerolog.Logger
	now    func() time.Time
}

func NewRunner(svc *Service, ledger LedgerResyncer, cfg config.RetentionConfig, log zerolog.Logger) *Runner {
	if cfg.HideEvery <= 0 {
		cfg.HideEvery = 5 * time.Minute
	}
	if cfg.DeleteEvery <= 0 {
		cfg.DeleteEvery = 24 * time.Hour
	}
	if cfg.MidnightEvery <= 0 {
		cfg.MidnightEvery = time.Minute
	}
	return &Runner{
		svc:    svc,
		ledger: ledger,
		cfg:    cfg,
		log:    log.With().Str("component", "retention_runner").Logger(),
		now:    time.Now,
	}
}

// Run blocks until ctx is done. Every job runs once at startup, so restarts
// shorter than a cadence never starve it.
func (r *Runner) Run(ctx context.Context) error {
	r.midnight(ctx)
	r.hide(ctx)
	r.daily(ctx)

	hide := time.NewTicker(r.cfg.HideEvery)
	defer hide.Stop()
	daily := time.NewTicker(r.cfg.DeleteEvery)
	defer daily.Stop()
	midnight := time.NewTicker(r.cfg.MidnightEvery)
	defer midnight.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hide.C:
			r.hide(ctx)
		case <-daily.C:
			r.daily(ctx)
		case <-midnight.C:
			r.midnight(ctx)
		}
	}
}

func (r *Runner) hide(ctx context.Context) {
	if _, err := r.svc.HideCompleted(ctx, r.now()); err != nil && !errors.Is(err, ErrRetentionSkip) {
		r.log.Error().Err(err).Msg("hide completed orders")
	}
}

func (r *Runner) daily(ctx context.Context) {
	now := r.now()
	if _, err := r.svc.DeleteExpired(ctx, now); err != nil && !errors.Is(err, ErrRetentionSkip) {
		r.log.Error().Err(err).Msg("delete expired orders")
	}
	if _, err := r.svc.PruneCustomers(ctx); err != nil && !errors.Is(err, ErrRetentionSkip) {
		r.log.Error().Err(err).Msg("prune customers")
	}
	if r.ledger != nil {
		if _, err := r.ledger.ResyncStatus(ctx, order.StatusCancelled, order.BucketCancelled); err != nil {
			r.log.Warn().Err(err).Msg("ledger resync of cancelled orders")
		}
	}
}

func (r *Runner) midnight(ctx context.Context) {
	if _, err := r.svc.ResetToday(ctx, r.now()); err != nil {
		r.log.Error().Err(err).Msg("reset today counters")
	}
}
