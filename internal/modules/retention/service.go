// README: Retention pipeline; roll up and hide settled orders, purge old hidden ones, prune customers.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"restaurantbot/internal/config"
	"restaurantbot/internal/modules/order"
)

// ErrRetentionSkip means nothing was eligible; callers treat it as a quiet no-op.
var ErrRetentionSkip = errors.New("nothing eligible for retention")

type OrderStore interface {
	// ClaimHideable must lock the returned rows for the surrounding transaction.
	ClaimHideable(ctx context.Context, cutoff time.Time, limit int) ([]order.Order, error)
	MarkHidden(ctx context.Context, codes []string) (int64, error)
	DeleteHiddenBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Rollup interface {
	RecordDeletionRollup(ctx context.Context, orders []order.Order) error
	ResetTodayIfStale(ctx context.Context, now time.Time) (bool, error)
}

type CustomerPruner interface {
	PruneInactive(ctx context.Context) (int64, error)
}

// TxFunc runs fn in one transaction; stores called with the derived ctx join it.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	orders    OrderStore
	stats     Rollup
	customers CustomerPruner
	tx        TxFunc
	cfg       config.RetentionConfig
	log       zerolog.Logger
}

func NewService(orders OrderStore, stats Rollup, customers CustomerPruner, tx TxFunc, cfg config.RetentionConfig, log zerolog.Logger) *Service {
	if tx == nil {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	if cfg.HideAfter <= 0 {
		cfg.HideAfter = time.Hour
	}
	if cfg.DeleteAfter <= 0 {
		cfg.DeleteAfter = 15 * 24 * time.Hour
	}
	if cfg.HideBatchLimit <= 0 {
		cfg.HideBatchLimit = 200
	}
	return &Service{
		orders:    orders,
		stats:     stats,
		customers: customers,
		tx:        tx,
		cfg:       cfg,
		log:       log.With().Str("component", "retention").Logger(),
	}
}

// HideCompleted rolls terminal orders settled before now-HideAfter into statistics
// and hides them, batch by batch, each batch in its own transaction.
func (s *Service) HideCompleted(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.HideAfter)
	total := 0
	for {
		n, err := s.hideBatch(ctx, cutoff)
		if err != nil {
			return total, err
		}
		total += n
		if n < s.cfg.HideBatchLimit {
			break
		}
	}
	if total == 0 {
		return 0, ErrRetentionSkip
	}
	s.log.Info().Int("hidden", total).Time("cutoff", cutoff).Msg("orders hidden")
	return total, nil
}

func (s *Service) hideBatch(ctx context.Context, cutoff time.Time) (int, error) {
	hidden := 0
	err := s.tx(ctx, func(ctx context.Context) error {
		claimed, err := s.orders.ClaimHideable(ctx, cutoff, s.cfg.HideBatchLimit)
		if err != nil || len(claimed) == 0 {
			return err
		}
		if err := s.stats.RecordDeletionRollup(ctx, claimed); err != nil {
			return err
		}
		codes := make([]string, len(claimed))
		for i, o := range claimed {
			codes[i] = o.Code
		}
		n, err := s.orders.MarkHidden(ctx, codes)
		if err != nil {
			return err
		}
		if int(n) != len(codes) {
			return errors.New("hidden count does not match claimed orders")
		}
		hidden = len(codes)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return hidden, nil
}

// DeleteExpired removes hidden orders settled before now-DeleteAfter. Their
// statistics were already rolled up when they were hidden.
func (s *Service) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.cfg.DeleteAfter)
	n, err := s.orders.DeleteHiddenBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrRetentionSkip
	}
	s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("expired orders deleted")
	return n, nil
}

func (s *Service) PruneCustomers(ctx context.Context) (int64, error) {
	if s.customers == nil {
		return 0, ErrRetentionSkip
	}
	n, err := s.customers.PruneInactive(ctx)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrRetentionSkip
	}
	s.log.Info().Int64("pruned", n).Msg("inactive customers pruned")
	return n, nil
}

func (s *Service) ResetToday(ctx context.Context, now time.Time) (bool, error) {
	return s.stats.ResetTodayIfStale(ctx, now)
}
