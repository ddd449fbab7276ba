// README: Reconciles an order into its ledger bucket by business key; replays are harmless.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"restaurantbot/internal/modules/order"
)

// Loader reads the Order Store, the source of truth for reconstructed rows.
type Loader interface {
	Get(ctx context.Context, code string) (*order.Order, error)
	ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error)
}

type Syncer struct {
	ledger Ledger
	loader Loader
	loc    *time.Location
	log    zerolog.Logger
}

func NewSyncer(l Ledger, loader Loader, loc *time.Location, log zerolog.Logger) *Syncer {
	return &Syncer{
		ledger: l,
		loader: loader,
		loc:    loc,
		log:    log.With().Str("component", "ledger").Logger(),
	}
}

// Sync places o in bucket: refresh in place, else move from another bucket,
// else rebuild the row from the Order Store. Copies left in other buckets are
// removed afterwards so the order ends up with exactly one row.
func (s *Syncer) Sync(ctx context.Context, o order.Order, bucket order.Bucket) error {
	existing, err := s.ledger.FindRow(ctx, bucket, o.Code)
	if err != nil {
		return fmt.Errorf("%w: find %s in %s: %v", ErrLedgerSync, o.Code, bucket, err)
	}

	var movedFrom order.Bucket
	if existing == nil {
		for _, from := range order.Buckets {
			if from == bucket {
				continue
			}
			ok, err := s.ledger.MoveRow(ctx, from, bucket, o.Code)
			if err != nil {
				return fmt.Errorf("%w: move %s %s->%s: %v", ErrLedgerSync, o.Code, from, bucket, err)
			}
			if ok {
				s.log.Debug().Str("order_code", o.Code).Str("from", string(from)).Str("bucket", string(bucket)).Msg("ledger row moved")
				movedFrom = from
				break
			}
		}
		if movedFrom == "" && s.loader != nil {
			if fresh, err := s.loader.Get(ctx, o.Code); err == nil {
				o = *fresh
			} else {
				s.log.Debug().Err(err).Str("order_code", o.Code).Msg("reload for ledger rebuild")
			}
			s.log.Info().Str("order_code", o.Code).Str("bucket", string(bucket)).Msg("ledger row rebuilt from store")
		}
	}

	if _, err := s.ledger.UpsertRow(ctx, bucket, o.Code, RowFromOrder(o, s.loc)); err != nil {
		return fmt.Errorf("%w: upsert %s in %s: %v", ErrLedgerSync, o.Code, bucket, err)
	}

	// A move whose delete failed leaves the source copy behind.
	for _, other := range order.Buckets {
		if other == bucket || other == movedFrom {
			continue
		}
		removed, err := s.ledger.DeleteRow(ctx, other, o.Code)
		if err != nil {
			return fmt.Errorf("%w: remove %s from %s: %v", ErrLedgerSync, o.Code, other, err)
		}
		if removed {
			s.log.Info().Str("order_code", o.Code).Str("bucket", string(other)).Msg("stray ledger row removed")
		}
	}
	return nil
}

// ResyncStatus re-syncs every order currently in status into bucket.
func (s *Syncer) ResyncStatus(ctx context.Context, status order.Status, bucket order.Bucket) (int, error) {
	if s.loader == nil {
		return 0, errors.New("ledger resync needs an order loader")
	}
	orders, err := s.loader.ListByStatus(ctx, status)
	if err != nil {
		return 0, err
	}
	synced := 0
	var errs []error
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Sync(ctx, o, bucket); err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}
	s.log.Info().Str("status", string(status)).Str("bucket", string(bucket)).
		Int("synced", synced).Int("failed", len(errs)).Msg("ledger resync finished")
	return synced, errors.Join(errs...)
}
