// README: Statistics aggregator; today counters, hide-time rollups and the combined dashboard.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/types"
)

type Repository interface {
	Get(ctx context.Context) (Snapshot, error)
	// AddToday applies deltas to day, zeroing counters first when the stored day is older.
	AddToday(ctx context.Context, day string, orders, delivered int64, revenue types.Money) error
	AddCumulative(ctx context.Context, orders int64, revenue types.Money, customers int64) error
	// ResetToday reports whether the stored day was older than day and got reset.
	ResetToday(ctx context.Context, day string) (bool, error)
	MergeReports(ctx context.Context, reports []Report) error
	Reports(ctx context.Context, from, to string) ([]Report, error)
}

type LiveSource interface {
	LiveTotals(ctx context.Context) (int64, types.Money, error)
}

type Service struct {
	repo Repository
	live LiveSource
	loc  *time.Location
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo Repository, live LiveSource, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo: repo,
		live: live,
		loc:  loc,
		log:  log.With().Str("component", "stats").Logger(),
		now:  time.Now,
	}
}

func (s *Service) day(t time.Time) string {
	return types.DayKey(t, s.loc)
}

func (s *Service) RecordPlacement(ctx context.Context, at time.Time) error {
	return s.repo.AddToday(ctx, s.day(at), 1, 0, 0)
}

func (s *Service) RecordNewCustomer(ctx context.Context) error {
	return s.repo.AddCumulative(ctx, 0, 0, 1)
}

// RecordCompletion counts a delivery and its revenue toward day.
func (s *Service) RecordCompletion(ctx context.Context, code string, amount types.Money, day string) error {
	if day == "" {
		day = s.day(s.now())
	}
	if err := s.repo.AddToday(ctx, day, 0, 1, amount); err != nil {
		return err
	}
	s.log.Debug().Str("order_code", code).Str("day", day).Int64("amount", int64(amount)).Msg("completion recorded")
	return nil
}

// RecordDeletionRollup folds orders into cumulative totals and report history.
// Callers guarantee each order is passed at most once.
func (s *Service) RecordDeletionRollup(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byDay := map[string]*Report{}
	var revenue types.Money
	for _, o := range orders {
		day := s.day(o.CreatedAt)
		r, ok := byDay[day]
		if !ok {
			nr := newReport(day)
			r = &nr
			byDay[day] = r
		}
		r.add(o)
		if CountsRevenue(o) {
			revenue += o.Total
		}
	}

	reports := make([]Report, 0, len(byDay))
	for _, r := range byDay {
		reports = append(reports, *r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Day < reports[j].Day })

	if err := s.repo.AddCumulative(ctx, int64(len(orders)), revenue, 0); err != nil {
		return err
	}
	if err := s.repo.MergeReports(ctx, reports); err != nil {
		return err
	}
	s.log.Info().Int("orders", len(orders)).Int64("revenue", int64(revenue)).Int("days", len(reports)).Msg("orders rolled up")
	return nil
}

// ResetTodayIfStale zeroes today's counters once the business day has changed.
func (s *Service) ResetTodayIfStale(ctx context.Context, now time.Time) (bool, error) {
	reset, err := s.repo.ResetToday(ctx, s.day(now))
	if err != nil {
		return false, err
	}
	if reset {
		s.log.Info().Str("day", s.day(now)).Msg("today counters reset")
	}
	return reset, nil
}

func (s *Service) GetDashboard(ctx context.Context) (Dashboard, error) {
	snap, err := s.repo.Get(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	today := snap.Today
	if current := s.day(s.now()); today.Date != current {
		today = Today{Date: current}
	}
	var live Live
	if s.live != nil {
		live.Orders, live.Revenue, err = s.live.LiveTotals(ctx)
		if err != nil {
			return Dashboard{}, err
		}
	}
	return Dashboard{
		Cumulative: snap.Totals,
		Today:      today,
		Live:       live,
		Combined: Totals{
			Orders:    snap.Totals.Orders + live.Orders,
			Revenue:   snap.Totals.Revenue + live.Revenue,
			Customers: snap.Totals.Customers,
		},
	}, nil
}

// ReportHistory returns reports for days in [from, to], both inclusive (YYYY-MM-DD).
func (s *Service) ReportHistory(ctx context.Context, from, to string) ([]Report, error) {
	if to == "" {
		to = s.day(s.now())
	}
	if from == "" {
		from = to
	}
	if from > to {
		from, to = to, from
	}
	return s.repo.Reports(ctx, from, to)
}
