package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/types"
)

type memRepo struct {
	mu      sync.Mutex
	snap    Snapshot
	reports map[string]Report
}

func newMemRepo() *memRepo {
	return &memRepo{reports: map[string]Report{}}
}

func (m *memRepo) Get(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memRepo) AddToday(_ context.Context, day string, orders, delivered int64, revenue types.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Today.Date > day {
		return nil
	}
	if m.snap.Today.Date != day {
		m.snap.Today = Today{Date: day}
	}
	m.snap.Today.Orders += orders
	m.snap.Today.Delivered += delivered
	m.snap.Today.Revenue += revenue
	return nil
}

func (m *memRepo) AddCumulative(_ context.Context, orders int64, revenue types.Money, customers int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Totals.Orders += orders
	m.snap.Totals.Revenue += revenue
	m.snap.Totals.Customers += customers
	return nil
}

func (m *memRepo) ResetToday(_ context.Context, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Today.Date >= day {
		return false, nil
	}
	m.snap.Today = Today{Date: day}
	return true, nil
}

func (m *memRepo) MergeReports(_ context.Context, reports []Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reports {
		cur, ok := m.reports[r.Day]
		if !ok {
			cur = newReport(r.Day)
		}
		cur.Merge(r)
		m.reports[r.Day] = cur
	}
	return nil
}

func (m *memRepo) Reports(_ context.Context, from, to string) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Report
	for day, r := range m.reports {
		if day >= from && day <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

type fixedLive struct {
	orders  int64
	revenue types.Money
}

func (f fixedLive) LiveTotals(context.Context) (int64, types.Money, error) {
	return f.orders, f.revenue, nil
}

func newTestService(t *testing.T, repo Repository, live LiveSource, now time.Time) *Service {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	s := NewService(repo, live, loc, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func done(code string, status order.Status, pay order.PaymentStatus, created time.Time, items ...order.LineItem) order.Order {
	var total types.Money
	for _, it := range items {
		total += it.Subtotal()
	}
	return order.Order{
		Code:        code,
		Items:       items,
		Total:       total,
		ServiceType: order.ServiceDelivery,
		Status:      status,
		Payment:     order.Payment{Status: pay},
		CreatedAt:   created,
	}
}

func TestRecordDeletionRollup(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, repo, nil, now)

	naan := order.LineItem{Name: "Butter Naan", Category: "Breads", UnitPrice: 6000, Quantity: 2}
	paneer := order.LineItem{Name: "Paneer Tikka", Category: "Starters", UnitPrice: 25000, Quantity: 1}
	// 20:00 UTC on the 9th is already the 10th in IST
	orders := []order.Order{
		done("ORD1", order.StatusDelivered, order.PaymentPaid, now.Add(-2*time.Hour), naan, paneer),
		done("ORD2", order.StatusCancelled, order.PaymentCancelled, now.Add(-3*time.Hour), paneer),
		done("ORD3", order.StatusRefunded, order.PaymentRefunded, now.Add(-4*time.Hour), paneer),
		done("ORD4", order.StatusCancelled, order.PaymentPaid, now.Add(-5*time.Hour), naan),
		done("ORD5", order.StatusDelivered, order.PaymentPaid, time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC), naan),
		done("ORD6", order.StatusDelivered, order.PaymentPaid, time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC), paneer),
	}
	require.NoError(t, s.RecordDeletionRollup(ctx, orders))

	snap, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.Totals.Orders)
	assert.Equal(t, types.Money(37000+12000+25000), snap.Totals.Revenue)

	day10 := repo.reports["2024-03-10"]
	assert.Equal(t, int64(5), day10.TotalOrders)
	assert.Equal(t, int64(2), day10.Delivered)
	assert.Equal(t, int64(2), day10.Cancelled)
	assert.Equal(t, int64(1), day10.Refunded)
	assert.Equal(t, types.Money(49000), day10.Revenue)
	assert.Equal(t, Tally{Quantity: 4, Revenue: 24000}, day10.Items["Butter Naan"])
	assert.Equal(t, Tally{Quantity: 1, Revenue: 25000}, day10.Categories["Starters"])
	assert.Equal(t, int64(5), day10.ServiceTypes["delivery"])

	day9 := repo.reports["2024-03-09"]
	assert.Equal(t, int64(1), day9.TotalOrders)
	assert.Equal(t, types.Money(25000), day9.Revenue)
}

func TestRollupIsAdditive(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, repo, nil, now)
	tea := order.LineItem{Name: "Tea", UnitPrice: 2000, Quantity: 1}

	require.NoError(t, s.RecordDeletionRollup(ctx, []order.Order{done("ORD1", order.StatusDelivered, order.PaymentPaid, now, tea)}))
	require.NoError(t, s.RecordDeletionRollup(ctx, []order.Order{done("ORD2", order.StatusDelivered, order.PaymentPaid, now, tea)}))

	r := repo.reports["2024-03-10"]
	assert.Equal(t, int64(2), r.TotalOrders)
	assert.Equal(t, Tally{Quantity: 2, Revenue: 4000}, r.Items["Tea"])
	assert.Equal(t, Tally{Quantity: 2, Revenue: 4000}, r.Categories["Uncategorised"])
}

func TestDashboardCombinesArchivedAndLive(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, repo, fixedLive{orders: 3, revenue: 15000}, now)

	require.NoError(t, repo.AddCumulative(ctx, 10, 100000, 4))
	require.NoError(t, s.RecordPlacement(ctx, now))
	require.NoError(t, s.RecordCompletion(ctx, "ORD1", 15000, "2024-03-10"))

	d, err := s.GetDashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{Orders: 13, Revenue: 115000, Customers: 4}, d.Combined)
	assert.Equal(t, Today{Date: "2024-03-10", Orders: 1, Delivered: 1, Revenue: 15000}, d.Today)
}

func TestDashboardHidesYesterdaysCounters(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, repo, nil, now)
	require.NoError(t, repo.AddToday(ctx, "2024-03-09", 7, 5, 90000))

	d, err := s.GetDashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, Today{Date: "2024-03-10"}, d.Today)
}

func TestResetTodayIfStale(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, repo, nil, now)
	require.NoError(t, repo.AddToday(ctx, "2024-03-09", 7, 5, 90000))

	reset, err := s.ResetTodayIfStale(ctx, now)
	require.NoError(t, err)
	assert.True(t, reset)

	reset, err = s.ResetTodayIfStale(ctx, now)
	require.NoError(t, err)
	assert.False(t, reset)

	snap, _ := repo.Get(ctx)
	assert.Equal(t, Today{Date: "2024-03-10"}, snap.Today)
}

func TestReportHistoryOrdersBounds(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, repo, nil, now)
	repo.reports["2024-03-08"] = newReport("2024-03-08")
	repo.reports["2024-03-11"] = newReport("2024-03-11")

	got, err := s.ReportHistory(context.Background(), "2024-03-10", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-03-08", got[0].Day)
}
