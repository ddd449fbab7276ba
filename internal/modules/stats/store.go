// README: PostgreSQL persistence for the dashboard singleton and report history.
package stats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"restaurantbot/internal/infra"
	"restaurantbot/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var revenue, todayRevenue int64
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT total_orders, total_revenue, total_customers,
		       today_date, today_orders, today_delivered, today_revenue
		FROM dashboard_stats WHERE id = 1`).Scan(
		&snap.Totals.Orders, &revenue, &snap.Totals.Customers,
		&snap.Today.Date, &snap.Today.Orders, &snap.Today.Delivered, &todayRevenue,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	snap.Totals.Revenue = types.Money(revenue)
	snap.Today.Revenue = types.Money(todayRevenue)
	return snap, nil
}

func (s *Store) AddToday(ctx context.Context, day string, orders, delivered int64, revenue types.Money) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE dashboard_stats
		SET today_orders    = CASE WHEN today_date = $1 THEN today_orders ELSE 0 END + $2,
		    today_delivered = CASE WHEN today_date = $1 THEN today_delivered ELSE 0 END + $3,
		    today_revenue   = CASE WHEN today_date = $1 THEN today_revenue ELSE 0 END + $4,
		    today_date      = $1,
		    updated_at      = NOW()
		WHERE id = 1 AND today_date <= $1`, day, orders, delivered, int64(revenue))
	return err
}

func (s *Store) AddCumulative(ctx context.Context, orders int64, revenue types.Money, customers int64) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE dashboard_stats
		SET total_orders    = total_orders + $1,
		    total_revenue   = total_revenue + $2,
		    total_customers = total_customers + $3,
		    updated_at      = NOW()
		WHERE id = 1`, orders, int64(revenue), customers)
	return err
}

func (s *Store) ResetToday(ctx context.Context, day string) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE dashboard_stats
		SET today_date = $1, today_orders = 0, today_delivered = 0, today_revenue = 0, updated_at = NOW()
		WHERE id = 1 AND today_date < $1`, day)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MergeReports locks each day row, merges in Go and writes it back.
func (s *Store) MergeReports(ctx context.Context, reports []Report) error {
	return infra.WithTx(ctx, s.db, func(ctx context.Context) error {
		conn := infra.Conn(ctx, s.db)
		for _, add := range reports {
			cur := newReport(add.Day)
			row := conn.QueryRow(ctx, `
				SELECT day, total_orders, delivered_orders, cancelled_orders, refunded_orders, revenue,
				       items, categories, service_types
				FROM report_history WHERE day = $1 FOR UPDATE`, add.Day)
			existing, err := scanReport(row)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
			case err != nil:
				return err
			default:
				cur = existing
			}
			cur.Merge(add)

			items, err := json.Marshal(cur.Items)
			if err != nil {
				return err
			}
			cats, err := json.Marshal(cur.Categories)
			if err != nil {
				return err
			}
			svc, err := json.Marshal(cur.ServiceTypes)
			if err != nil {
				return err
			}
			if _, err := conn.Exec(ctx, `
				INSERT INTO report_history (day, total_orders, delivered_orders, cancelled_orders,
					refunded_orders, revenue, items, categories, service_types)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (day) DO UPDATE SET
					total_orders = EXCLUDED.total_orders,
					delivered_orders = EXCLUDED.delivered_orders,
					cancelled_orders = EXCLUDED.cancelled_orders,
					refunded_orders = EXCLUDED.refunded_orders,
					revenue = EXCLUDED.revenue,
					items = EXCLUDED.items,
					categories = EXCLUDED.categories,
					service_types = EXCLUDED.service_types,
					updated_at = NOW()`,
				cur.Day, cur.TotalOrders, cur.Delivered, cur.Cancelled, cur.Refunded, int64(cur.Revenue),
				items, cats, svc,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Reports(ctx context.Context, from, to string) ([]Report, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT day, total_orders, delivered_orders, cancelled_orders, refunded_orders, revenue,
		       items, categories, service_types
		FROM report_history
		WHERE day BETWEEN $1 AND $2
		ORDER BY day`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReport(row pgx.Row) (Report, error) {
	var r Report
	var revenue int64
	var items, cats, svc []byte
	if err := row.Scan(&r.Day, &r.TotalOrders, &r.Delivered, &r.Cancelled, &r.Refunded, &revenue,
		&items, &cats, &svc); err != nil {
		return Report{}, err
	}
	r.Revenue = types.Money(revenue)
	if err := json.Unmarshal(items, &r.Items); err != nil {
		return Report{}, err
	}
	if err := json.Unmarshal(cats, &r.Categories); err != nil {
		return Report{}, err
	}
	if err := json.Unmarshal(svc, &r.ServiceTypes); err != nil {
		return Report{}, err
	}
	return r, nil
}
