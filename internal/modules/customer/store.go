// README: Customer profiles keyed by phone; upserted on every order, pruned when they never ordered.
package customer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"restaurantbot/internal/infra"
	"restaurantbot/internal/modules/order"
)

var ErrNotFound = errors.New("customer not found")

type Profile struct {
	Phone       string     `json:"phone"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	HasOrdered  bool       `json:"has_ordered"`
	CreatedAt   time.Time  `json:"created_at"`
	LastOrderAt *time.Time `json:"last_order_at,omitempty"`
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// RecordOrder upserts the profile as an ordering customer and reports whether the row is new.
func (s *Store) RecordOrder(ctx context.Context, c order.Customer, at time.Time) (bool, error) {
	var inserted bool
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		INSERT INTO customers (phone, name, email, has_ordered, created_at, last_order_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (phone) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE customers.name END,
			email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE customers.email END,
			has_ordered = TRUE,
			last_order_at = EXCLUDED.last_order_at
		RETURNING (xmax = 0)`,
		strings.TrimSpace(c.Phone), c.Name, c.Email, at,
	).Scan(&inserted)
	return inserted, err
}

// Register records a contact that has not ordered yet; existing profiles are left alone.
func (s *Store) Register(ctx context.Context, c order.Customer) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO customers (phone, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO NOTHING`,
		strings.TrimSpace(c.Phone), c.Name, c.Email)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Get(ctx context.Context, phone string) (*Profile, error) {
	var p Profile
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT phone, name, email, has_ordered, created_at, last_order_at
		FROM customers WHERE phone = $1`, phone).Scan(
		&p.Phone, &p.Name, &p.Email, &p.HasOrdered, &p.CreatedAt, &p.LastOrderAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PruneInactive deletes never-ordered contacts with no visible orders.
func (s *Store) PruneInactive(ctx context.Context) (int64, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		DELETE FROM customers c
		WHERE c.has_ordered = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM orders o WHERE o.customer_phone = c.phone AND o.hidden = FALSE
		  )`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
