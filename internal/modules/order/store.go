// README: Order store backed by PostgreSQL; versioned saves plus the retention scans.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const orderColumns = `
	code, id, customer_phone, customer_name, customer_email, customer_address,
	items, total, service_type, status,
	payment_status, payment_method, gateway_order_id, payment_ref, paid_at,
	refund_status, refund_reason, refund_id, refund_amount, refund_requested_at, refund_completed_at,
	assignee_id, assignee_name, assigned_at,
	tracking, hidden, status_updated_at, delivered_at, created_at, updated_at, version`

func (s *Store) Create(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	tracking, err := json.Marshal(o.Tracking)
	if err != nil {
		return err
	}
	_, err = infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21,
			$22, $23, $24,
			$25, $26, $27, $28, $29, $30, $31
		)`,
		o.Code, string(o.ID), o.Customer.Phone, o.Customer.Name, o.Customer.Email, o.Customer.Address,
		items, int64(o.Total), string(o.ServiceType), string(o.Status),
		string(o.Payment.Status), string(o.Payment.Method), o.Payment.GatewayOrderID, o.Payment.PaymentRef, o.Payment.PaidAt,
		string(o.Refund.Status), o.Refund.Reason, o.Refund.RefundID, moneyPtr(o.Refund.Amount), o.Refund.RequestedAt, o.Refund.CompletedAt,
		o.Assignment.PartnerID, o.Assignment.PartnerName, o.Assignment.AssignedAt,
		tracking, o.Hidden, o.StatusUpdatedAt, o.DeliveredAt, o.CreatedAt, o.UpdatedAt, o.Version,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

func (s *Store) Get(ctx context.Context, code string) (*Order, error) {
	row := infra.Conn(ctx, s.db).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE code = $1`, code)
	return scanOrder(row)
}

func (s *Store) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	row := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE gateway_order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, gatewayOrderID)
	return scanOrder(row)
}

// Save writes every mutable column when the stored version matches, bumping it.
func (s *Store) Save(ctx context.Context, o *Order, expectedVersion int) (bool, error) {
	tracking, err := json.Marshal(o.Tracking)
	if err != nil {
		return false, err
	}
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE orders
		SET status = $1,
			payment_status = $2,
			payment_method = $3,
			gateway_order_id = $4,
			payment_ref = $5,
			paid_at = $6,
			refund_status = $7,
			refund_reason = $8,
			refund_id = $9,
			refund_amount = $10,
			refund_requested_at = $11,
			refund_completed_at = $12,
			assignee_id = $13,
			assignee_name = $14,
			assigned_at = $15,
			tracking = $16,
			status_updated_at = $17,
			delivered_at = $18,
			updated_at = $19,
			version = version + 1
		WHERE code = $20 AND version = $21`,
		string(o.Status),
		string(o.Payment.Status),
		string(o.Payment.Method),
		o.Payment.GatewayOrderID,
		o.Payment.PaymentRef,
		o.Payment.PaidAt,
		string(o.Refund.Status),
		o.Refund.Reason,
		o.Refund.RefundID,
		moneyPtr(o.Refund.Amount),
		o.Refund.RequestedAt,
		o.Refund.CompletedAt,
		o.Assignment.PartnerID,
		o.Assignment.PartnerName,
		o.Assignment.AssignedAt,
		tracking,
		o.StatusUpdatedAt,
		o.DeliveredAt,
		o.UpdatedAt,
		o.Code,
		expectedVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetGatewayOrderID(ctx context.Context, code, gatewayOrderID string) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE orders
		SET gateway_order_id = $2, updated_at = NOW(), version = version + 1
		WHERE code = $1 AND status = 'pending'`, code, gatewayOrderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListActive(ctx context.Context, limit int) ([]Order, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE hidden = FALSE
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]Order, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// ClaimHideable locks terminal, visible orders whose status settled before cutoff.
// Must run inside infra.WithTx; concurrent claimers skip locked rows.
func (s *Store) ClaimHideable(ctx context.Context, cutoff time.Time, limit int) ([]Order, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE hidden = FALSE
		  AND status IN ('delivered', 'cancelled', 'refunded')
		  AND status_updated_at < $1
		ORDER BY status_updated_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (s *Store) MarkHidden(ctx context.Context, codes []string) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE orders SET hidden = TRUE, updated_at = NOW()
		WHERE code = ANY($1) AND hidden = FALSE`, codes)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteHiddenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		DELETE FROM orders
		WHERE hidden = TRUE AND status_updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LiveTotals aggregates orders not yet rolled into cumulative statistics.
func (s *Store) LiveTotals(ctx context.Context) (int64, types.Money, error) {
	var count, revenue int64
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(total) FILTER (WHERE payment_status = 'paid' AND status <> 'cancelled'), 0)
		FROM orders
		WHERE hidden = FALSE`).Scan(&count, &revenue)
	if err != nil {
		return 0, 0, err
	}
	return count, types.Money(revenue), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var o Order
	var id, serviceType, status, paymentStatus, method, refundStatus string
	var items, tracking []byte
	var total int64
	var refundAmount *int64

	err := row.Scan(
		&o.Code, &id, &o.Customer.Phone, &o.Customer.Name, &o.Customer.Email, &o.Customer.Address,
		&items, &total, &serviceType, &status,
		&paymentStatus, &method, &o.Payment.GatewayOrderID, &o.Payment.PaymentRef, &o.Payment.PaidAt,
		&refundStatus, &o.Refund.Reason, &o.Refund.RefundID, &refundAmount, &o.Refund.RequestedAt, &o.Refund.CompletedAt,
		&o.Assignment.PartnerID, &o.Assignment.PartnerName, &o.Assignment.AssignedAt,
		&tracking, &o.Hidden, &o.StatusUpdatedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.ID = types.ID(id)
	o.Total = types.Money(total)
	o.ServiceType = ServiceType(serviceType)
	o.Status = Status(status)
	o.Payment.Status = PaymentStatus(paymentStatus)
	o.Payment.Method = PaymentMethod(method)
	o.Refund.Status = RefundStatus(refundStatus)
	if refundAmount != nil {
		m := types.Money(*refundAmount)
		o.Refund.Amount = &m
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", o.Code, err)
	}
	if err := json.Unmarshal(tracking, &o.Tracking); err != nil {
		return nil, fmt.Errorf("decode tracking of %s: %w", o.Code, err)
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func moneyPtr(m *types.Money) *int64 {
	if m == nil {
		return nil
	}
	v := int64(*m)
	return &v
}
