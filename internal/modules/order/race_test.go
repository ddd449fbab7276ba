// README: DB-backed concurrency tests for order transitions across service instances (run with -race).
package order

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurantbot/internal/infra"
)

func TestStoreVersionedSave(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	svc := NewService(store, testEngine(t), Deps{Logger: zerolog.Nop()})

	o, err := svc.PlaceOrder(ctx, PlaceCommand{
		Customer:    Customer{Phone: "+919800000010", Name: "Ravi"},
		Items:       []LineItem{{Name: "Masala Dosa", Category: "Mains", UnitPrice: 12000, Quantity: 2}},
		ServiceType: ServiceDelivery,
		Method:      MethodCOD,
	})
	require.NoError(t, err)

	loaded, err := store.Get(ctx, o.Code)
	require.NoError(t, err)
	assert.Equal(t, o.Items, loaded.Items)
	assert.Equal(t, 0, loaded.Version)

	loaded.Status = StatusConfirmed
	ok, err := store.Save(ctx, loaded, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Save(ctx, loaded, 0)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not overwrite")

	_, err = store.Get(ctx, "ORD000000NONE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentConfirmAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	// separate services own separate key locks, so only the version check serialises them
	a := NewService(store, testEngine(t), Deps{Logger: zerolog.Nop()})
	b := NewService(store, testEngine(t), Deps{Logger: zerolog.Nop()})

	o, err := a.PlaceOrder(ctx, PlaceCommand{
		Customer:    Customer{Phone: "+919800000011"},
		Items:       []LineItem{{Name: "Idli", UnitPrice: 5000, Quantity: 3}},
		ServiceType: ServiceDelivery,
		Method:      MethodCOD,
	})
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		svc := a
		if i%2 == 1 {
			svc = b
		}
		wg.Add(1)
		go func(s *Service) {
			defer wg.Done()
			_, _, err := s.ApplyTransition(ctx, o.Code, AdminStatusChange{Target: StatusConfirmed})
			errs <- err
		}(svc)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)

	final, err := store.Get(ctx, o.Code)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, final.Status)
	assert.Equal(t, 1, final.Version)
	confirms := 0
	for _, tr := range final.Tracking {
		if tr.Status == StatusConfirmed {
			confirms++
		}
	}
	assert.Equal(t, 1, confirms)
}

func TestConcurrentDeliverVsCancel(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	a := NewService(store, testEngine(t), Deps{Logger: zerolog.Nop()})
	b := NewService(store, testEngine(t), Deps{Logger: zerolog.Nop()})

	o, err := a.PlaceOrder(ctx, PlaceCommand{
		Customer:    Customer{Phone: "+919800000012"},
		Items:       []LineItem{{Name: "Biryani", UnitPrice: 30000, Quantity: 1}},
		ServiceType: ServiceDelivery,
		Method:      MethodCOD,
	})
	require.NoError(t, err)
	_, _, err = a.ApplyTransition(ctx, o.Code, AdminStatusChange{Target: StatusConfirmed})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, err := a.ApplyTransition(ctx, o.Code, AdminStatusChange{Target: StatusDelivered})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, _, err := b.ApplyTransition(ctx, o.Code, AdminStatusChange{Target: StatusCancelled})
		errs <- err
	}()
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		}
	}
	assert.Equal(t, 1, success)

	final, err := store.Get(ctx, o.Code)
	require.NoError(t, err)
	switch final.Status {
	case StatusDelivered:
		assert.Equal(t, PaymentPaid, final.Payment.Status)
	case StatusCancelled:
		assert.Equal(t, PaymentCancelled, final.Payment.Status)
	default:
		t.Fatalf("unexpected final status: %s", final.Status)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db := setupTestDB(t)
	return NewStore(db)
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("RB_TEST_DSN")
	if dsn == "" {
		t.Skip("RB_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn)
	require.NoError(t, err, "connect db")
	t.Cleanup(db.Close)

	require.NoError(t, infra.Migrate(ctx, db), "apply migrations")
	_, err = db.Exec(ctx, "TRUNCATE TABLE orders, customers, report_history")
	require.NoError(t, err, "truncate tables")
	return db
}
