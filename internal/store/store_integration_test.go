//go:build integration

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CTPayments/internal/db"
	"CTPayments/internal/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("orders"),
		postgres.WithUsername("orders"),
		postgres.WithPassword("orders"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../migrations", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	_, _ = m.Close()

	pool, err := db.Connect(ctx, dsn, 10)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestPostgresOrderLifecycle(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	number, err := s.NextOrderNumber(ctx, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "CT-20240501-0001", number)
	number2, err := s.NextOrderNumber(ctx, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "CT-20240501-0002", number2)

	order := newOrder(number)
	require.NoError(t, s.CreateOrder(ctx, order))
	assert.ErrorIs(t, s.CreateOrder(ctx, newOrder(number)), ErrDuplicateOrderNumber)

	got, err := s.GetOrder(ctx, number)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.PaymentStatus)
	assert.True(t, got.Total.Equal(order.Total))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Chapati", got.Items[0].Name)

	ok, err := s.SetReference(ctx, number, "ref-1")
	require.NoError(t, err)
	assert.True(t, ok)

	byRef, err := s.GetOrderByReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, number, byRef.OrderNumber)

	pending, err := s.ListPendingWithReference(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	tr, err := s.ConditionalTransition(ctx, number, models.PaymentPending, models.PaymentPaid, "ref-1")
	require.NoError(t, err)
	assert.True(t, tr.Applied)
	assert.Equal(t, models.PaymentPaid, tr.Order.PaymentStatus)

	tr, err = s.ConditionalTransition(ctx, number, models.PaymentPending, models.PaymentFailed, "")
	require.NoError(t, err)
	assert.False(t, tr.Applied)
	assert.Equal(t, models.PaymentPaid, tr.Order.PaymentStatus)

	_, err = s.ConditionalTransition(ctx, "missing", models.PaymentPending, models.PaymentPaid, "")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	require.NoError(t, s.AppendNote(ctx, number, "first"))
	require.NoError(t, s.AppendNote(ctx, number, "second"))
	got, err = s.GetOrder(ctx, number)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", got.Notes)
}

func TestPostgresConcurrentTransitionHasOneWinner(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder("CT-20240501-0001")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 20; i++ {
		next := models.PaymentPaid
		if i%2 == 1 {
			next = models.PaymentFailed
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := s.ConditionalTransition(ctx, "CT-20240501-0001", models.PaymentPending, next, "")
			assert.NoError(t, err)
			if tr.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)
}

func TestPostgresStaleAndReminders(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder("CT-20240501-0001")))
	require.NoError(t, s.CreateOrder(ctx, newOrder("CT-20240501-0002")))
	_, err := s.Pool.Exec(ctx, `UPDATE orders SET created_at = now() - interval '30 hours' WHERE order_number = $1`, "CT-20240501-0001")
	require.NoError(t, err)

	now := time.Now().UTC()
	stale, err := s.FindStalePending(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "CT-20240501-0001", stale[0].OrderNumber)

	stale, err = s.FindStalePending(ctx, now.Add(-31*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	claimed, err := s.ClaimReminder(ctx, "CT-20240501-0001", now, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = s.ClaimReminder(ctx, "CT-20240501-0001", now, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := s.GetOrder(ctx, "CT-20240501-0001")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderCount)
	require.NotNil(t, got.LastReminderAt)
}
