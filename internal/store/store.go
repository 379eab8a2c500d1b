package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CTPayments/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
)

// Transition is the outcome of a conditional status write. Order always holds
// the stored state after the attempt.
type Transition struct {
	Applied bool
	Order   *models.Order
}

// OrderStore persists orders. ConditionalTransition is the only path into a
// terminal payment status and must be atomic at the storage layer.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	NextOrderNumber(ctx context.Context, day time.Time) (string, error)
	GetOrder(ctx context.Context, orderNumber string) (*models.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*models.Order, error)
	SetReference(ctx context.Context, orderNumber, reference string) (bool, error)
	ConditionalTransition(ctx context.Context, orderNumber string, expected, next models.PaymentStatus, reference string) (Transition, error)
	AppendNote(ctx context.Context, orderNumber, text string) error
	FindStalePending(ctx context.Context, createdBefore time.Time) ([]*models.Order, error)
	ListPendingWithReference(ctx context.Context, limit int) ([]*models.Order, error)
	ClaimReminder(ctx context.Context, orderNumber string, now, notAfter time.Time) (bool, error)
}

var _ OrderStore = (*Store)(nil)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	id, order_number, customer_name, customer_email, customer_phone,
	delivery_address, items, subtotal::text, delivery_fee::text, total::text,
	currency, payment_method, payment_status, payment_reference, notes,
	reminder_count, last_reminder_at, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.PaymentStatus = models.PaymentPending
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	row := s.Pool.QueryRow(ctx, `
		INSERT INTO orders (
			id, order_number, customer_name, customer_email, customer_phone,
			delivery_address, items, subtotal, delivery_fee, total,
			currency, payment_method, payment_status, payment_reference, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10::numeric,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at
	`,
		order.ID,
		order.OrderNumber,
		order.Customer.Name,
		order.Customer.Email,
		order.Customer.Phone,
		order.DeliveryAddress,
		items,
		order.Subtotal.String(),
		order.DeliveryFee.String(),
		order.Total.String(),
		order.Currency,
		order.PaymentMethod,
		order.PaymentStatus,
		order.PaymentReference,
		order.Notes,
	)
	if err := row.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
		}
		return err
	}
	return nil
}

func (s *Store) NextOrderNumber(ctx context.Context, day time.Time) (string, error) {
	day = day.UTC()
	var seq int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO order_number_sequences (day, last_value)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_value = order_number_sequences.last_value + 1
		RETURNING last_value
	`, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", err
	}
	return FormatOrderNumber(day, seq), nil
}

// FormatOrderNumber renders the storefront's human-readable number, e.g. CT-20250101-0001.
func FormatOrderNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("CT-%s-%04d", day.UTC().Format("20060102"), seq)
}

func (s *Store) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, orderNumber)
	return scanOrder(row)
}

func (s *Store) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference=$1`, reference)
	return scanOrder(row)
}

func (s *Store) SetReference(ctx context.Context, orderNumber, reference string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET payment_reference=$2, updated_at=now()
		WHERE order_number=$1 AND payment_status='pending'
	`, orderNumber, reference)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) ConditionalTransition(ctx context.Context, orderNumber string, expected, next models.PaymentStatus, reference string) (Transition, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE orders
		SET payment_status=$3,
			payment_reference=COALESCE(NULLIF($4, ''), payment_reference),
			updated_at=now()
		WHERE order_number=$1 AND payment_status=$2
		RETURNING `+orderColumns, orderNumber, expected, next, reference)
	order, err := scanOrder(row)
	if err == nil {
		return Transition{Applied: true, Order: order}, nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return Transition{}, err
	}

	current, err := s.GetOrder(ctx, orderNumber)
	if err != nil {
		return Transition{}, err
	}
	return Transition{Applied: false, Order: current}, nil
}

func (s *Store) AppendNote(ctx context.Context, orderNumber, text string) error {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
			updated_at=now()
		WHERE order_number=$1
	`, orderNumber, text)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// FindStalePending lists pending orders created before createdBefore, oldest first.
func (s *Store) FindStalePending(ctx context.Context, createdBefore time.Time) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status='pending' AND created_at < $1
		ORDER BY created_at
	`, createdBefore.UTC())
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (s *Store) ListPendingWithReference(ctx context.Context, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status='pending' AND payment_reference IS NOT NULL
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (s *Store) ClaimReminder(ctx context.Context, orderNumber string, now, notAfter time.Time) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET last_reminder_at=$2, reminder_count=reminder_count+1
		WHERE order_number=$1 AND payment_status='pending'
			AND (last_reminder_at IS NULL OR last_reminder_at < $3)
	`, orderNumber, now, notAfter)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func collectOrders(rows pgx.Rows) ([]*models.Order, error) {
	defer rows.Close()
	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var items []byte
	var subtotal, fee, total string

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.Customer.Name,
		&order.Customer.Email,
		&order.Customer.Phone,
		&order.DeliveryAddress,
		&items,
		&subtotal,
		&fee,
		&total,
		&order.Currency,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.PaymentReference,
		&order.Notes,
		&order.ReminderCount,
		&order.LastReminderAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	}
	if order.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, err
	}
	if order.DeliveryFee, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	return &order, nil
}
