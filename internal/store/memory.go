package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"CTPayments/internal/models"

	"github.com/google/uuid"
)

var _ OrderStore = (*Memory)(nil)

// Memory is an in-process OrderStore. Every method holds one lock, so the
// compare-and-swap in ConditionalTransition has the same single-winner
// semantics as the SQL implementation.
type Memory struct {
	Now func() time.Time

	mu     sync.Mutex
	orders map[string]*models.Order
	seqs   map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		Now:    func() time.Time { return time.Now().UTC() },
		orders: map[string]*models.Order{},
		seqs:   map[string]int64{},
	}
}

func (m *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.OrderNumber]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := m.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.PaymentStatus = models.PaymentPending
	m.orders[order.OrderNumber] = order.Clone()
	return nil
}

func (m *Memory) NextOrderNumber(ctx context.Context, day time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := day.UTC().Format("2006-01-02")
	m.seqs[key]++
	return FormatOrderNumber(day, m.seqs[key]), nil
}

func (m *Memory) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderNumber]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (m *Memory) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, order := range m.orders {
		if order.Reference() == reference {
			return order.Clone(), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *Memory) SetReference(ctx context.Context, orderNumber, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderNumber]
	if !ok || order.PaymentStatus != models.PaymentPending {
		return false, nil
	}
	order.PaymentReference = &reference
	order.UpdatedAt = m.Now()
	return true, nil
}

func (m *Memory) ConditionalTransition(ctx context.Context, orderNumber string, expected, next models.PaymentStatus, reference string) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderNumber]
	if !ok {
		return Transition{}, ErrOrderNotFound
	}
	if order.PaymentStatus != expected {
		return Transition{Applied: false, Order: order.Clone()}, nil
	}
	order.PaymentStatus = next
	if reference != "" {
		order.PaymentReference = &reference
	}
	order.UpdatedAt = m.Now()
	return Transition{Applied: true, Order: order.Clone()}, nil
}

func (m *Memory) AppendNote(ctx context.Context, orderNumber, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderNumber]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Notes == "" {
		order.Notes = text
	} else {
		order.Notes += "\n" + text
	}
	order.UpdatedAt = m.Now()
	return nil
}

func (m *Memory) FindStalePending(ctx context.Context, createdBefore time.Time) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Order
	for _, order := range m.orders {
		if order.PaymentStatus == models.PaymentPending && order.CreatedAt.Before(createdBefore) {
			out = append(out, order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListPendingWithReference(ctx context.Context, limit int) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Order
	for _, order := range m.orders {
		if order.PaymentStatus == models.PaymentPending && order.PaymentReference != nil {
			out = append(out, order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClaimReminder(ctx context.Context, orderNumber string, now, notAfter time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderNumber]
	if !ok || order.PaymentStatus != models.PaymentPending {
		return false, nil
	}
	if order.LastReminderAt != nil && !order.LastReminderAt.Before(notAfter) {
		return false, nil
	}
	order.LastReminderAt = &now
	order.ReminderCount++
	return true, nil
}
