package webhooks

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a webhook subscription is not found.
	ErrNotFound = errors.New("webhook subscription not found")

	ErrInvalidURL   = errors.New("webhook URL must be absolute http or https")
	ErrUnknownEvent = errors.New("unknown event type")
)

// Repository persists subscriptions and delivery attempts.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	ListByEvent(ctx context.Context, eventType string) ([]*Subscription, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, subID uuid.UUID, limit int) ([]*Delivery, error)
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu         sync.RWMutex
	subs       map[uuid.UUID]*Subscription
	deliveries []*Delivery
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{subs: make(map[uuid.UUID]*Subscription)}
}

func (r *MemoryRepository) Create(_ context.Context, sub *Subscription) error {
	sub.ID = uuid.New()
	sub.CreatedAt = time.Now().UTC()
	sub.Active = true

	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	cp.Events = slices.Clone(sub.Events)
	r.subs[sub.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(*Subscription) bool { return true }), nil
}

func (r *MemoryRepository) ListByEvent(_ context.Context, eventType string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(s *Subscription) bool { return s.Wants(eventType) }), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *MemoryRepository) RecordDelivery(_ context.Context, d *Delivery) error {
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.deliveries = append(r.deliveries, &cp)
	return nil
}

// ListDeliveries returns the most recent attempts for subID, newest first.
func (r *MemoryRepository) ListDeliveries(_ context.Context, subID uuid.UUID, limit int) ([]*Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Delivery
	for i := len(r.deliveries) - 1; i >= 0; i-- {
		if d := r.deliveries[i]; d.SubscriptionID == subID {
			cp := *d
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// sortedLocked returns copies of matching subscriptions, oldest first.
func (r *MemoryRepository) sortedLocked(keep func(*Subscription) bool) []*Subscription {
	var out []*Subscription
	for _, s := range r.subs {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out
}
