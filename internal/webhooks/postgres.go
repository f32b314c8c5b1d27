package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `id, url, events, secret, active, created_at`

// PostgresRepository stores subscriptions in the webhook_subscriptions and
// webhook_deliveries tables created by the store migrations.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, sub *Subscription) error {
	sub.ID = uuid.New()
	sub.CreatedAt = time.Now().UTC()
	sub.Active = true

	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.URL, sub.Events, sub.Secret, sub.Active, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[Subscription])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Subscription, error) {
	return r.query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions ORDER BY created_at, id`)
}

func (r *PostgresRepository) ListByEvent(ctx context.Context, eventType string) ([]*Subscription, error) {
	return r.query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM webhook_subscriptions
		 WHERE active AND ($1 = ANY(events) OR '*' = ANY(events))
		 ORDER BY created_at, id`, eventType)
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) RecordDelivery(ctx context.Context, d *Delivery) error {
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()

	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_deliveries
		   (id, subscription_id, event_id, event_type, status_code, attempt, success, error_message, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.SubscriptionID, d.EventID, d.EventType,
		d.StatusCode, d.Attempt, d.Success, d.ErrorMessage, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListDeliveries(ctx context.Context, subID uuid.UUID, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, subscription_id, event_id, event_type, status_code, attempt, success, error_message, delivered_at
		 FROM webhook_deliveries
		 WHERE subscription_id = $1
		 ORDER BY delivered_at DESC
		 LIMIT $2`, subID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[Delivery])
	if err != nil {
		return nil, fmt.Errorf("scan deliveries: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]*Subscription, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	subs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[Subscription])
	if err != nil {
		return nil, fmt.Errorf("scan subscriptions: %w", err)
	}
	return subs, nil
}
