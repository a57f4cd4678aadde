package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
)

const subscriptionColumns = `
	id, identity, messageset_id, schedule_id, lang,
	next_sequence_number, initial_sequence_number, active, completed,
	process_status, meta, created_at, updated_at
`

func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.Identity,
		sub.MessageSetID,
		sub.ScheduleID,
		sub.Lang,
		sub.NextSequenceNumber,
		sub.InitialSequenceNumber,
		sub.Active,
		sub.Completed,
		sub.ProcessStatus,
		sub.Meta,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	var sub model.Subscription
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", notFound(err))
	}
	return &sub, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	query := `
		UPDATE subscriptions
		SET messageset_id = $1, schedule_id = $2, lang = $3,
			next_sequence_number = $4, initial_sequence_number = $5,
			active = $6, completed = $7, process_status = $8, meta = $9,
			updated_at = $10
		WHERE id = $11
	`
	sub.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		sub.MessageSetID,
		sub.ScheduleID,
		sub.Lang,
		sub.NextSequenceNumber,
		sub.InitialSequenceNumber,
		sub.Active,
		sub.Completed,
		sub.ProcessStatus,
		sub.Meta,
		sub.UpdatedAt,
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to update subscription: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to delete subscription: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) ListActive(ctx context.Context) ([]*model.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE active = TRUE AND completed = FALSE
		ORDER BY created_at ASC
	`
	var subs []*model.Subscription
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) ListForIdentity(ctx context.Context, identity string) ([]*model.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE identity = $1
		ORDER BY created_at ASC
	`
	var subs []*model.Subscription
	if err := r.db.SelectContext(ctx, &subs, query, identity); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for identity: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) ListDuplicateCandidates(ctx context.Context) ([]*model.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		ORDER BY identity, messageset_id, lang, active, completed, schedule_id, created_at
	`
	var subs []*model.Subscription
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("failed to list duplicate candidates: %w", err)
	}
	return subs, nil
}

// UpdateProcessStatusCAS is the conditional update backing the
// per-subscriber delivery mutex. Two concurrent triggers can both read a
// ready subscription, only one swap succeeds.
func (r *subscriptionRepository) UpdateProcessStatusCAS(ctx context.Context, id uuid.UUID, from, to model.ProcessStatus) (bool, error) {
	query := `
		UPDATE subscriptions
		SET process_status = $1, updated_at = $2
		WHERE id = $3 AND process_status = $4
	`
	result, err := r.db.ExecContext(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update process status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
