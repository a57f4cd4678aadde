package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
)

func (r *messageSetRepository) Create(ctx context.Context, set *model.MessageSet) error {
	query := `
		INSERT INTO messagesets (
			id, short_name, content_type, next_set_id, default_schedule_id,
			channel, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if set.ID == uuid.Nil {
		set.ID = uuid.New()
	}
	set.CreatedAt = time.Now()
	set.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		set.ID,
		set.ShortName,
		set.ContentType,
		set.NextSetID,
		set.DefaultScheduleID,
		set.Channel,
		set.CreatedAt,
		set.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create messageset: %w", err)
	}
	return nil
}

func (r *messageSetRepository) Get(ctx context.Context, id uuid.UUID) (*model.MessageSet, error) {
	query := `
		SELECT id, short_name, content_type, next_set_id, default_schedule_id,
			   channel, created_at, updated_at
		FROM messagesets
		WHERE id = $1
	`
	var set model.MessageSet
	if err := r.db.GetContext(ctx, &set, query, id); err != nil {
		return nil, fmt.Errorf("failed to get messageset: %w", notFound(err))
	}
	return &set, nil
}

func (r *messageSetRepository) GetByShortName(ctx context.Context, shortName string) (*model.MessageSet, error) {
	query := `
		SELECT id, short_name, content_type, next_set_id, default_schedule_id,
			   channel, created_at, updated_at
		FROM messagesets
		WHERE short_name = $1
	`
	var set model.MessageSet
	if err := r.db.GetContext(ctx, &set, query, shortName); err != nil {
		return nil, fmt.Errorf("failed to get messageset by short name: %w", notFound(err))
	}
	return &set, nil
}

func (r *messageSetRepository) Update(ctx context.Context, set *model.MessageSet) error {
	query := `
		UPDATE messagesets
		SET short_name = $1, content_type = $2, next_set_id = $3,
			default_schedule_id = $4, channel = $5, updated_at = $6
		WHERE id = $7
	`
	set.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		set.ShortName,
		set.ContentType,
		set.NextSetID,
		set.DefaultScheduleID,
		set.Channel,
		set.UpdatedAt,
		set.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update messageset: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to update messageset: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *messageSetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messagesets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete messageset: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to delete messageset: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *messageSetRepository) List(ctx context.Context) ([]*model.MessageSet, error) {
	query := `
		SELECT id, short_name, content_type, next_set_id, default_schedule_id,
			   channel, created_at, updated_at
		FROM messagesets
		ORDER BY short_name ASC
	`
	var sets []*model.MessageSet
	if err := r.db.SelectContext(ctx, &sets, query); err != nil {
		return nil, fmt.Errorf("failed to list messagesets: %w", err)
	}
	return sets, nil
}
