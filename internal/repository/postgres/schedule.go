package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
)

func (r *scheduleRepository) Create(ctx context.Context, schedule *model.Schedule) error {
	query := `
		INSERT INTO schedules (
			id, minute, hour, day_of_week, day_of_month, month_of_year,
			scheduler_ref, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	schedule.CreatedAt = time.Now()
	schedule.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.Minute,
		schedule.Hour,
		schedule.DayOfWeek,
		schedule.DayOfMonth,
		schedule.MonthOfYear,
		schedule.SchedulerRef,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	query := `
		SELECT id, minute, hour, day_of_week, day_of_month, month_of_year,
			   scheduler_ref, created_at, updated_at
		FROM schedules
		WHERE id = $1
	`
	var schedule model.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", notFound(err))
	}
	return &schedule, nil
}

func (r *scheduleRepository) Update(ctx context.Context, schedule *model.Schedule) error {
	query := `
		UPDATE schedules
		SET minute = $1, hour = $2, day_of_week = $3, day_of_month = $4,
			month_of_year = $5, scheduler_ref = $6, updated_at = $7
		WHERE id = $8
	`
	schedule.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		schedule.Minute,
		schedule.Hour,
		schedule.DayOfWeek,
		schedule.DayOfMonth,
		schedule.MonthOfYear,
		schedule.SchedulerRef,
		schedule.UpdatedAt,
		schedule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to update schedule: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *scheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to delete schedule: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *scheduleRepository) List(ctx context.Context) ([]*model.Schedule, error) {
	query := `
		SELECT id, minute, hour, day_of_week, day_of_month, month_of_year,
			   scheduler_ref, created_at, updated_at
		FROM schedules
		ORDER BY created_at ASC
	`
	var schedules []*model.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}
