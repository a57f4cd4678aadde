package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	cron "github.com/driplabs/drip-api/internal/schedule"
	"github.com/driplabs/drip-api/internal/scheduler"
	apperrors "github.com/driplabs/drip-api/pkg/errors"
	"github.com/driplabs/drip-api/pkg/logger"
)

// Service manages schedules and mirrors them to the external scheduler.
// Mirror sync is fire-and-forget: the local record is authoritative and
// a sync failure must not fail the caller's write.
type Service interface {
	Create(ctx context.Context, s *model.Schedule) error
	Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error)
	Update(ctx context.Context, s *model.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*model.Schedule, error)
}

type service struct {
	schedules repository.ScheduleRepository
	mirror    scheduler.Mirror
	logger    *logger.Logger
}

func NewService(schedules repository.ScheduleRepository, mirror scheduler.Mirror, log *logger.Logger) Service {
	return &service{schedules: schedules, mirror: mirror, logger: log}
}

func (s *service) Create(ctx context.Context, sched *model.Schedule) error {
	if _, err := cron.Parse(sched); err != nil {
		return apperrors.NewBadRequest("invalid schedule", err)
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	go s.syncCreate(sched)
	return nil
}

func (s *service) syncCreate(sched *model.Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ref, err := s.mirror.CreateSchedule(ctx, sched)
	if err != nil {
		s.logger.Error(err, "failed to mirror schedule to external scheduler", "schedule_id", sched.ID)
		return
	}
	sched.SchedulerRef = &ref
	if err := s.schedules.Update(ctx, sched); err != nil {
		s.logger.Error(err, "failed to store scheduler ref", "schedule_id", sched.ID)
	}
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	sched, err := s.schedules.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("schedule", err)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return sched, nil
}

func (s *service) Update(ctx context.Context, sched *model.Schedule) error {
	if _, err := cron.Parse(sched); err != nil {
		return apperrors.NewBadRequest("invalid schedule", err)
	}
	if err := s.schedules.Update(ctx, sched); err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	if sched.SchedulerRef != nil {
		ref := *sched.SchedulerRef
		snapshot := *sched
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.mirror.UpdateSchedule(ctx, ref, &snapshot); err != nil {
				s.logger.Error(err, "failed to mirror schedule update", "schedule_id", snapshot.ID)
			}
		}()
	}
	return nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.schedules.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	if sched.SchedulerRef != nil {
		ref := *sched.SchedulerRef
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.mirror.DeleteSchedule(ctx, ref); err != nil {
				s.logger.Error(err, "failed to remove mirrored schedule", "schedule_id", id)
			}
		}()
	}
	return nil
}

func (s *service) List(ctx context.Context) ([]*model.Schedule, error) {
	schedules, err := s.schedules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}
