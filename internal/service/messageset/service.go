package messageset

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	apperrors "github.com/driplabs/drip-api/pkg/errors"
	"github.com/driplabs/drip-api/pkg/logger"
)

// Service manages message sets and their messages. Successor edits are
// validated against cycles here, because the stored chain itself is a
// weak reference with no database-level guarantee.
type Service interface {
	Create(ctx context.Context, set *model.MessageSet) error
	Get(ctx context.Context, id uuid.UUID) (*model.MessageSet, error)
	GetByShortName(ctx context.Context, shortName string) (*model.MessageSet, error)
	Update(ctx context.Context, set *model.MessageSet) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*model.MessageSet, error)

	AddMessage(ctx context.Context, message *model.Message) error
	UpdateMessage(ctx context.Context, message *model.Message) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	ListMessages(ctx context.Context, setID uuid.UUID) ([]*model.Message, error)
}

type service struct {
	sets     repository.MessageSetRepository
	messages repository.MessageRepository
	logger   *logger.Logger
}

func NewService(sets repository.MessageSetRepository, messages repository.MessageRepository, log *logger.Logger) Service {
	return &service{sets: sets, messages: messages, logger: log}
}

func (s *service) Create(ctx context.Context, set *model.MessageSet) error {
	if set.ShortName == "" {
		return apperrors.NewBadRequest("short_name is required", nil)
	}
	if set.ContentType != model.ContentTypeText && set.ContentType != model.ContentTypeAudio {
		return apperrors.NewBadRequest(fmt.Sprintf("unknown content type %q", set.ContentType), nil)
	}
	if err := s.sets.Create(ctx, set); err != nil {
		return fmt.Errorf("failed to create message set: %w", err)
	}
	s.logger.Info("message set created", "set_id", set.ID, "short_name", set.ShortName)
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.MessageSet, error) {
	set, err := s.sets.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("message set", err)
		}
		return nil, fmt.Errorf("failed to get message set: %w", err)
	}
	return set, nil
}

func (s *service) GetByShortName(ctx context.Context, shortName string) (*model.MessageSet, error) {
	set, err := s.sets.GetByShortName(ctx, shortName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("message set", err)
		}
		return nil, fmt.Errorf("failed to get message set: %w", err)
	}
	return set, nil
}

func (s *service) Update(ctx context.Context, set *model.MessageSet) error {
	if set.NextSetID != nil {
		if err := s.checkSuccessorCycle(ctx, set.ID, *set.NextSetID); err != nil {
			return err
		}
	}
	if err := s.sets.Update(ctx, set); err != nil {
		return fmt.Errorf("failed to update message set: %w", err)
	}
	return nil
}

// checkSuccessorCycle walks the successor chain from the proposed next
// set and rejects the edit if it would lead back to the set being
// updated.
func (s *service) checkSuccessorCycle(ctx context.Context, setID, nextID uuid.UUID) error {
	seen := map[uuid.UUID]bool{setID: true}
	current := nextID
	for {
		if seen[current] {
			return apperrors.NewConflict("successor chain would form a cycle", nil)
		}
		seen[current] = true
		next, err := s.sets.Get(ctx, current)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewBadRequest("successor set does not exist", err)
			}
			return fmt.Errorf("failed to walk successor chain: %w", err)
		}
		if next.NextSetID == nil {
			return nil
		}
		current = *next.NextSetID
	}
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.sets.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("message set", err)
		}
		return fmt.Errorf("failed to delete message set: %w", err)
	}
	return nil
}

func (s *service) List(ctx context.Context) ([]*model.MessageSet, error) {
	sets, err := s.sets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list message sets: %w", err)
	}
	return sets, nil
}

func (s *service) AddMessage(ctx context.Context, message *model.Message) error {
	if err := s.validateMessage(ctx, message); err != nil {
		return err
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *service) UpdateMessage(ctx context.Context, message *model.Message) error {
	if err := s.validateMessage(ctx, message); err != nil {
		return err
	}
	if err := s.messages.Update(ctx, message); err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

func (s *service) validateMessage(ctx context.Context, message *model.Message) error {
	if !message.HasContent() {
		return apperrors.NewBadRequest("message must carry exactly one of text or binary content", nil)
	}
	if message.SequenceNumber < 1 {
		return apperrors.NewBadRequest("sequence_number must be positive", nil)
	}
	if message.Lang == "" {
		return apperrors.NewBadRequest("lang is required", nil)
	}
	if _, err := s.Get(ctx, message.MessageSetID); err != nil {
		return err
	}
	return nil
}

func (s *service) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	if err := s.messages.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("message", err)
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *service) ListMessages(ctx context.Context, setID uuid.UUID) ([]*model.Message, error) {
	messages, err := s.messages.List(ctx, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
