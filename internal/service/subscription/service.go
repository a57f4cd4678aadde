package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/dispatch"
	"github.com/driplabs/drip-api/internal/lifecycle"
	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	apperrors "github.com/driplabs/drip-api/pkg/errors"
	"github.com/driplabs/drip-api/pkg/logger"
	"github.com/driplabs/drip-api/pkg/metrics"
)

// Service owns the subscription state machine: creation, cursor
// advancement, completion with chaining, resends, and catch-up
// projection. Delivery side effects go through the enqueuer, never
// inline.
type Service interface {
	Create(ctx context.Context, sub *model.Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	ListForIdentity(ctx context.Context, identity string) ([]*model.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID) error

	// Advance moves the cursor after a confirmed delivery. At the last
	// message it completes the subscription and, when the set names a
	// successor, creates the follow-on subscription.
	Advance(ctx context.Context, sub *model.Subscription) error
	MarkComplete(ctx context.Context, id uuid.UUID) error

	// TriggerSend enqueues one delivery attempt, called by the external
	// scheduler firing a subscription's cron.
	TriggerSend(ctx context.Context, id uuid.UUID) error
	RequestResend(ctx context.Context, id uuid.UUID) (*model.ResendRequest, error)

	// Reset is the manual recovery for subscriptions parked in error or
	// stuck in-process: back to ready so the next trigger delivers.
	Reset(ctx context.Context, id uuid.UUID) error

	// FastForward projects the subscription to where its schedule says
	// it should be, persisting the walk when save is true.
	FastForward(ctx context.Context, id uuid.UUID, at time.Time, save bool) ([]*model.Subscription, error)

	// MessagesBehind reports how many deliveries the subscription trails
	// its schedule by at the given instant, without mutating anything.
	MessagesBehind(ctx context.Context, id uuid.UUID, at time.Time) (int, error)
}

type service struct {
	subs      repository.SubscriptionRepository
	sets      repository.MessageSetRepository
	messages  repository.MessageRepository
	resends   repository.ResendRequestRepository
	projector *lifecycle.Projector
	enqueuer  dispatch.Enqueuer
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewService(
	subs repository.SubscriptionRepository,
	sets repository.MessageSetRepository,
	messages repository.MessageRepository,
	resends repository.ResendRequestRepository,
	projector *lifecycle.Projector,
	enqueuer dispatch.Enqueuer,
	m *metrics.Metrics,
	log *logger.Logger,
) Service {
	return &service{
		subs:      subs,
		sets:      sets,
		messages:  messages,
		resends:   resends,
		projector: projector,
		enqueuer:  enqueuer,
		metrics:   m,
		logger:    log,
	}
}

func (s *service) Create(ctx context.Context, sub *model.Subscription) error {
	if sub.Identity == "" {
		return apperrors.NewBadRequest("identity is required", nil)
	}
	set, err := s.sets.Get(ctx, sub.MessageSetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("message set", err)
		}
		return fmt.Errorf("failed to load message set: %w", err)
	}

	if sub.ScheduleID == uuid.Nil {
		sub.ScheduleID = set.DefaultScheduleID
	}
	if sub.Lang == "" {
		sub.Lang = "eng"
	}
	if sub.NextSequenceNumber < 1 {
		sub.NextSequenceNumber = 1
	}
	sub.InitialSequenceNumber = sub.NextSequenceNumber
	sub.Active = true
	sub.Completed = false
	sub.ProcessStatus = model.ProcessStatusReady

	if err := s.subs.Create(ctx, sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	s.metrics.SubscriptionsCreated.Inc()
	s.metrics.SubscriptionsActive.Inc()
	s.logger.Info("subscription created",
		"subscription_id", sub.ID,
		"identity", sub.Identity,
		"set", set.ShortName,
		"initial_sequence", sub.InitialSequenceNumber)
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("subscription", err)
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *service) ListForIdentity(ctx context.Context, identity string) ([]*model.Subscription, error) {
	subs, err := s.subs.ListForIdentity(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sub.Active {
		return nil
	}
	sub.Active = false
	sub.ProcessStatus = model.ProcessStatusInvalid
	if err := s.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	s.metrics.SubscriptionsActive.Dec()
	s.logger.Info("subscription cancelled", "subscription_id", id)
	return nil
}

// Advance claims the subscription before touching the cursor, so two
// post-process stages racing over the same task advance at most once.
func (s *service) Advance(ctx context.Context, sub *model.Subscription) error {
	swapped, err := s.subs.UpdateProcessStatusCAS(ctx, sub.ID,
		model.ProcessStatusReady, model.ProcessStatusInProcess)
	if err != nil {
		return fmt.Errorf("failed to claim subscription for advance: %w", err)
	}
	if !swapped {
		return apperrors.NewBenignAbort("subscription is not ready to advance")
	}

	count, err := s.messages.CountForLang(ctx, sub.MessageSetID, sub.Lang)
	if err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}

	if sub.NextSequenceNumber >= count {
		return s.completeAndChain(ctx, sub)
	}

	sub.NextSequenceNumber++
	sub.ProcessStatus = model.ProcessStatusReady
	if err := s.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to advance subscription: %w", err)
	}
	s.logger.Debug("subscription advanced",
		"subscription_id", sub.ID,
		"next_sequence", sub.NextSequenceNumber)
	return nil
}

func (s *service) MarkComplete(ctx context.Context, id uuid.UUID) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.Completed {
		return nil
	}
	return s.completeAndChain(ctx, sub)
}

// completeAndChain closes out the subscription and, when the message
// set names a successor, starts the subscriber at its first message.
func (s *service) completeAndChain(ctx context.Context, sub *model.Subscription) error {
	wasActive := sub.Active
	sub.Completed = true
	sub.Active = false
	sub.ProcessStatus = model.ProcessStatusCompleted
	if err := s.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to complete subscription: %w", err)
	}
	s.metrics.SubscriptionsCompleted.Inc()
	if wasActive {
		s.metrics.SubscriptionsActive.Dec()
	}
	s.logger.Info("subscription completed", "subscription_id", sub.ID)

	set, err := s.sets.Get(ctx, sub.MessageSetID)
	if err != nil {
		return fmt.Errorf("failed to load message set: %w", err)
	}
	if set.NextSetID == nil {
		return nil
	}
	if *set.NextSetID == set.ID {
		s.logger.Warn("message set names itself as successor, not chaining", "set", set.ShortName)
		return nil
	}
	nextSet, err := s.sets.Get(ctx, *set.NextSetID)
	if err != nil {
		return fmt.Errorf("failed to load successor set: %w", err)
	}

	successor := &model.Subscription{
		Identity:              sub.Identity,
		MessageSetID:          nextSet.ID,
		ScheduleID:            nextSet.DefaultScheduleID,
		Lang:                  sub.Lang,
		NextSequenceNumber:    1,
		InitialSequenceNumber: 1,
		Active:                true,
		ProcessStatus:         model.ProcessStatusReady,
	}
	if err := s.subs.Create(ctx, successor); err != nil {
		return fmt.Errorf("failed to create successor subscription: %w", err)
	}
	s.metrics.SubscriptionsCreated.Inc()
	s.metrics.SubscriptionsActive.Inc()
	s.logger.Info("subscription chained",
		"subscription_id", sub.ID,
		"successor_id", successor.ID,
		"successor_set", nextSet.ShortName)
	return nil
}

func (s *service) TriggerSend(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.enqueuer.EnqueueSend(ctx, id)
}

func (s *service) Reset(ctx context.Context, id uuid.UUID) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	switch sub.ProcessStatus {
	case model.ProcessStatusReady:
		return nil
	case model.ProcessStatusError, model.ProcessStatusInProcess:
	default:
		return apperrors.NewConflict(
			fmt.Sprintf("cannot reset subscription in status %s", sub.ProcessStatus), nil)
	}

	previous := sub.ProcessStatus
	sub.ProcessStatus = model.ProcessStatusReady
	if err := s.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to reset subscription: %w", err)
	}
	s.logger.Info("subscription reset to ready",
		"subscription_id", id,
		"previous_status", previous.String())
	return nil
}

func (s *service) RequestResend(ctx context.Context, id uuid.UUID) (*model.ResendRequest, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	seq := sub.NextSequenceNumber - 1
	if seq < 1 {
		seq = 1
	}
	message, err := s.messages.GetBySequence(ctx, sub.MessageSetID, seq, sub.Lang)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("message", err)
		}
		return nil, fmt.Errorf("failed to resolve resend message: %w", err)
	}

	req := &model.ResendRequest{
		SubscriptionID: sub.ID,
		MessageID:      &message.ID,
	}
	if err := s.resends.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create resend request: %w", err)
	}
	if err := s.enqueuer.EnqueueResend(ctx, sub.ID, req.ID); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *service) FastForward(ctx context.Context, id uuid.UUID, at time.Time, save bool) ([]*model.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	chain, err := s.projector.FastForwardLifecycle(ctx, sub, at, save)
	if err != nil {
		return nil, err
	}
	if save {
		s.metrics.FastForwards.Inc()
	}
	return chain, nil
}

func (s *service) MessagesBehind(ctx context.Context, id uuid.UUID, at time.Time) (int, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.projector.MessagesBehind(ctx, sub, at)
}
