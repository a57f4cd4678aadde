package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/dispatch"
	"github.com/driplabs/drip-api/internal/lifecycle"
	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	"github.com/driplabs/drip-api/internal/scheduler"
	"github.com/driplabs/drip-api/pkg/logger"
	"github.com/driplabs/drip-api/pkg/metrics"
)

// DuplicateCluster groups subscriptions that target the same identity,
// message set, schedule, and language within the duplicate window. The
// earliest subscription is the keeper.
type DuplicateCluster struct {
	Identity      string                `json:"identity"`
	MessageSetID  uuid.UUID             `json:"messageset_id"`
	ScheduleID    uuid.UUID             `json:"schedule_id"`
	Lang          string                `json:"lang"`
	Subscriptions []*model.Subscription `json:"subscriptions"`
}

// Keeper returns the earliest-created subscription in the cluster.
func (c *DuplicateCluster) Keeper() *model.Subscription {
	return c.Subscriptions[0]
}

type Config struct {
	// DuplicateWindow bounds how far apart two creations can be and
	// still count as duplicates of each other.
	DuplicateWindow time.Duration
	// RequeueBatchSize caps how many send failures one requeue pass
	// drains.
	RequeueBatchSize int
}

// Service runs the periodic consistency checks: subscriptions lagging
// their schedule, duplicate subscriptions, and failed deliveries
// awaiting a retry.
type Service interface {
	FindBehindSubscriptions(ctx context.Context, at time.Time) ([]*model.BehindSubscription, error)
	FindDuplicates(ctx context.Context) ([]*DuplicateCluster, error)
	FixDuplicates(ctx context.Context) ([]*DuplicateCluster, error)
	RequeueFailures(ctx context.Context) (int, error)
}

type service struct {
	subs      repository.SubscriptionRepository
	behind    repository.BehindSubscriptionRepository
	failures  repository.SendFailureRepository
	projector *lifecycle.Projector
	enqueuer  dispatch.Enqueuer
	mirror    scheduler.Mirror
	metrics   *metrics.Metrics
	logger    *logger.Logger
	cfg       Config
}

func NewService(
	subs repository.SubscriptionRepository,
	behind repository.BehindSubscriptionRepository,
	failures repository.SendFailureRepository,
	projector *lifecycle.Projector,
	enqueuer dispatch.Enqueuer,
	mirror scheduler.Mirror,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg Config,
) Service {
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 10 * time.Minute
	}
	if cfg.RequeueBatchSize <= 0 {
		cfg.RequeueBatchSize = 100
	}
	return &service{
		subs:      subs,
		behind:    behind,
		failures:  failures,
		projector: projector,
		enqueuer:  enqueuer,
		mirror:    mirror,
		metrics:   m,
		logger:    log,
		cfg:       cfg,
	}
}

// FindBehindSubscriptions scans every active subscription and writes an
// audit record for each one whose delivered position trails what its
// schedule permits. Scan errors on a single subscription are logged and
// skipped so one broken schedule cannot hide the rest.
func (s *service) FindBehindSubscriptions(ctx context.Context, at time.Time) ([]*model.BehindSubscription, error) {
	subs, err := s.subs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}

	var found []*model.BehindSubscription
	for _, sub := range subs {
		behind, err := s.projector.MessagesBehind(ctx, sub, at)
		if err != nil {
			s.logger.Error(err, "failed to project subscription", "subscription_id", sub.ID)
			continue
		}
		if behind <= 0 {
			continue
		}

		record := &model.BehindSubscription{
			SubscriptionID:        sub.ID,
			MessagesBehind:        behind,
			CurrentMessageSetID:   sub.MessageSetID,
			CurrentSequenceNumber: sub.NextSequenceNumber,
		}
		if chain, err := s.projector.FastForwardLifecycle(ctx, sub, at, false); err == nil && len(chain) > 0 {
			expected := chain[len(chain)-1]
			record.ExpectedMessageSetID = &expected.MessageSetID
			record.ExpectedSequenceNumber = expected.NextSequenceNumber
		}

		if err := s.behind.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to record behind subscription: %w", err)
		}
		s.metrics.BehindDetected.Inc()
		found = append(found, record)
	}

	s.logger.Info("behind scan finished", "scanned", len(subs), "behind", len(found))
	return found, nil
}

// FindDuplicates clusters active subscriptions sharing identity, set,
// schedule, and language whose creations fall within the duplicate
// window of the cluster's earliest member.
func (s *service) FindDuplicates(ctx context.Context) ([]*DuplicateCluster, error) {
	subs, err := s.subs.ListDuplicateCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate candidates: %w", err)
	}

	var clusters []*DuplicateCluster
	var current *DuplicateCluster
	for _, sub := range subs {
		if !sub.Active || sub.Completed {
			continue
		}
		if current != nil && s.sameCluster(current, sub) {
			current.Subscriptions = append(current.Subscriptions, sub)
			continue
		}
		if current != nil && len(current.Subscriptions) > 1 {
			clusters = append(clusters, current)
		}
		current = &DuplicateCluster{
			Identity:      sub.Identity,
			MessageSetID:  sub.MessageSetID,
			ScheduleID:    sub.ScheduleID,
			Lang:          sub.Lang,
			Subscriptions: []*model.Subscription{sub},
		}
	}
	if current != nil && len(current.Subscriptions) > 1 {
		clusters = append(clusters, current)
	}
	return clusters, nil
}

func (s *service) sameCluster(cluster *DuplicateCluster, sub *model.Subscription) bool {
	if sub.Identity != cluster.Identity || sub.MessageSetID != cluster.MessageSetID ||
		sub.ScheduleID != cluster.ScheduleID || sub.Lang != cluster.Lang {
		return false
	}
	earliest := cluster.Subscriptions[0].CreatedAt
	return sub.CreatedAt.Sub(earliest) <= s.cfg.DuplicateWindow
}

// FixDuplicates deletes every cluster member except the earliest one.
// Duplicate removal is the only path that physically deletes
// subscriptions. A deleted duplicate that carries an external scheduler
// reference also gets its mirrored schedule deleted.
func (s *service) FixDuplicates(ctx context.Context) ([]*DuplicateCluster, error) {
	clusters, err := s.FindDuplicates(ctx)
	if err != nil {
		return nil, err
	}

	for _, cluster := range clusters {
		for _, dup := range cluster.Subscriptions[1:] {
			if err := s.subs.Delete(ctx, dup.ID); err != nil {
				return nil, fmt.Errorf("failed to delete duplicate %s: %w", dup.ID, err)
			}
			if s.mirror != nil && dup.Meta.SchedulerRef != nil {
				if err := s.mirror.DeleteSchedule(ctx, *dup.Meta.SchedulerRef); err != nil {
					s.logger.Error(err, "failed to delete mirrored schedule for duplicate",
						"subscription_id", dup.ID, "scheduler_ref", *dup.Meta.SchedulerRef)
				}
			}
			s.metrics.SubscriptionsActive.Dec()
			s.logger.Info("duplicate subscription removed",
				"subscription_id", dup.ID,
				"kept", cluster.Keeper().ID,
				"identity", dup.Identity)
		}
	}
	return clusters, nil
}

// RequeueFailures re-enqueues failed deliveries and deletes their
// failure records, returning how many were requeued.
func (s *service) RequeueFailures(ctx context.Context) (int, error) {
	failures, err := s.failures.List(ctx, s.cfg.RequeueBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list send failures: %w", err)
	}

	requeued := 0
	for _, failure := range failures {
		if err := s.enqueuer.EnqueueSend(ctx, failure.SubscriptionID); err != nil {
			s.logger.Error(err, "failed to requeue delivery", "subscription_id", failure.SubscriptionID)
			continue
		}
		if err := s.failures.Delete(ctx, failure.ID); err != nil {
			return requeued, fmt.Errorf("failed to delete send failure: %w", err)
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("send failures requeued", "count", requeued)
	}
	return requeued, nil
}
