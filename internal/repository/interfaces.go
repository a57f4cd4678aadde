package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
)

// ErrNotFound is returned when a queried record does not exist.
// Implementations map their driver's no-rows condition onto it.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	ScheduleRepository interface {
		Create(ctx context.Context, schedule *model.Schedule) error
		Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error)
		Update(ctx context.Context, schedule *model.Schedule) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context) ([]*model.Schedule, error)
	}

	MessageSetRepository interface {
		Create(ctx context.Context, set *model.MessageSet) error
		Get(ctx context.Context, id uuid.UUID) (*model.MessageSet, error)
		GetByShortName(ctx context.Context, shortName string) (*model.MessageSet, error)
		Update(ctx context.Context, set *model.MessageSet) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context) ([]*model.MessageSet, error)
	}

	MessageRepository interface {
		Create(ctx context.Context, message *model.Message) error
		Get(ctx context.Context, id uuid.UUID) (*model.Message, error)
		GetBySequence(ctx context.Context, setID uuid.UUID, sequenceNumber int, lang string) (*model.Message, error)
		CountForLang(ctx context.Context, setID uuid.UUID, lang string) (int, error)
		List(ctx context.Context, setID uuid.UUID) ([]*model.Message, error)
		Update(ctx context.Context, message *model.Message) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	SubscriptionRepository interface {
		Create(ctx context.Context, sub *model.Subscription) error
		Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
		Update(ctx context.Context, sub *model.Subscription) error
		Delete(ctx context.Context, id uuid.UUID) error
		ListActive(ctx context.Context) ([]*model.Subscription, error)
		ListForIdentity(ctx context.Context, identity string) ([]*model.Subscription, error)
		// ListDuplicateCandidates returns all subscriptions ordered by
		// the duplicate cluster key then creation time, so callers can
		// cluster in a single pass.
		ListDuplicateCandidates(ctx context.Context) ([]*model.Subscription, error)
		// UpdateProcessStatusCAS transitions process_status from one
		// value to another and reports whether a row actually changed.
		// Losing the swap means another worker holds the subscription.
		UpdateProcessStatusCAS(ctx context.Context, id uuid.UUID, from, to model.ProcessStatus) (bool, error)
	}

	BehindSubscriptionRepository interface {
		Create(ctx context.Context, behind *model.BehindSubscription) error
		List(ctx context.Context, since time.Time) ([]*model.BehindSubscription, error)
	}

	SendFailureRepository interface {
		Create(ctx context.Context, failure *model.SubscriptionSendFailure) error
		List(ctx context.Context, limit int) ([]*model.SubscriptionSendFailure, error)
		Delete(ctx context.Context, id uuid.UUID) error
	}

	ResendRequestRepository interface {
		Create(ctx context.Context, req *model.ResendRequest) error
		Get(ctx context.Context, id uuid.UUID) (*model.ResendRequest, error)
		SetOutboundID(ctx context.Context, id uuid.UUID, outboundID string) error
	}
)
