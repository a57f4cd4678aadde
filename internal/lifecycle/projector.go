package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	"github.com/driplabs/drip-api/internal/schedule"
	"github.com/driplabs/drip-api/pkg/logger"
)

// ErrMessageSetCycle is returned when a successor walk revisits a
// message set. Cyclic successor chains are an operator error, never
// followed.
var ErrMessageSetCycle = errors.New("messageset successor chain contains a cycle")

// Position is the projected state of a subscription at a point in time.
type Position struct {
	SequenceNumber int
	Completed      bool
}

// Projector computes where a subscription should be at a given time by
// replaying its schedule's occurrences. All projection methods are
// read-only unless explicitly asked to save.
type Projector struct {
	schedules repository.ScheduleRepository
	sets      repository.MessageSetRepository
	messages  repository.MessageRepository
	subs      repository.SubscriptionRepository
	logger    *logger.Logger
}

func NewProjector(
	schedules repository.ScheduleRepository,
	sets repository.MessageSetRepository,
	messages repository.MessageRepository,
	subs repository.SubscriptionRepository,
	logger *logger.Logger,
) *Projector {
	return &Projector{
		schedules: schedules,
		sets:      sets,
		messages:  messages,
		subs:      subs,
		logger:    logger,
	}
}

func (p *Projector) exprFor(ctx context.Context, sub *model.Subscription) (*schedule.Expr, error) {
	sched, err := p.schedules.Get(ctx, sub.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	expr, err := schedule.Parse(sched)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule: %w", err)
	}
	return expr, nil
}

// ExpectedPosition projects the subscription's position at the given
// time within its current message set. The raw position is the count of
// schedule occurrences since creation plus the initial sequence number;
// once it exceeds the message count the subscriber is expected to have
// finished the set and the set's terminal position is reported. This is
// a single-set computation; callers that need to walk successor sets use
// FastForwardLifecycle.
func (p *Projector) ExpectedPosition(ctx context.Context, sub *model.Subscription, at time.Time) (Position, error) {
	expr, err := p.exprFor(ctx, sub)
	if err != nil {
		return Position{}, err
	}

	count, err := p.messages.CountForLang(ctx, sub.MessageSetID, sub.Lang)
	if err != nil {
		return Position{}, err
	}

	raw := expr.CountBetween(sub.CreatedAt, at) + sub.InitialSequenceNumber
	if raw > count {
		return Position{SequenceNumber: count, Completed: true}, nil
	}
	return Position{SequenceNumber: raw, Completed: false}, nil
}

// FastForward mutates the subscription in place to its projected
// position and reports whether the current set was completed. The
// completed transition here does not chain into a successor set; cross
// set catch-up is FastForwardLifecycle's job. Nothing is persisted.
func (p *Projector) FastForward(ctx context.Context, sub *model.Subscription, at time.Time) (bool, error) {
	expr, err := p.exprFor(ctx, sub)
	if err != nil {
		return false, err
	}

	count, err := p.messages.CountForLang(ctx, sub.MessageSetID, sub.Lang)
	if err != nil {
		return false, err
	}

	raw := expr.CountBetween(sub.CreatedAt, at) + sub.InitialSequenceNumber
	if raw >= count {
		sub.NextSequenceNumber = count
		completeInPlace(sub)
		return true, nil
	}
	sub.NextSequenceNumber = raw
	return false, nil
}

func completeInPlace(sub *model.Subscription) {
	sub.Completed = true
	sub.Active = false
	sub.ProcessStatus = model.ProcessStatusCompleted
}

func cloneSubscription(sub *model.Subscription) *model.Subscription {
	clone := *sub
	return &clone
}

// FastForwardLifecycle repeatedly fast-forwards across the successor
// chain. Each completed set synthesizes a successor subscription whose
// clock starts at the schedule occurrence following full consumption of
// the predecessor, so successors advance on schedule time rather than
// wall time. The ordered chain of visited subscriptions is returned.
//
// With save false the walk is pure: the input is cloned, nothing touches
// the repository, and replaying the same inputs yields the same chain.
// With save true every visited transition is committed: predecessors are
// marked completed and inactive, and at most one new active successor is
// created.
func (p *Projector) FastForwardLifecycle(ctx context.Context, sub *model.Subscription, at time.Time, save bool) ([]*model.Subscription, error) {
	cur := cloneSubscription(sub)
	existing := true
	visited := make(map[uuid.UUID]struct{})
	var chain []*model.Subscription

	for {
		if _, seen := visited[cur.MessageSetID]; seen {
			return nil, ErrMessageSetCycle
		}
		visited[cur.MessageSetID] = struct{}{}

		expr, err := p.exprFor(ctx, cur)
		if err != nil {
			return nil, err
		}
		count, err := p.messages.CountForLang(ctx, cur.MessageSetID, cur.Lang)
		if err != nil {
			return nil, err
		}

		runs := expr.RunTimesBetween(cur.CreatedAt, at)
		raw := len(runs) + cur.InitialSequenceNumber

		if raw < count {
			cur.NextSequenceNumber = raw
			chain = append(chain, cur)
			if save {
				if err := p.persist(ctx, cur, existing); err != nil {
					return nil, err
				}
			}
			return chain, nil
		}

		cur.NextSequenceNumber = count
		completeInPlace(cur)
		chain = append(chain, cur)
		if save && existing {
			if err := p.subs.Update(ctx, cur); err != nil {
				return nil, err
			}
		}

		set, err := p.sets.Get(ctx, cur.MessageSetID)
		if err != nil {
			return nil, err
		}
		if set.NextSetID == nil {
			return chain, nil
		}
		nextSet, err := p.sets.Get(ctx, *set.NextSetID)
		if err != nil {
			return nil, err
		}

		cur = p.synthesizeSuccessor(cur, nextSet, expr, runs, count)
		existing = false
	}
}

// persist commits the terminal element of a lifecycle walk: an update
// for the real input subscription, a create for a synthesized active
// successor.
func (p *Projector) persist(ctx context.Context, sub *model.Subscription, existing bool) error {
	if existing {
		return p.subs.Update(ctx, sub)
	}
	return p.subs.Create(ctx, sub)
}

// synthesizeSuccessor builds the chained subscription for the next set.
// Its creation time is the occurrence after the one that consumed the
// predecessor's final message, or the predecessor's creation time when
// the predecessor had no occurrences to consume.
func (p *Projector) synthesizeSuccessor(prev *model.Subscription, nextSet *model.MessageSet, expr *schedule.Expr, runs []time.Time, count int) *model.Subscription {
	start := prev.CreatedAt
	if len(runs) > 0 {
		consumed := count - prev.InitialSequenceNumber + 1
		if consumed > len(runs) {
			consumed = len(runs)
		}
		if next, ok := expr.NextAfter(runs[consumed-1]); ok {
			start = next
		}
	}

	// The ID stays nil until the successor is actually persisted, so a
	// pure walk replays identically.
	return &model.Subscription{
		Identity:              prev.Identity,
		MessageSetID:          nextSet.ID,
		ScheduleID:            nextSet.DefaultScheduleID,
		Lang:                  prev.Lang,
		NextSequenceNumber:    1,
		InitialSequenceNumber: 1,
		Active:                true,
		ProcessStatus:         model.ProcessStatusReady,
		CreatedAt:             start,
	}
}

// MessagesBehind is the cumulative count of messages the subscriber
// should have consumed by the given time but has not, across every
// message set the projection traverses. Expected consumption per set
// follows ExpectedPosition: a set only counts as fully consumed once
// the occurrence after its last message has elapsed, so a subscriber
// sitting at the final position during its delivery window is not
// behind.
func (p *Projector) MessagesBehind(ctx context.Context, sub *model.Subscription, at time.Time) (int, error) {
	chain, err := p.FastForwardLifecycle(ctx, sub, at, false)
	if err != nil {
		return 0, err
	}

	behind := 0
	for i, c := range chain {
		pos, err := p.ExpectedPosition(ctx, c, at)
		if err != nil {
			return 0, err
		}
		shouldHaveConsumed := pos.SequenceNumber - 1
		if pos.Completed {
			shouldHaveConsumed = pos.SequenceNumber
		}
		consumed := 0
		if i == 0 {
			consumed = sub.NextSequenceNumber - 1
		}
		behind += shouldHaveConsumed - consumed
	}
	return behind, nil
}
