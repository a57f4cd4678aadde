package subscription

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	apperrors "github.com/driplabs/drip-api/pkg/errors"
	"github.com/driplabs/drip-api/pkg/logger"
	"github.com/driplabs/drip-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "subscription_service")

type memSubRepo struct {
	subs map[uuid.UUID]*model.Subscription
}

func newMemSubRepo(subs ...*model.Subscription) *memSubRepo {
	r := &memSubRepo{subs: make(map[uuid.UUID]*model.Subscription)}
	for _, s := range subs {
		clone := *s
		r.subs[s.ID] = &clone
	}
	return r
}

func (r *memSubRepo) Create(_ context.Context, s *model.Subscription) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	clone := *s
	r.subs[s.ID] = &clone
	return nil
}

func (r *memSubRepo) Get(_ context.Context, id uuid.UUID) (*model.Subscription, error) {
	s, ok := r.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *memSubRepo) Update(_ context.Context, s *model.Subscription) error {
	if _, ok := r.subs[s.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *s
	r.subs[s.ID] = &clone
	return nil
}

func (r *memSubRepo) Delete(_ context.Context, id uuid.UUID) error { delete(r.subs, id); return nil }
func (r *memSubRepo) ListActive(_ context.Context) ([]*model.Subscription, error) {
	return nil, nil
}
func (r *memSubRepo) ListForIdentity(_ context.Context, identity string) ([]*model.Subscription, error) {
	var out []*model.Subscription
	for _, s := range r.subs {
		if s.Identity == identity {
			out = append(out, s)
		}
	}
	return out, nil
}
func (r *memSubRepo) ListDuplicateCandidates(_ context.Context) ([]*model.Subscription, error) {
	return nil, nil
}

func (r *memSubRepo) UpdateProcessStatusCAS(_ context.Context, id uuid.UUID, from, to model.ProcessStatus) (bool, error) {
	s, ok := r.subs[id]
	if !ok || s.ProcessStatus != from {
		return false, nil
	}
	s.ProcessStatus = to
	return true, nil
}

func (r *memSubRepo) forSet(setID uuid.UUID) []*model.Subscription {
	var out []*model.Subscription
	for _, s := range r.subs {
		if s.MessageSetID == setID {
			out = append(out, s)
		}
	}
	return out
}

type memSetRepo struct {
	sets map[uuid.UUID]*model.MessageSet
}

func (r *memSetRepo) Create(_ context.Context, s *model.MessageSet) error { return nil }
func (r *memSetRepo) Get(_ context.Context, id uuid.UUID) (*model.MessageSet, error) {
	s, ok := r.sets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}
func (r *memSetRepo) GetByShortName(_ context.Context, name string) (*model.MessageSet, error) {
	return nil, repository.ErrNotFound
}
func (r *memSetRepo) Update(_ context.Context, s *model.MessageSet) error { return nil }
func (r *memSetRepo) Delete(_ context.Context, id uuid.UUID) error        { return nil }
func (r *memSetRepo) List(_ context.Context) ([]*model.MessageSet, error) { return nil, nil }

type memMessageRepo struct {
	messages []*model.Message
}

func (r *memMessageRepo) Create(_ context.Context, m *model.Message) error { return nil }
func (r *memMessageRepo) Get(_ context.Context, id uuid.UUID) (*model.Message, error) {
	return nil, repository.ErrNotFound
}
func (r *memMessageRepo) GetBySequence(_ context.Context, setID uuid.UUID, seq int, lang string) (*model.Message, error) {
	for _, m := range r.messages {
		if m.MessageSetID == setID && m.SequenceNumber == seq && m.Lang == lang {
			return m, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (r *memMessageRepo) CountForLang(_ context.Context, setID uuid.UUID, lang string) (int, error) {
	count := 0
	for _, m := range r.messages {
		if m.MessageSetID == setID && m.Lang == lang {
			count++
		}
	}
	return count, nil
}
func (r *memMessageRepo) List(_ context.Context, setID uuid.UUID) ([]*model.Message, error) {
	return nil, nil
}
func (r *memMessageRepo) Update(_ context.Context, m *model.Message) error { return nil }
func (r *memMessageRepo) Delete(_ context.Context, id uuid.UUID) error     { return nil }

type memResendRepo struct {
	created []*model.ResendRequest
}

func (r *memResendRepo) Create(_ context.Context, req *model.ResendRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	r.created = append(r.created, req)
	return nil
}
func (r *memResendRepo) Get(_ context.Context, id uuid.UUID) (*model.ResendRequest, error) {
	return nil, repository.ErrNotFound
}
func (r *memResendRepo) SetOutboundID(_ context.Context, id uuid.UUID, outboundID string) error {
	return nil
}

type fakeEnqueuer struct {
	sends   []uuid.UUID
	resends []uuid.UUID
}

func (f *fakeEnqueuer) EnqueueSend(_ context.Context, subscriptionID uuid.UUID) error {
	f.sends = append(f.sends, subscriptionID)
	return nil
}
func (f *fakeEnqueuer) EnqueueResend(_ context.Context, subscriptionID, requestID uuid.UUID) error {
	f.resends = append(f.resends, requestID)
	return nil
}

type serviceFixture struct {
	svc      Service
	subs     *memSubRepo
	resends  *memResendRepo
	enqueuer *fakeEnqueuer
	set1     *model.MessageSet
	set2     *model.MessageSet
	sub      *model.Subscription
}

// newServiceFixture wires a 3-message set, optionally chained to a
// successor set, plus one active subscription at sequence one.
func newServiceFixture(t *testing.T, chain bool) *serviceFixture {
	t.Helper()

	scheduleID := uuid.New()
	set1 := &model.MessageSet{
		ID:                uuid.New(),
		ShortName:         "prenatal",
		ContentType:       model.ContentTypeText,
		DefaultScheduleID: scheduleID,
	}
	set2 := &model.MessageSet{
		ID:                uuid.New(),
		ShortName:         "postnatal",
		ContentType:       model.ContentTypeText,
		DefaultScheduleID: uuid.New(),
	}
	if chain {
		set1.NextSetID = &set2.ID
	}

	text := func(s string) *string { return &s }
	messages := &memMessageRepo{}
	for seq := 1; seq <= 3; seq++ {
		messages.messages = append(messages.messages, &model.Message{
			ID:             uuid.New(),
			MessageSetID:   set1.ID,
			SequenceNumber: seq,
			Lang:           "eng",
			TextContent:    text(fmt.Sprintf("prenatal %d", seq)),
		})
	}

	sub := &model.Subscription{
		ID:                    uuid.New(),
		Identity:              "urn:subscriber:1",
		MessageSetID:          set1.ID,
		ScheduleID:            scheduleID,
		Lang:                  "eng",
		NextSequenceNumber:    1,
		InitialSequenceNumber: 1,
		Active:                true,
		ProcessStatus:         model.ProcessStatusReady,
	}

	subs := newMemSubRepo(sub)
	resends := &memResendRepo{}
	enqueuer := &fakeEnqueuer{}
	sets := &memSetRepo{sets: map[uuid.UUID]*model.MessageSet{set1.ID: set1, set2.ID: set2}}

	svc := NewService(subs, sets, messages, resends, nil, enqueuer, testMetrics, logger.NewLogger(nil))
	return &serviceFixture{
		svc:      svc,
		subs:     subs,
		resends:  resends,
		enqueuer: enqueuer,
		set1:     set1,
		set2:     set2,
		sub:      sub,
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	f := newServiceFixture(t, false)

	sub := &model.Subscription{
		Identity:     "urn:subscriber:2",
		MessageSetID: f.set1.ID,
	}
	require.NoError(t, f.svc.Create(context.Background(), sub))

	assert.Equal(t, f.set1.DefaultScheduleID, sub.ScheduleID)
	assert.Equal(t, "eng", sub.Lang)
	assert.Equal(t, 1, sub.NextSequenceNumber)
	assert.Equal(t, 1, sub.InitialSequenceNumber)
	assert.True(t, sub.Active)
	assert.Equal(t, model.ProcessStatusReady, sub.ProcessStatus)
}

func TestCreateMidSetKeepsInitialSequence(t *testing.T) {
	f := newServiceFixture(t, false)

	sub := &model.Subscription{
		Identity:           "urn:subscriber:3",
		MessageSetID:       f.set1.ID,
		NextSequenceNumber: 2,
	}
	require.NoError(t, f.svc.Create(context.Background(), sub))
	assert.Equal(t, 2, sub.InitialSequenceNumber)
}

func TestCreateRejectsMissingSet(t *testing.T) {
	f := newServiceFixture(t, false)

	err := f.svc.Create(context.Background(), &model.Subscription{
		Identity:     "urn:subscriber:4",
		MessageSetID: uuid.New(),
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrNotFound, appErr.Code)
}

func TestAdvanceMovesCursor(t *testing.T) {
	f := newServiceFixture(t, false)

	sub, _ := f.subs.Get(context.Background(), f.sub.ID)
	require.NoError(t, f.svc.Advance(context.Background(), sub))

	stored, _ := f.subs.Get(context.Background(), f.sub.ID)
	assert.Equal(t, 2, stored.NextSequenceNumber)
	assert.Equal(t, model.ProcessStatusReady, stored.ProcessStatus)
	assert.False(t, stored.Completed)
}

func TestAdvanceCompletesAtLastMessage(t *testing.T) {
	f := newServiceFixture(t, false)
	f.subs.subs[f.sub.ID].NextSequenceNumber = 3

	sub, _ := f.subs.Get(context.Background(), f.sub.ID)
	require.NoError(t, f.svc.Advance(context.Background(), sub))

	stored, _ := f.subs.Get(context.Background(), f.sub.ID)
	assert.True(t, stored.Completed)
	assert.False(t, stored.Active)
	assert.Equal(t, model.ProcessStatusCompleted, stored.ProcessStatus)
	assert.Empty(t, f.subs.forSet(f.set2.ID))
}

func TestAdvanceChainsToSuccessorSet(t *testing.T) {
	f := newServiceFixture(t, true)
	f.subs.subs[f.sub.ID].NextSequenceNumber = 3

	sub, _ := f.subs.Get(context.Background(), f.sub.ID)
	require.NoError(t, f.svc.Advance(context.Background(), sub))

	successors := f.subs.forSet(f.set2.ID)
	require.Len(t, successors, 1)
	successor := successors[0]
	assert.Equal(t, f.sub.Identity, successor.Identity)
	assert.Equal(t, "eng", successor.Lang)
	assert.Equal(t, f.set2.DefaultScheduleID, successor.ScheduleID)
	assert.Equal(t, 1, successor.NextSequenceNumber)
	assert.True(t, successor.Active)
	assert.False(t, successor.Completed)
	assert.Equal(t, model.ProcessStatusReady, successor.ProcessStatus)
}

func TestAdvanceRefusesBusySubscription(t *testing.T) {
	f := newServiceFixture(t, false)
	f.subs.subs[f.sub.ID].ProcessStatus = model.ProcessStatusInProcess

	sub, _ := f.subs.Get(context.Background(), f.sub.ID)
	err := f.svc.Advance(context.Background(), sub)
	require.Error(t, err)
	assert.True(t, apperrors.IsBenignAbort(err))

	stored, _ := f.subs.Get(context.Background(), f.sub.ID)
	assert.Equal(t, 1, stored.NextSequenceNumber)
}

func TestMarkCompleteIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, true)

	require.NoError(t, f.svc.MarkComplete(context.Background(), f.sub.ID))
	require.NoError(t, f.svc.MarkComplete(context.Background(), f.sub.ID))

	// chained exactly once
	assert.Len(t, f.subs.forSet(f.set2.ID), 1)
}

func TestCancelDeactivates(t *testing.T) {
	f := newServiceFixture(t, false)

	require.NoError(t, f.svc.Cancel(context.Background(), f.sub.ID))

	stored, _ := f.subs.Get(context.Background(), f.sub.ID)
	assert.False(t, stored.Active)
	assert.Equal(t, model.ProcessStatusInvalid, stored.ProcessStatus)
}

func TestResetReturnsParkedSubscriptionToReady(t *testing.T) {
	f := newServiceFixture(t, false)
	f.subs.subs[f.sub.ID].ProcessStatus = model.ProcessStatusError

	require.NoError(t, f.svc.Reset(context.Background(), f.sub.ID))

	stored, _ := f.subs.Get(context.Background(), f.sub.ID)
	assert.Equal(t, model.ProcessStatusReady, stored.ProcessStatus)
}

func TestResetUnsticksInProcessSubscription(t *testing.T) {
	f := newServiceFixture(t, false)
	f.subs.subs[f.sub.ID].ProcessStatus = model.ProcessStatusInProcess

	require.NoError(t, f.svc.Reset(context.Background(), f.sub.ID))

	stored, _ := f.subs.Get(context.Background(), f.sub.ID)
	assert.Equal(t, model.ProcessStatusReady, stored.ProcessStatus)
}

func TestResetRefusesCompletedSubscription(t *testing.T) {
	f := newServiceFixture(t, false)
	f.subs.subs[f.sub.ID].ProcessStatus = model.ProcessStatusCompleted

	err := f.svc.Reset(context.Background(), f.sub.ID)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrConflict, appErr.Code)
}

func TestTriggerSendEnqueues(t *testing.T) {
	f := newServiceFixture(t, false)

	require.NoError(t, f.svc.TriggerSend(context.Background(), f.sub.ID))
	assert.Equal(t, []uuid.UUID{f.sub.ID}, f.enqueuer.sends)
}

func TestRequestResendTargetsPreviousMessage(t *testing.T) {
	f := newServiceFixture(t, false)
	f.subs.subs[f.sub.ID].NextSequenceNumber = 3

	req, err := f.svc.RequestResend(context.Background(), f.sub.ID)
	require.NoError(t, err)

	require.NotNil(t, req.MessageID)
	require.Len(t, f.resends.created, 1)
	assert.Equal(t, f.sub.ID, req.SubscriptionID)
	assert.Equal(t, []uuid.UUID{req.ID}, f.enqueuer.resends)
}

func TestRequestResendBeforeFirstDelivery(t *testing.T) {
	f := newServiceFixture(t, false)

	// nothing sent yet, fall back to the first message
	req, err := f.svc.RequestResend(context.Background(), f.sub.ID)
	require.NoError(t, err)
	require.NotNil(t, req.MessageID)
}
