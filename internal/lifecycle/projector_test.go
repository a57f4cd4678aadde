package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	"github.com/driplabs/drip-api/pkg/logger"
)

type fakeScheduleRepo struct {
	schedules map[uuid.UUID]*model.Schedule
}

func (f *fakeScheduleRepo) Create(_ context.Context, s *model.Schedule) error { return nil }
func (f *fakeScheduleRepo) Get(_ context.Context, id uuid.UUID) (*model.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}
func (f *fakeScheduleRepo) Update(_ context.Context, s *model.Schedule) error { return nil }
func (f *fakeScheduleRepo) Delete(_ context.Context, id uuid.UUID) error      { return nil }
func (f *fakeScheduleRepo) List(_ context.Context) ([]*model.Schedule, error) { return nil, nil }

type fakeSetRepo struct {
	sets map[uuid.UUID]*model.MessageSet
}

func (f *fakeSetRepo) Create(_ context.Context, s *model.MessageSet) error { return nil }
func (f *fakeSetRepo) Get(_ context.Context, id uuid.UUID) (*model.MessageSet, error) {
	s, ok := f.sets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}
func (f *fakeSetRepo) GetByShortName(_ context.Context, name string) (*model.MessageSet, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeSetRepo) Update(_ context.Context, s *model.MessageSet) error   { return nil }
func (f *fakeSetRepo) Delete(_ context.Context, id uuid.UUID) error          { return nil }
func (f *fakeSetRepo) List(_ context.Context) ([]*model.MessageSet, error)   { return nil, nil }

type fakeMessageRepo struct {
	counts map[uuid.UUID]int
}

func (f *fakeMessageRepo) Create(_ context.Context, m *model.Message) error { return nil }
func (f *fakeMessageRepo) Get(_ context.Context, id uuid.UUID) (*model.Message, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeMessageRepo) GetBySequence(_ context.Context, setID uuid.UUID, seq int, lang string) (*model.Message, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeMessageRepo) CountForLang(_ context.Context, setID uuid.UUID, lang string) (int, error) {
	return f.counts[setID], nil
}
func (f *fakeMessageRepo) List(_ context.Context, setID uuid.UUID) ([]*model.Message, error) {
	return nil, nil
}
func (f *fakeMessageRepo) Update(_ context.Context, m *model.Message) error { return nil }
func (f *fakeMessageRepo) Delete(_ context.Context, id uuid.UUID) error     { return nil }

type fakeSubRepo struct {
	updated []*model.Subscription
	created []*model.Subscription
}

func (f *fakeSubRepo) Create(_ context.Context, s *model.Subscription) error {
	clone := *s
	f.created = append(f.created, &clone)
	return nil
}
func (f *fakeSubRepo) Get(_ context.Context, id uuid.UUID) (*model.Subscription, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeSubRepo) Update(_ context.Context, s *model.Subscription) error {
	clone := *s
	f.updated = append(f.updated, &clone)
	return nil
}
func (f *fakeSubRepo) Delete(_ context.Context, id uuid.UUID) error { return nil }
func (f *fakeSubRepo) ListActive(_ context.Context) ([]*model.Subscription, error) {
	return nil, nil
}
func (f *fakeSubRepo) ListForIdentity(_ context.Context, identity string) ([]*model.Subscription, error) {
	return nil, nil
}
func (f *fakeSubRepo) ListDuplicateCandidates(_ context.Context) ([]*model.Subscription, error) {
	return nil, nil
}
func (f *fakeSubRepo) UpdateProcessStatusCAS(_ context.Context, id uuid.UUID, from, to model.ProcessStatus) (bool, error) {
	return true, nil
}

type fixture struct {
	projector *Projector
	subs      *fakeSubRepo
	hourly    *model.Schedule
	set1      *model.MessageSet
	set2      *model.MessageSet
}

// newFixture wires an hourly 3-message set optionally chained to a
// 3-message successor set.
func newFixture(t *testing.T, chain bool) *fixture {
	t.Helper()

	hourly := &model.Schedule{
		ID:          uuid.New(),
		Minute:      "0",
		Hour:        "*",
		DayOfWeek:   "*",
		DayOfMonth:  "*",
		MonthOfYear: "*",
	}

	set2 := &model.MessageSet{
		ID:                uuid.New(),
		ShortName:         "postnatal",
		ContentType:       model.ContentTypeText,
		DefaultScheduleID: hourly.ID,
	}
	set1 := &model.MessageSet{
		ID:                uuid.New(),
		ShortName:         "prenatal",
		ContentType:       model.ContentTypeText,
		DefaultScheduleID: hourly.ID,
	}
	if chain {
		set1.NextSetID = &set2.ID
	}

	subs := &fakeSubRepo{}
	projector := NewProjector(
		&fakeScheduleRepo{schedules: map[uuid.UUID]*model.Schedule{hourly.ID: hourly}},
		&fakeSetRepo{sets: map[uuid.UUID]*model.MessageSet{set1.ID: set1, set2.ID: set2}},
		&fakeMessageRepo{counts: map[uuid.UUID]int{set1.ID: 3, set2.ID: 3}},
		subs,
		logger.NewLogger(nil),
	)

	return &fixture{projector: projector, subs: subs, hourly: hourly, set1: set1, set2: set2}
}

func (f *fixture) subscription() *model.Subscription {
	return &model.Subscription{
		ID:                    uuid.New(),
		Identity:              "identity-1",
		MessageSetID:          f.set1.ID,
		ScheduleID:            f.hourly.ID,
		Lang:                  "eng",
		NextSequenceNumber:    1,
		InitialSequenceNumber: 1,
		Active:                true,
		ProcessStatus:         model.ProcessStatusReady,
		CreatedAt:             time.Date(2016, 11, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestExpectedPosition(t *testing.T) {
	f := newFixture(t, false)
	sub := f.subscription()
	ctx := context.Background()

	// No occurrences elapsed yet.
	pos, err := f.projector.ExpectedPosition(ctx, sub, sub.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, Position{SequenceNumber: 1, Completed: false}, pos)

	// Two occurrences elapsed, expected to be at the final message.
	pos, err = f.projector.ExpectedPosition(ctx, sub, sub.CreatedAt.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Position{SequenceNumber: 3, Completed: false}, pos)

	// Past the end of the set.
	pos, err = f.projector.ExpectedPosition(ctx, sub, sub.CreatedAt.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Position{SequenceNumber: 3, Completed: true}, pos)

	// Far past the end.
	pos, err = f.projector.ExpectedPosition(ctx, sub, time.Date(2016, 11, 10, 22, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, Position{SequenceNumber: 3, Completed: true}, pos)
}

func TestExpectedPositionMidSetJoin(t *testing.T) {
	f := newFixture(t, false)
	sub := f.subscription()
	sub.NextSequenceNumber = 2
	sub.InitialSequenceNumber = 2

	pos, err := f.projector.ExpectedPosition(context.Background(), sub, sub.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Position{SequenceNumber: 3, Completed: false}, pos)
}

func TestFastForward(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	sub := f.subscription()
	completed, err := f.projector.FastForward(ctx, sub, sub.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, 2, sub.NextSequenceNumber)
	assert.True(t, sub.Active)

	sub = f.subscription()
	completed, err = f.projector.FastForward(ctx, sub, sub.CreatedAt.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, 3, sub.NextSequenceNumber)
	assert.True(t, sub.Completed)
	assert.False(t, sub.Active)
	assert.Equal(t, model.ProcessStatusCompleted, sub.ProcessStatus)
}

func TestFastForwardLifecycleChainsAcrossSets(t *testing.T) {
	f := newFixture(t, true)
	sub := f.subscription()

	chain, err := f.projector.FastForwardLifecycle(context.Background(), sub, sub.CreatedAt.Add(4*time.Hour), false)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	first, second := chain[0], chain[1]
	assert.Equal(t, f.set1.ID, first.MessageSetID)
	assert.True(t, first.Completed)
	assert.False(t, first.Active)
	assert.Equal(t, 3, first.NextSequenceNumber)

	assert.Equal(t, f.set2.ID, second.MessageSetID)
	assert.False(t, second.Completed)
	assert.True(t, second.Active)
	assert.Equal(t, 1, second.NextSequenceNumber)
	assert.Equal(t, 1, second.InitialSequenceNumber)
	assert.Equal(t, "identity-1", second.Identity)
	// Final message of set1 consumed at the 03:00 occurrence, so the
	// successor's clock starts at 04:00.
	assert.Equal(t, time.Date(2016, 11, 1, 4, 0, 0, 0, time.UTC), second.CreatedAt)
}

func TestFastForwardLifecyclePureAndRepeatable(t *testing.T) {
	f := newFixture(t, true)
	sub := f.subscription()
	at := sub.CreatedAt.Add(6 * time.Hour)
	ctx := context.Background()

	before := *sub
	first, err := f.projector.FastForwardLifecycle(ctx, sub, at, false)
	require.NoError(t, err)
	second, err := f.projector.FastForwardLifecycle(ctx, sub, at, false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, *sub, "pure walk must not mutate the input")
	assert.Empty(t, f.subs.updated)
	assert.Empty(t, f.subs.created)
}

func TestFastForwardLifecycleSave(t *testing.T) {
	f := newFixture(t, true)
	sub := f.subscription()

	chain, err := f.projector.FastForwardLifecycle(context.Background(), sub, sub.CreatedAt.Add(4*time.Hour), true)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	require.Len(t, f.subs.updated, 1)
	assert.Equal(t, sub.ID, f.subs.updated[0].ID)
	assert.True(t, f.subs.updated[0].Completed)
	assert.False(t, f.subs.updated[0].Active)

	require.Len(t, f.subs.created, 1)
	assert.Equal(t, f.set2.ID, f.subs.created[0].MessageSetID)
	assert.True(t, f.subs.created[0].Active)
}

func TestFastForwardLifecycleRejectsCycle(t *testing.T) {
	f := newFixture(t, true)
	f.set2.NextSetID = &f.set1.ID
	sub := f.subscription()

	_, err := f.projector.FastForwardLifecycle(context.Background(), sub, sub.CreatedAt.AddDate(0, 1, 0), false)
	assert.ErrorIs(t, err, ErrMessageSetCycle)
}

func TestMessagesBehindSingleSet(t *testing.T) {
	f := newFixture(t, false)
	sub := f.subscription()

	behind, err := f.projector.MessagesBehind(context.Background(), sub, sub.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, behind)

	sub.NextSequenceNumber = 2
	behind, err = f.projector.MessagesBehind(context.Background(), sub, sub.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, behind)
}

func TestMessagesBehindCaughtUpAtFinalPosition(t *testing.T) {
	f := newFixture(t, false)
	sub := f.subscription()
	sub.NextSequenceNumber = 3

	// Two occurrences elapsed, the subscriber sits at the final message
	// whose own occurrence has not fired yet. Not behind anywhere in the
	// window up to (and including) the moment the last message goes out.
	for _, at := range []time.Time{
		sub.CreatedAt.Add(2 * time.Hour),
		sub.CreatedAt.Add(2*time.Hour + 30*time.Minute),
	} {
		behind, err := f.projector.MessagesBehind(context.Background(), sub, at)
		require.NoError(t, err)
		assert.Equal(t, 0, behind, "at %s", at)
	}

	// One occurrence past the end of the set the final message is overdue.
	behind, err := f.projector.MessagesBehind(context.Background(), sub, sub.CreatedAt.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, behind)
}

func TestMessagesBehindAcrossSets(t *testing.T) {
	f := newFixture(t, true)
	sub := f.subscription()

	// By 05:00 the whole first set (3 messages) plus the first message
	// of the successor (clock started 04:00, one occurrence at 05:00)
	// should have gone out.
	behind, err := f.projector.MessagesBehind(context.Background(), sub, sub.CreatedAt.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, behind)

	sub.NextSequenceNumber = 2
	behind, err = f.projector.MessagesBehind(context.Background(), sub, sub.CreatedAt.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, behind)
}
