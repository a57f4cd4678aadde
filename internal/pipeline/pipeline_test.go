package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driplabs/drip-api/internal/identity"
	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	"github.com/driplabs/drip-api/internal/transport"
	apperrors "github.com/driplabs/drip-api/pkg/errors"
	"github.com/driplabs/drip-api/pkg/logger"
	"github.com/driplabs/drip-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "pipeline")

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
	return nil, nil
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

func (r *memSubRepo) status(t *testing.T, id uuid.UUID) model.ProcessStatus {
	t.Helper()
	s, ok := r.subs[id]
	require.True(t, ok)
	return s.ProcessStatus
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
	byID  map[uuid.UUID]*model.Message
	bySeq map[string]*model.Message
}

func newMemMessageRepo(messages ...*model.Message) *memMessageRepo {
	r := &memMessageRepo{
		byID:  make(map[uuid.UUID]*model.Message),
		bySeq: make(map[string]*model.Message),
	}
	for _, m := range messages {
		r.byID[m.ID] = m
		r.bySeq[fmt.Sprintf("%s/%d/%s", m.MessageSetID, m.SequenceNumber, m.Lang)] = m
	}
	return r
}

func (r *memMessageRepo) Create(_ context.Context, m *model.Message) error { return nil }
func (r *memMessageRepo) Get(_ context.Context, id uuid.UUID) (*model.Message, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m, nil
}
func (r *memMessageRepo) GetBySequence(_ context.Context, setID uuid.UUID, seq int, lang string) (*model.Message, error) {
	m, ok := r.bySeq[fmt.Sprintf("%s/%d/%s", setID, seq, lang)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m, nil
}
func (r *memMessageRepo) CountForLang(_ context.Context, setID uuid.UUID, lang string) (int, error) {
	count := 0
	for _, m := range r.byID {
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

type memFailureRepo struct {
	failures []*model.SubscriptionSendFailure
}

func (r *memFailureRepo) Create(_ context.Context, f *model.SubscriptionSendFailure) error {
	r.failures = append(r.failures, f)
	return nil
}
func (r *memFailureRepo) List(_ context.Context, limit int) ([]*model.SubscriptionSendFailure, error) {
	return r.failures, nil
}
func (r *memFailureRepo) Delete(_ context.Context, id uuid.UUID) error { return nil }

type memResendRepo struct {
	outboundByRequest map[uuid.UUID]string
}

func (r *memResendRepo) Create(_ context.Context, req *model.ResendRequest) error { return nil }
func (r *memResendRepo) Get(_ context.Context, id uuid.UUID) (*model.ResendRequest, error) {
	return nil, repository.ErrNotFound
}
func (r *memResendRepo) SetOutboundID(_ context.Context, id uuid.UUID, outboundID string) error {
	if r.outboundByRequest == nil {
		r.outboundByRequest = make(map[uuid.UUID]string)
	}
	r.outboundByRequest[id] = outboundID
	return nil
}

type fakeResolver struct {
	address string
	err     error
	// errs, when set, is consumed one call at a time before err applies
	errs  []error
	calls int
}

func (f *fakeResolver) GetDefaultAddress(_ context.Context, identity string) (string, error) {
	f.calls++
	if len(f.errs) > 0 {
		next := f.errs[0]
		f.errs = f.errs[1:]
		if next != nil {
			return "", next
		}
		return f.address, nil
	}
	if f.err != nil {
		return "", f.err
	}
	return f.address, nil
}

type fakeSender struct {
	errs     []error
	payloads []*transport.Payload
}

func (f *fakeSender) CreateOutbound(_ context.Context, p *transport.Payload) (*transport.Outbound, error) {
	f.payloads = append(f.payloads, p)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &transport.Outbound{ID: fmt.Sprintf("out-%d", len(f.payloads))}, nil
}

type fakeAdvancer struct {
	calls int
	err   error
}

func (f *fakeAdvancer) Advance(_ context.Context, sub *model.Subscription) error {
	f.calls++
	return f.err
}

type pipelineFixture struct {
	pipe     *Pipeline
	subs     *memSubRepo
	failures *memFailureRepo
	resends  *memResendRepo
	resolver *fakeResolver
	sender   *fakeSender
	advancer *fakeAdvancer
	sub      *model.Subscription
	set      *model.MessageSet
}

func newPipelineFixture(t *testing.T, cfg Config) *pipelineFixture {
	t.Helper()

	set := &model.MessageSet{
		ID:          uuid.New(),
		ShortName:   "prenatal",
		ContentType: model.ContentTypeText,
	}
	text := func(s string) *string { return &s }
	msg1 := &model.Message{
		ID:             uuid.New(),
		MessageSetID:   set.ID,
		SequenceNumber: 1,
		Lang:           "eng",
		TextContent:    text("week one"),
	}
	msg2 := &model.Message{
		ID:             uuid.New(),
		MessageSetID:   set.ID,
		SequenceNumber: 2,
		Lang:           "eng",
		TextContent:    text("week two"),
	}
	sub := &model.Subscription{
		ID:                    uuid.New(),
		Identity:              "urn:subscriber:1",
		MessageSetID:          set.ID,
		Lang:                  "eng",
		NextSequenceNumber:    1,
		InitialSequenceNumber: 1,
		Active:                true,
		ProcessStatus:         model.ProcessStatusReady,
	}

	if cfg.ContentBaseURL == "" {
		cfg.ContentBaseURL = "https://content.example.org"
	}
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond

	f := &pipelineFixture{
		subs:     newMemSubRepo(sub),
		failures: &memFailureRepo{},
		resends:  &memResendRepo{},
		resolver: &fakeResolver{address: "+15550100"},
		sender:   &fakeSender{},
		advancer: &fakeAdvancer{},
		sub:      sub,
		set:      set,
	}
	f.pipe = New(
		f.subs,
		&memSetRepo{sets: map[uuid.UUID]*model.MessageSet{set.ID: set}},
		newMemMessageRepo(msg1, msg2),
		f.failures,
		f.resends,
		f.resolver,
		f.sender,
		f.advancer,
		testMetrics,
		logger.NewLogger(nil),
		cfg,
	)
	return f
}

func TestRunDeliversAndAdvances(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	assert.Empty(t, task.AbortReason)
	assert.Equal(t, "out-1", task.OutboundID)
	require.Len(t, f.sender.payloads, 1)
	assert.Equal(t, "+15550100", f.sender.payloads[0].To)
	assert.Equal(t, "week one", f.sender.payloads[0].Content)
	assert.Equal(t, 1, f.advancer.calls)
	assert.Equal(t, model.ProcessStatusReady, f.subs.status(t, f.sub.ID))
	assert.Empty(t, f.failures.failures)
}

func TestRunAbortsWhenNotReady(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	f.subs.subs[f.sub.ID].ProcessStatus = model.ProcessStatusInProcess
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	assert.Equal(t, abortNotReady, task.AbortReason)
	assert.Empty(t, f.sender.payloads)
	assert.Zero(t, f.advancer.calls)
	assert.Empty(t, f.failures.failures)
}

func TestRunAbortsWhenMessageMissing(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	f.subs.subs[f.sub.ID].NextSequenceNumber = 9
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	assert.Equal(t, abortMissingMessage, task.AbortReason)
	// nothing was claimed, so nothing to release
	assert.Equal(t, model.ProcessStatusReady, f.subs.status(t, f.sub.ID))
	assert.Empty(t, f.sender.payloads)
}

func TestRunParksSubscriptionWithoutAddress(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	f.resolver.err = identity.ErrNoAddress
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	assert.Equal(t, abortNoAddress, task.AbortReason)
	assert.Equal(t, model.ProcessStatusError, f.subs.status(t, f.sub.ID))
	assert.Empty(t, f.sender.payloads)
	assert.Zero(t, f.advancer.calls)
}

func TestRunRetriesTransientSendErrors(t *testing.T) {
	f := newPipelineFixture(t, Config{MaxRetries: 3})
	f.sender.errs = []error{&transport.StatusError{StatusCode: 503}, nil}
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	assert.Len(t, f.sender.payloads, 2)
	assert.Equal(t, 1, f.advancer.calls)
	assert.Empty(t, f.failures.failures)
}

func TestRunRetriesTransientResolverErrors(t *testing.T) {
	f := newPipelineFixture(t, Config{MaxRetries: 3})
	f.resolver.errs = []error{
		&transport.StatusError{Service: "identity store", StatusCode: 503},
		nil,
	}
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	assert.Equal(t, 2, f.resolver.calls)
	assert.Len(t, f.sender.payloads, 1)
	assert.Equal(t, 1, f.advancer.calls)
	assert.Empty(t, f.failures.failures)
}

func TestRunRecordsFailureWhenRetriesExhausted(t *testing.T) {
	f := newPipelineFixture(t, Config{MaxRetries: 1})
	f.sender.errs = []error{
		&transport.StatusError{StatusCode: 503},
		&transport.StatusError{StatusCode: 503},
	}
	task := &Task{SubscriptionID: f.sub.ID}

	err := f.pipe.Run(context.Background(), task)
	require.Error(t, err)

	require.Len(t, f.failures.failures, 1)
	assert.Equal(t, f.sub.ID, f.failures.failures[0].SubscriptionID)
	assert.Equal(t, task.ID, f.failures.failures[0].TaskID)
	assert.Contains(t, f.failures.failures[0].Reason, "dispatch")
	assert.Zero(t, f.advancer.calls)
}

func TestRunDoesNotRetryPermanentSendErrors(t *testing.T) {
	f := newPipelineFixture(t, Config{MaxRetries: 3})
	f.sender.errs = []error{
		&transport.StatusError{StatusCode: 400},
		&transport.StatusError{StatusCode: 400},
	}
	task := &Task{SubscriptionID: f.sub.ID}

	require.Error(t, f.pipe.Run(context.Background(), task))
	assert.Len(t, f.sender.payloads, 1)
	require.Len(t, f.failures.failures, 1)
}

func TestRunDryRunSkipsDispatch(t *testing.T) {
	f := newPipelineFixture(t, Config{DryRunSets: []string{"prenatal"}})
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	assert.Empty(t, f.sender.payloads)
	assert.Empty(t, task.OutboundID)
	assert.Equal(t, 1, f.advancer.calls)
	assert.Equal(t, model.ProcessStatusReady, f.subs.status(t, f.sub.ID))
}

func TestRunConsumesPrependExactlyOnce(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	prepend := "welcome back"
	stored := f.subs.subs[f.sub.ID]
	stored.Meta.PrependNextDelivery = &prepend
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	require.Len(t, f.sender.payloads, 1)
	assert.Equal(t, "welcome back\nweek one", f.sender.payloads[0].Content)
	assert.Nil(t, f.subs.subs[f.sub.ID].Meta.PrependNextDelivery)
}

func TestRunResendSendsPreviousMessage(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	f.subs.subs[f.sub.ID].NextSequenceNumber = 3
	requestID := uuid.New()
	task := &Task{
		SubscriptionID:  f.sub.ID,
		Resend:          true,
		ResendRequestID: requestID,
	}

	require.NoError(t, f.pipe.Run(context.Background(), task))

	require.Len(t, f.sender.payloads, 1)
	assert.Equal(t, "week two", f.sender.payloads[0].Content)
	assert.Zero(t, f.advancer.calls)
	assert.Equal(t, task.OutboundID, f.resends.outboundByRequest[requestID])
	assert.Equal(t, 3, f.subs.subs[f.sub.ID].NextSequenceNumber)
}

func TestRunTreatsBenignAdvanceAsNoOp(t *testing.T) {
	f := newPipelineFixture(t, Config{})
	f.advancer.err = apperrors.NewBenignAbort("subscription is not ready to advance")
	task := &Task{SubscriptionID: f.sub.ID}

	require.NoError(t, f.pipe.Run(context.Background(), task))
	assert.Equal(t, abortLostRace, task.AbortReason)
	assert.Empty(t, f.failures.failures)
}

func TestRunPropagatesUnexpectedResolverErrors(t *testing.T) {
	f := newPipelineFixture(t, Config{MaxRetries: 1})
	f.resolver.err = errors.New("identity store exploded")
	task := &Task{SubscriptionID: f.sub.ID}

	require.Error(t, f.pipe.Run(context.Background(), task))
	require.Len(t, f.failures.failures, 1)
	assert.Contains(t, f.failures.failures[0].Reason, "resolve_address")
}
