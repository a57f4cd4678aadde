package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/identity"
	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	"github.com/driplabs/drip-api/internal/transport"
	apperrors "github.com/driplabs/drip-api/pkg/errors"
	"github.com/driplabs/drip-api/pkg/logger"
	"github.com/driplabs/drip-api/pkg/metrics"
)

// Abort reasons recorded on the task and exported as metric labels.
const (
	abortNotFound       = "subscription_not_found"
	abortNotReady       = "not_ready"
	abortMissingMessage = "missing_message"
	abortLostRace       = "lost_race"
	abortNoAddress      = "no_address"
)

// Advancer moves a subscription's cursor forward after a confirmed
// delivery. Implemented by the subscription service so completion and
// chaining stay in one place.
type Advancer interface {
	Advance(ctx context.Context, sub *model.Subscription) error
}

// Task is the inter-stage payload. Stages share no in-process state
// beyond it; everything durable flows through the persisted
// subscription record.
type Task struct {
	ID             string     `json:"id"`
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	Resend         bool       `json:"resend,omitempty"`
	ResendRequestID uuid.UUID `json:"resend_request_id,omitempty"`
	InitiatedAt    time.Time  `json:"initiated_at"`

	Identity       string    `json:"identity,omitempty"`
	SequenceNumber int       `json:"sequence_number,omitempty"`
	MessageID      uuid.UUID `json:"message_id,omitempty"`
	Address        string    `json:"address,omitempty"`
	OutboundID     string    `json:"outbound_id,omitempty"`

	// AbortReason marks a benign no-op: once set, later stages pass
	// through without touching anything.
	AbortReason string `json:"abort_reason,omitempty"`
}

func (t *Task) abort(reason string) {
	t.AbortReason = reason
}

type Config struct {
	// ContentBaseURL is prepended to stored binary content keys to form
	// the public URL handed to the message sender.
	ContentBaseURL string
	// DryRunSets lists message set short names whose deliveries are
	// logged but never dispatched.
	DryRunSets     []string
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Pipeline runs one delivery through its four stages: prepare, resolve
// address, dispatch, post-process. Each stage reloads the subscription
// it needs, so a crash between stages loses nothing but the task.
type Pipeline struct {
	subs     repository.SubscriptionRepository
	sets     repository.MessageSetRepository
	messages repository.MessageRepository
	failures repository.SendFailureRepository
	resends  repository.ResendRequestRepository
	resolver identity.Resolver
	sender   transport.Client
	advancer Advancer
	metrics  *metrics.Metrics
	logger   *logger.Logger
	cfg      Config
	dryRun   map[string]bool
}

func New(
	subs repository.SubscriptionRepository,
	sets repository.MessageSetRepository,
	messages repository.MessageRepository,
	failures repository.SendFailureRepository,
	resends repository.ResendRequestRepository,
	resolver identity.Resolver,
	sender transport.Client,
	advancer Advancer,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg Config,
) *Pipeline {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	dryRun := make(map[string]bool, len(cfg.DryRunSets))
	for _, name := range cfg.DryRunSets {
		dryRun[strings.TrimSpace(name)] = true
	}
	return &Pipeline{
		subs:     subs,
		sets:     sets,
		messages: messages,
		failures: failures,
		resends:  resends,
		resolver: resolver,
		sender:   sender,
		advancer: advancer,
		metrics:  m,
		logger:   log,
		cfg:      cfg,
		dryRun:   dryRun,
	}
}

// Run executes all four stages for one task. A benign abort returns
// nil with task.AbortReason set; a hard failure after retries is
// recorded as a send failure and returned.
func (p *Pipeline) Run(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.InitiatedAt.IsZero() {
		task.InitiatedAt = time.Now().UTC()
	}

	if err := p.prepare(ctx, task); err != nil {
		return p.fail(ctx, task, "prepare", err)
	}
	if err := p.withRetry(ctx, "resolve_address", func() error {
		return p.resolveAddress(ctx, task)
	}); err != nil {
		return p.fail(ctx, task, "resolve_address", err)
	}
	if err := p.withRetry(ctx, "dispatch", func() error {
		return p.dispatch(ctx, task)
	}); err != nil {
		return p.fail(ctx, task, "dispatch", err)
	}
	if err := p.postProcess(ctx, task); err != nil {
		return p.fail(ctx, task, "post_process", err)
	}

	if task.AbortReason != "" {
		p.metrics.DeliveriesAborted.WithLabelValues(task.AbortReason).Inc()
		p.logger.Debug("delivery aborted", "task_id", task.ID, "reason", task.AbortReason)
		return nil
	}
	p.metrics.DeliveriesSent.Inc()
	p.metrics.DeliveryLatency.Observe(time.Since(task.InitiatedAt).Seconds())
	return nil
}

// prepare loads the subscription and its due message, then claims the
// subscription by swapping it ready -> in-process. The message lookup
// happens before the swap so a missing message leaves no trace.
func (p *Pipeline) prepare(ctx context.Context, task *Task) error {
	sub, err := p.subs.Get(ctx, task.SubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			task.abort(abortNotFound)
			return nil
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if !sub.Active || sub.Completed || !sub.IsReadyForProcessing() {
		task.abort(abortNotReady)
		return nil
	}

	seq := sub.NextSequenceNumber
	if task.Resend {
		seq--
		if seq < 1 {
			seq = 1
		}
	}

	message, err := p.messages.GetBySequence(ctx, sub.MessageSetID, seq, sub.Lang)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			task.abort(abortMissingMessage)
			return nil
		}
		return fmt.Errorf("failed to load message %d: %w", seq, err)
	}

	swapped, err := p.subs.UpdateProcessStatusCAS(ctx, sub.ID, model.ProcessStatusReady, model.ProcessStatusInProcess)
	if err != nil {
		return fmt.Errorf("failed to claim subscription: %w", err)
	}
	if !swapped {
		task.abort(abortLostRace)
		return nil
	}

	task.Identity = sub.Identity
	task.SequenceNumber = seq
	task.MessageID = message.ID
	return nil
}

// resolveAddress asks the identity store for the subscriber's default
// address. A missing address is terminal for the subscription, not a
// transient failure, so it parks the record in the error status.
func (p *Pipeline) resolveAddress(ctx context.Context, task *Task) error {
	if task.AbortReason != "" {
		return nil
	}

	address, err := p.resolver.GetDefaultAddress(ctx, task.Identity)
	if err != nil {
		if errors.Is(err, identity.ErrNoAddress) {
			swapped, casErr := p.subs.UpdateProcessStatusCAS(ctx, task.SubscriptionID,
				model.ProcessStatusInProcess, model.ProcessStatusError)
			if casErr != nil {
				return fmt.Errorf("failed to park subscription in error: %w", casErr)
			}
			if !swapped {
				p.logger.Warn("subscription status changed under us while parking",
					"subscription_id", task.SubscriptionID)
			}
			task.abort(abortNoAddress)
			return nil
		}
		return fmt.Errorf("failed to resolve address for %s: %w", task.Identity, err)
	}

	task.Address = address
	return nil
}

// dispatch builds the outbound payload and hands it to the message
// sender, then releases the subscription back to ready. Any pending
// prepend content is consumed here, exactly once.
func (p *Pipeline) dispatch(ctx context.Context, task *Task) error {
	if task.AbortReason != "" {
		return nil
	}

	sub, err := p.subs.Get(ctx, task.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	set, err := p.sets.Get(ctx, sub.MessageSetID)
	if err != nil {
		return fmt.Errorf("failed to load message set: %w", err)
	}
	message, err := p.messages.Get(ctx, task.MessageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}

	payload := &transport.Payload{
		To:       task.Address,
		Identity: sub.Identity,
	}

	// Prepend content belongs to the next regular delivery, a resend
	// must not consume it.
	prepend := sub.Meta.PrependNextDelivery
	if task.Resend {
		prepend = nil
	}
	switch set.ContentType {
	case model.ContentTypeAudio:
		var voiceURLs []string
		if prepend != nil {
			voiceURLs = append(voiceURLs, *prepend)
		}
		if message.BinaryContent != nil {
			voiceURLs = append(voiceURLs, p.contentURL(*message.BinaryContent))
		}
		payload.Metadata = map[string]interface{}{"voice_urls": voiceURLs}
	default:
		if message.TextContent != nil {
			payload.Content = *message.TextContent
		}
		if prepend != nil {
			if payload.Content != "" {
				payload.Content = *prepend + "\n" + payload.Content
			} else {
				payload.Content = *prepend
			}
		}
		if message.BinaryContent != nil {
			payload.Metadata = map[string]interface{}{"image_url": p.contentURL(*message.BinaryContent)}
		}
	}

	if p.dryRun[set.ShortName] {
		p.logger.Info("dry-run delivery suppressed",
			"task_id", task.ID,
			"set", set.ShortName,
			"subscription_id", sub.ID,
			"sequence", task.SequenceNumber)
	} else {
		outbound, err := p.sender.CreateOutbound(ctx, payload)
		if err != nil {
			return err
		}
		task.OutboundID = outbound.ID
	}

	if prepend != nil {
		sub.Meta.PrependNextDelivery = nil
		if err := p.subs.Update(ctx, sub); err != nil {
			return fmt.Errorf("failed to clear prepend content: %w", err)
		}
	}

	swapped, err := p.subs.UpdateProcessStatusCAS(ctx, sub.ID,
		model.ProcessStatusInProcess, model.ProcessStatusReady)
	if err != nil {
		return fmt.Errorf("failed to release subscription: %w", err)
	}
	if !swapped {
		p.logger.Warn("subscription status changed under us while releasing",
			"subscription_id", sub.ID)
	}
	return nil
}

// postProcess advances the cursor for a regular delivery, or records
// the outbound id on the originating resend request. The re-check
// through Advance keeps duplicate task deliveries idempotent.
func (p *Pipeline) postProcess(ctx context.Context, task *Task) error {
	if task.AbortReason != "" {
		return nil
	}

	if task.Resend {
		if task.OutboundID == "" {
			return nil
		}
		if err := p.resends.SetOutboundID(ctx, task.ResendRequestID, task.OutboundID); err != nil {
			return fmt.Errorf("failed to record outbound id on resend request: %w", err)
		}
		return nil
	}

	sub, err := p.subs.Get(ctx, task.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	if err := p.advancer.Advance(ctx, sub); err != nil {
		if apperrors.IsBenignAbort(err) {
			task.abort(abortLostRace)
			return nil
		}
		return fmt.Errorf("failed to advance subscription: %w", err)
	}
	return nil
}

// fail records the exhausted delivery so the requeue job can pick it
// up, then surfaces the error to the dispatcher.
func (p *Pipeline) fail(ctx context.Context, task *Task, stage string, err error) error {
	p.metrics.DeliveriesFailed.Inc()
	p.logger.Error(err, "delivery failed",
		"task_id", task.ID,
		"stage", stage,
		"subscription_id", task.SubscriptionID)

	failure := &model.SubscriptionSendFailure{
		SubscriptionID: task.SubscriptionID,
		TaskID:         task.ID,
		Reason:         fmt.Sprintf("%s: %v", stage, err),
		InitiatedAt:    task.InitiatedAt,
	}
	if recErr := p.failures.Create(ctx, failure); recErr != nil {
		p.logger.Error(recErr, "failed to record send failure", "task_id", task.ID)
	}
	return err
}

func (p *Pipeline) contentURL(key string) string {
	return strings.TrimRight(p.cfg.ContentBaseURL, "/") + "/" + strings.TrimLeft(key, "/")
}
