package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/driplabs/drip-api/internal/transport"
)

// withRetry runs a stage with exponential backoff and jitter, retrying
// only errors the transport layer classifies as transient. Permanent
// errors return immediately.
func (p *Pipeline) withRetry(ctx context.Context, stage string, fn func() error) error {
	delay := p.cfg.RetryBaseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !transport.IsRetryable(err) {
			return err
		}
		if attempt >= p.cfg.MaxRetries {
			return err
		}

		p.metrics.StageRetries.WithLabelValues(stage).Inc()
		p.logger.Warn("stage failed, retrying",
			"stage", stage,
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err.Error())

		jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}

		delay *= 2
		if delay > p.cfg.RetryMaxDelay {
			delay = p.cfg.RetryMaxDelay
		}
	}
}
