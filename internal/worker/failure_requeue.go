package worker

import (
	"context"
	"time"

	"github.com/driplabs/drip-api/internal/service/reconcile"
	"github.com/driplabs/drip-api/pkg/logger"
)

// FailureRequeueWorker drains recorded send failures back onto the
// delivery channel.
type FailureRequeueWorker struct {
	reconciler reconcile.Service
	interval   time.Duration
	logger     *logger.Logger
}

func NewFailureRequeueWorker(reconciler reconcile.Service, interval time.Duration, log *logger.Logger) *FailureRequeueWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &FailureRequeueWorker{
		reconciler: reconciler,
		interval:   interval,
		logger:     log,
	}
}

func (w *FailureRequeueWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.reconciler.RequeueFailures(ctx); err != nil {
				w.logger.Error(err, "failure requeue pass failed")
			}
		}
	}
}
