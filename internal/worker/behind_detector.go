package worker

import (
	"context"
	"time"

	"github.com/driplabs/drip-api/internal/service/reconcile"
	"github.com/driplabs/drip-api/pkg/logger"
)

// BehindDetectorWorker periodically scans for subscriptions lagging
// their schedule and records them for operators.
type BehindDetectorWorker struct {
	reconciler reconcile.Service
	interval   time.Duration
	logger     *logger.Logger
}

func NewBehindDetectorWorker(reconciler reconcile.Service, interval time.Duration, log *logger.Logger) *BehindDetectorWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &BehindDetectorWorker{
		reconciler: reconciler,
		interval:   interval,
		logger:     log,
	}
}

func (w *BehindDetectorWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.reconciler.FindBehindSubscriptions(ctx, time.Now().UTC()); err != nil {
				w.logger.Error(err, "behind scan failed")
			}
		}
	}
}
