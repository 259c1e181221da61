package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is used when the configured sweep interval is not positive
const DefaultInterval = time.Hour

// Worker runs the expiry sweep on a fixed interval
type Worker struct {
	sweeper  Sweeper
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	done     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	lastSweep time.Time
	lastCount int64
}

// NewWorker creates a sweep worker. A nil logger falls back to a no-op one.
func NewWorker(sweeper Sweeper, logger *zap.Logger, interval time.Duration) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		sweeper:  sweeper,
		logger:   logger,
		interval: interval,
		timeout:  interval / 2,
		done:     make(chan struct{}),
	}
}

// Start sweeps once, then on every tick until ctx is cancelled or Stop is
// called. It blocks.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting expiry sweep worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Expiry sweep worker stopped", zap.Error(ctx.Err()))
			return
		case <-w.done:
			w.logger.Info("Expiry sweep worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop ends a running Start. Calling it more than once is safe.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// LastSweep returns when the last successful sweep finished and how many
// cards it expired
func (w *Worker) LastSweep() (time.Time, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSweep, w.lastCount
}

func (w *Worker) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	started := time.Now()
	n, err := w.sweeper.ExpireDue(ctx)
	if err != nil {
		sweepRuns.WithLabelValues("error").Inc()
		w.logger.Error("Expiry sweep failed", zap.Error(err), zap.Int64("expired", n))
		return
	}

	finished := time.Now()
	sweepRuns.WithLabelValues("success").Inc()
	sweepExpired.Set(float64(n))
	sweepLastSuccess.Set(float64(finished.Unix()))

	w.mu.Lock()
	w.lastSweep = finished
	w.lastCount = n
	w.mu.Unlock()

	if n > 0 {
		w.logger.Info("Expired due gift cards",
			zap.Int64("expired", n),
			zap.Duration("duration", finished.Sub(started)),
		)
	} else {
		w.logger.Debug("Expiry sweep found nothing due")
	}
}
