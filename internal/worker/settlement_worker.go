package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veloxpay/backoffice/internal/observability"
	"github.com/veloxpay/backoffice/internal/service"
)

// SettlementWorker pushes held withdrawals to the external provider in
// the background. It polls at regular intervals and processes a batch
// per tick. Safe for concurrent instances: each withdrawal is claimed
// under its row lock before the provider call.
type SettlementWorker struct {
	svc          *service.SettlementService
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewSettlementWorker creates a new SettlementWorker instance.
func NewSettlementWorker(svc *service.SettlementService) *SettlementWorker {
	return &SettlementWorker{
		svc:          svc,
		pollInterval: 10 * time.Second,
		batchSize:    20,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *SettlementWorker) WithPollInterval(interval time.Duration) *SettlementWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *SettlementWorker) WithBatchSize(size int32) *SettlementWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and runs settlement batches until Stop is called or the
// context is canceled.
func (w *SettlementWorker) Start(ctx context.Context) {
	zap.L().Info("settlement worker starting",
		zap.Duration("interval", w.pollInterval), zap.Int32("batch_size", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *SettlementWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce processes a single batch immediately. Useful for testing
// or manual triggering.
func (w *SettlementWorker) ProcessOnce(ctx context.Context) error {
	return w.svc.ProcessSettlements(ctx, w.batchSize)
}

func (w *SettlementWorker) runOnce(ctx context.Context) {
	if err := w.svc.ProcessSettlements(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("settlement", "failed")
		zap.L().Error("settlement batch failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("settlement", "success")
}
