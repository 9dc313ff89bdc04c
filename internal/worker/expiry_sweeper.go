package worker

import (
	"context"
	"time"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/service/prescription"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/logger"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/metrics"
)

// ExpirySweeper periodically marks prescriptions with aged-out tokens as
// EXPIRED. A failed run is logged and retried on the next tick; it never
// brings the process down.
type ExpirySweeper struct {
	svc       *prescription.Service
	interval  time.Duration
	batchSize int
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewExpirySweeper(svc *prescription.Service, interval time.Duration, batchSize int, logger *logger.Logger, m *metrics.Metrics) *ExpirySweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		svc:       svc,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		metrics:   m,
	}
}

func (w *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting expiry sweeper")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down expiry sweeper")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpirySweeper) sweep(ctx context.Context) {
	expired, err := w.svc.ExpireStale(ctx, time.Now(), w.batchSize)
	if err != nil {
		w.metrics.SweeperErrors.Inc()
		w.logger.Error(err, "Expiry sweep failed", "expired_before_failure", expired)
		return
	}
	if expired > 0 {
		w.logger.Info("Expired stale prescriptions", "count", expired)
	}
	w.metrics.SweeperExpired.Add(float64(expired))
}
