package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"promo_service/internal/config"
	"promo_service/internal/promotion"
	"promo_service/internal/queue"
)

// Worker executes queued promotion jobs sequentially and owns the two
// time-driven concerns: the periodic rollover sweep and the per-batch
// auto-cancel timer.
type Worker struct {
	cfg config.WorkerConfig
	svc promotion.PromotionService
	log *logrus.Logger
}

func New(cfg config.WorkerConfig, svc promotion.PromotionService, log *logrus.Logger) *Worker {
	return &Worker{cfg: cfg, svc: svc, log: log}
}

// Handle dispatches one job to the promotion service.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	w.log.WithField("type", job.Type).Info("processing job")

	switch job.Type {
	case queue.JobImportBets:
		var p queue.ImportBetsPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("bad import payload: %w", err)
		}
		return w.svc.ImportBets(ctx, p.BatchID, p.GameType, p.ActorID, p.Records)
	case queue.JobRollover:
		return w.svc.Rollover(ctx)
	case queue.JobRecompute:
		return w.svc.Recompute(ctx)
	case queue.JobRevertBets:
		var p queue.RevertBetsPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("bad revert payload: %w", err)
		}
		return w.svc.RevertBets(ctx, p.BetIDs, p.ActorID)
	case queue.JobDeleteBatch:
		var p queue.BatchPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("bad delete payload: %w", err)
		}
		return w.svc.DeleteBatch(ctx, p.BatchID, p.ActorID)
	case queue.JobCancelBatch:
		var p queue.BatchPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("bad cancel payload: %w", err)
		}
		return w.svc.CancelStaleBatch(ctx, p.BatchID)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// ScheduleBatchCancel arms the dead-man's switch for an import batch. The
// running import is never interrupted; a batch that finished in time is left
// alone.
func (w *Worker) ScheduleBatchCancel(ctx context.Context, batchID string) {
	timer := time.NewTimer(w.cfg.BatchCancelDelay)
	go func() {
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			if err := w.svc.CancelStaleBatch(ctx, batchID); err != nil {
				w.log.WithField("batch_id", batchID).WithError(err).Error("auto-cancel failed")
			}
		}
	}()
}

// RunRolloverLoop attempts the weekly sweep on a fixed interval until the
// context is canceled. The sweep only touches summaries whose cycle has
// actually closed, so the interval can be much shorter than a week.
func (w *Worker) RunRolloverLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.RolloverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.svc.Rollover(ctx); err != nil {
				w.log.WithError(err).Error("scheduled rollover failed")
			}
		}
	}
}
