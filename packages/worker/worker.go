// Package worker
package worker

import (
	"context"
	"log/slog"

	"brandspy/packages/classifier"
	"brandspy/packages/config"
	"brandspy/packages/db"
	"brandspy/packages/domain"
	"brandspy/packages/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type Worker struct {
	cfg        config.Config
	storage    *db.Storage
	classifier *classifier.Classifier
	redis      *redis.Client
}

func New(cfg config.Config, storage *db.Storage, clf *classifier.Classifier, rdb *redis.Client) *Worker {
	return &Worker{
		cfg:        cfg,
		storage:    storage,
		classifier: clf,
		redis:      rdb,
	}
}

// ProcessJobs claims one batch of pending domains and classifies them with
// bounded parallelism. Each domain owns its own browser contexts and
// sessions, so tasks never share mutable state.
func (w *Worker) ProcessJobs(ctx context.Context) {
	jobs, err := w.storage.LockJobs(ctx, int32(w.cfg.BatchSize))
	if err != nil {
		slog.Error("Failed to lock jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	slog.Info("Locked and dispatched jobs", "count", len(jobs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxWorkers)

	for _, job := range jobs {
		currentJob := job
		g.Go(func() error {
			if err := w.processJob(gCtx, currentJob); err != nil {
				slog.Error("Job failed", "job_id", currentJob.ID, "domain", currentJob.Domain, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("Finished processing batch", "count", len(jobs))
}

func (w *Worker) processJob(ctx context.Context, job domain.DomainJob) error {
	dom := domain.NormalizeDomain(job.Domain)

	if w.alreadySeen(ctx, dom) {
		slog.Info("Domain already classified, skipping", "domain", dom)
		return w.storage.WithTransaction(ctx, func(tx pgx.Tx) error {
			return w.storage.CompleteJob(ctx, tx, job.ID, "duplicate: previously classified")
		})
	}

	result := w.classifier.Classify(ctx, dom)

	err := w.storage.WithTransaction(ctx, func(tx pgx.Tx) error {
		return w.storage.SaveClassification(ctx, tx, job.ID, result)
	})
	if err != nil {
		return err
	}

	w.markSeen(ctx, dom)
	return nil
}

// alreadySeen consults the Redis dedupe set. Redis being down never blocks
// classification; it only loses dedupe.
func (w *Worker) alreadySeen(ctx context.Context, dom string) bool {
	if w.redis == nil {
		return false
	}
	seen, err := w.redis.SIsMember(ctx, w.cfg.SeenSetKey, dom).Result()
	if err != nil {
		slog.Warn("Redis seen-set lookup failed", "domain", dom, "error", err)
		return false
	}
	return seen
}

func (w *Worker) markSeen(ctx context.Context, dom string) {
	if w.redis == nil {
		return
	}
	if err := w.redis.SAdd(ctx, w.cfg.SeenSetKey, dom).Err(); err != nil {
		slog.Warn("Redis seen-set add failed", "domain", dom, "error", err)
	}
}

// UpdatePendingGauge refreshes the pending-jobs metric. Called on the polling
// tick alongside the stalled-job reaper.
func (w *Worker) UpdatePendingGauge(ctx context.Context) {
	count, err := w.storage.CountPendingJobs(ctx)
	if err != nil {
		slog.Error("Failed to count pending jobs", "error", err)
		return
	}
	metrics.PendingJobs.Set(float64(count))
}
