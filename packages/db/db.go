// Package db
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"brandspy/packages/domain"
	"brandspy/packages/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Storage struct {
	DB  *pgxpool.Pool
	cfg Config
}

type Config struct {
	JobTimeout time.Duration
}

func New(ctx context.Context, databaseURL string, cfg Config) (*Storage, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	return &Storage{DB: db, cfg: cfg}, nil
}

func (s *Storage) Close() {
	s.DB.Close()
}

func (s *Storage) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}

// LockJobs claims up to limit pending domains and flips them to processing in
// one transaction. FOR UPDATE SKIP LOCKED keeps concurrent workers from
// claiming the same rows.
func (s *Storage) LockJobs(ctx context.Context, limit int32) ([]domain.DomainJob, error) {
	var jobs []domain.DomainJob

	err := s.WithTransaction(ctx, func(tx pgx.Tx) error {
		defer s.observeQuery("lock_jobs")()

		rows, err := tx.Query(ctx, `
			SELECT id, domain FROM domain_jobs
			WHERE status = 'pending'
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("failed to lock jobs: %w", err)
		}

		var job domain.DomainJob
		if _, err := pgx.ForEachRow(rows, []any{&job.ID, &job.Domain}, func() error {
			jobs = append(jobs, job)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to iterate locked jobs: %w", err)
		}
		rows.Close()

		if len(jobs) == 0 {
			return nil
		}

		jobIDs := make([]int64, len(jobs))
		for i, j := range jobs {
			jobIDs[i] = j.ID
		}

		_, err = tx.Exec(ctx, `
			UPDATE domain_jobs
			SET status = 'processing', started_at = now()
			WHERE id = ANY($1)`, jobIDs)
		if err != nil {
			return fmt.Errorf("failed to mark jobs as processing: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// SaveClassification stores the terminal result and completes the job. The
// classifications table upserts on domain so re-runs overwrite stale results.
func (s *Storage) SaveClassification(ctx context.Context, tx pgx.Tx, jobID int64, result *domain.Classification) error {
	defer s.observeQuery("save_classification")()

	status := domain.Completed
	if result.Label == domain.LabelError {
		status = domain.Failed
	}

	_, err := tx.Exec(ctx, `
		UPDATE domain_jobs
		SET status = $1, finished_at = now(), error = NULLIF($2, '')
		WHERE id = $3`, string(status), result.Error, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO classifications (
			domain, label, confidence, text_score, vision_score, final_score,
			reasons, image_count, stage_used, nav_count, heading_count,
			http_status, final_url, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16)
		ON CONFLICT (domain) DO UPDATE SET
			label = EXCLUDED.label,
			confidence = EXCLUDED.confidence,
			text_score = EXCLUDED.text_score,
			vision_score = EXCLUDED.vision_score,
			final_score = EXCLUDED.final_score,
			reasons = EXCLUDED.reasons,
			image_count = EXCLUDED.image_count,
			stage_used = EXCLUDED.stage_used,
			nav_count = EXCLUDED.nav_count,
			heading_count = EXCLUDED.heading_count,
			http_status = EXCLUDED.http_status,
			final_url = EXCLUDED.final_url,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		result.Domain, string(result.Label), result.Confidence, result.TextScore,
		result.VisionScore, result.FinalScore, result.Reasons, result.ImageCount,
		result.StageUsed, result.NavCount, result.HeadingCount, result.HTTPStatus,
		result.FinalURL, result.Error, result.StartedAt, result.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert classification: %w", err)
	}
	return nil
}

// CompleteJob finishes a job without touching the classifications table.
// Used for duplicates that already have a stored result.
func (s *Storage) CompleteJob(ctx context.Context, tx pgx.Tx, jobID int64, note string) error {
	defer s.observeQuery("complete_job")()

	_, err := tx.Exec(ctx, `
		UPDATE domain_jobs
		SET status = 'completed', finished_at = now(), error = NULLIF($1, '')
		WHERE id = $2`, note, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// ResetStalledJobs returns processing jobs older than the job timeout to the
// pending pool. Run periodically so a crashed worker never strands work.
func (s *Storage) ResetStalledJobs(ctx context.Context) {
	defer s.observeQuery("reset_stalled_jobs")()

	tag, err := s.DB.Exec(ctx, `
		UPDATE domain_jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < now() - make_interval(secs => $1)`,
		s.cfg.JobTimeout.Seconds())
	if err != nil {
		slog.Error("Reaper: Failed to reset stalled jobs", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		slog.Warn("Reaper: Reset stalled jobs", "count", tag.RowsAffected())
	}
}

func (s *Storage) CountPendingJobs(ctx context.Context) (int64, error) {
	defer s.observeQuery("count_pending_jobs")()

	var count int64
	err := s.DB.QueryRow(ctx, `SELECT count(*) FROM domain_jobs WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

func (s *Storage) observeQuery(name string) func() {
	start := time.Now()
	return func() {
		metrics.DBQueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}
