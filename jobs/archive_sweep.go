package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArchiveSweepJob enforces the single-published-sheet invariant: any
// published sheet strictly older than its association's latest published
// month gets archived. Publish already does this inline; the sweep is the
// safety net.
type ArchiveSweepJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewArchiveSweepJob constructs the job.
func NewArchiveSweepJob(pool *pgxpool.Pool, logger *slog.Logger) *ArchiveSweepJob {
	return &ArchiveSweepJob{pool: pool, logger: logger}
}

// Handle processes TaskArchiveSweep tasks.
func (j *ArchiveSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tag, err := j.pool.Exec(ctx, `UPDATE sheets s SET status='archived', updated_at=NOW()
WHERE s.status='published' AND EXISTS (
SELECT 1 FROM sheets n
WHERE n.association_id = s.association_id AND n.status='published' AND n.month > s.month)`)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		j.logger.Warn("archive sweep corrected sheets", "archived", tag.RowsAffected())
	}
	return nil
}
