package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/blocadmin/blocadmin/internal/policy"
	"github.com/blocadmin/blocadmin/internal/receipt"
	"github.com/blocadmin/blocadmin/internal/reconcile"
	"github.com/blocadmin/blocadmin/internal/sheet"
)

const accrualActor = "system/worker"

// PenaltyAccrualJob assesses penalties on a schedule instead of at publish
// time. For each association it reconciles the published sheet against its
// receipts and writes the penalty as an adjustment row on the in_progress
// successor sheet, once per assessed month.
type PenaltyAccrualJob struct {
	pool     *pgxpool.Pool
	sheets   *sheet.Repository
	receipts *receipt.Repository
	penalty  policy.PenaltyFunc
	logger   *slog.Logger
	now      func() time.Time
}

// NewPenaltyAccrualJob constructs the job.
func NewPenaltyAccrualJob(pool *pgxpool.Pool, sheets *sheet.Repository, receipts *receipt.Repository, penalty policy.PenaltyFunc, logger *slog.Logger) *PenaltyAccrualJob {
	if penalty == nil {
		penalty = policy.NoPenalty
	}
	return &PenaltyAccrualJob{
		pool:     pool,
		sheets:   sheets,
		receipts: receipts,
		penalty:  penalty,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes TaskPenaltyAccrual tasks.
func (j *PenaltyAccrualJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload PenaltyAccrualPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	ids, err := j.associationIDs(ctx, payload.AssociationID)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			if err := j.accrue(ctx, id); err != nil {
				j.logger.Error("penalty accrual", "association_id", id, slog.Any("error", err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (j *PenaltyAccrualJob) accrue(ctx context.Context, associationID int64) error {
	prev, err := j.sheets.LatestPublished(ctx, associationID)
	if err != nil {
		// Nothing published yet, nothing to assess.
		return nil
	}
	next, err := j.sheets.GetSheetByMonth(ctx, associationID, prev.Month.Next())
	if err != nil || next.Status != sheet.StatusInProgress {
		return nil
	}

	dues, err := j.sheets.ListDues(ctx, prev.ID)
	if err != nil {
		return err
	}
	receipts, err := j.receipts.ListByMonth(ctx, associationID, prev.Month)
	if err != nil {
		return err
	}
	payments := receipt.PaymentsByApartment(receipts)

	reason := fmt.Sprintf("penalty accrual %s", prev.Month)
	assessed, err := j.alreadyAssessed(ctx, next.ID, reason)
	if err != nil {
		return err
	}

	dueSince := prev.Month.Next().Time()
	if prev.PublishedAt != nil {
		dueSince = *prev.PublishedAt
	}
	now := j.now()
	accrued := 0
	for _, d := range dues {
		if assessed[d.ApartmentID] {
			continue
		}
		rem := reconcile.Reconcile(d.Baseline(), payments[d.ApartmentID])
		delta := j.penalty(rem.Restante.Add(rem.Intretinere), dueSince, now)
		if !delta.IsPositive() {
			continue
		}
		adj := &sheet.BalanceAdjustment{
			ID:              uuid.New(),
			SheetID:         next.ID,
			ApartmentID:     d.ApartmentID,
			PenalitatiDelta: delta,
			Reason:          reason,
			AdjustedBy:      accrualActor,
			AdjustedAt:      now,
		}
		if err := j.sheets.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		accrued++
	}
	if accrued > 0 {
		j.logger.Info("penalties accrued",
			"association_id", associationID, "month", prev.Month.String(), "apartments", accrued)
	}
	return nil
}

// alreadyAssessed returns the apartments that already carry an accrual row
// for this reason, making reruns idempotent.
func (j *PenaltyAccrualJob) alreadyAssessed(ctx context.Context, sheetID int64, reason string) (map[int64]bool, error) {
	adjustments, err := j.sheets.ListAdjustments(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool)
	for _, adj := range adjustments {
		if adj.Reason == reason {
			out[adj.ApartmentID] = true
		}
	}
	return out, nil
}

func (j *PenaltyAccrualJob) associationIDs(ctx context.Context, only int64) ([]int64, error) {
	if only != 0 {
		return []int64{only}, nil
	}
	rows, err := j.pool.Query(ctx, `SELECT id FROM associations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
