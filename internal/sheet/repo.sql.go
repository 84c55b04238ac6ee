package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blocadmin/blocadmin/internal/expense"
	"github.com/blocadmin/blocadmin/internal/platform/db"
	"github.com/blocadmin/blocadmin/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sheetColumns = `id, association_id, month, status, approved_at, approved_by, published_at, published_by, created_at, updated_at`

// CreateSheet inserts a sheet. The unique index on (association_id, month)
// maps to ErrSheetExists.
func (r *Repository) CreateSheet(ctx context.Context, s *Sheet) (*Sheet, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO sheets (association_id, month, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		s.AssociationID, string(s.Month), string(s.Status), s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
	if db.IsUniqueViolation(err) {
		return nil, ErrSheetExists
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetSheet loads one sheet.
func (r *Repository) GetSheet(ctx context.Context, id int64) (*Sheet, error) {
	return scanSheet(r.pool.QueryRow(ctx, `SELECT `+sheetColumns+` FROM sheets WHERE id=$1`, id))
}

// GetSheetByMonth loads the sheet of one month.
func (r *Repository) GetSheetByMonth(ctx context.Context, associationID int64, month shared.Month) (*Sheet, error) {
	return scanSheet(r.pool.QueryRow(ctx, `SELECT `+sheetColumns+` FROM sheets
WHERE association_id=$1 AND month=$2`, associationID, string(month)))
}

// ListSheets returns the association's sheets, newest month first.
func (r *Repository) ListSheets(ctx context.Context, associationID int64) ([]Sheet, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sheetColumns+` FROM sheets
WHERE association_id=$1 ORDER BY month DESC`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSheets(rows)
}

// CurrentSheets returns the in_progress and published sheets.
func (r *Repository) CurrentSheets(ctx context.Context, associationID int64) ([]Sheet, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sheetColumns+` FROM sheets
WHERE association_id=$1 AND status IN ('in_progress', 'published') ORDER BY month`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSheets(rows)
}

// LatestPublished returns the published sheet, shared.ErrNotFound when the
// association has never published.
func (r *Repository) LatestPublished(ctx context.Context, associationID int64) (*Sheet, error) {
	return scanSheet(r.pool.QueryRow(ctx, `SELECT `+sheetColumns+` FROM sheets
WHERE association_id=$1 AND status='published' ORDER BY month DESC LIMIT 1`, associationID))
}

const expenseColumns = `id, sheet_id, name, rule, total_amount, unit_price, consumption, individual_amounts, prior_index, current_index, excluded, created_at, updated_at`

// CreateExpense inserts an expense record.
func (r *Repository) CreateExpense(ctx context.Context, rec *expense.Record) (*expense.Record, error) {
	cons, ind, prior, current, excl, err := marshalExpenseMaps(rec)
	if err != nil {
		return nil, err
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO sheet_expenses (sheet_id, name, rule, total_amount, unit_price, consumption, individual_amounts, prior_index, current_index, excluded, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		rec.SheetID, rec.Name, string(rec.Rule), rec.TotalAmount, rec.UnitPrice,
		cons, ind, prior, current, excl, rec.CreatedAt, rec.UpdatedAt).Scan(&rec.ID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateExpense replaces an expense record.
func (r *Repository) UpdateExpense(ctx context.Context, rec *expense.Record) error {
	cons, ind, prior, current, excl, err := marshalExpenseMaps(rec)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE sheet_expenses SET name=$1, rule=$2, total_amount=$3, unit_price=$4,
consumption=$5, individual_amounts=$6, prior_index=$7, current_index=$8, excluded=$9, updated_at=$10
WHERE id=$11 AND sheet_id=$12`,
		rec.Name, string(rec.Rule), rec.TotalAmount, rec.UnitPrice,
		cons, ind, prior, current, excl, rec.UpdatedAt, rec.ID, rec.SheetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteExpense removes an expense record.
func (r *Repository) DeleteExpense(ctx context.Context, sheetID, expenseID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sheet_expenses WHERE id=$1 AND sheet_id=$2`, expenseID, sheetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetExpense loads one expense record.
func (r *Repository) GetExpense(ctx context.Context, sheetID, expenseID int64) (*expense.Record, error) {
	rec, err := scanExpense(r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM sheet_expenses
WHERE id=$1 AND sheet_id=$2`, expenseID, sheetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return rec, err
}

// ListExpenses returns a sheet's expenses in creation order.
func (r *Repository) ListExpenses(ctx context.Context, sheetID int64) ([]expense.Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+expenseColumns+` FROM sheet_expenses WHERE sheet_id=$1 ORDER BY id`, sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []expense.Record
	for rows.Next() {
		rec, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// InsertAdjustment records a balance adjustment.
func (r *Repository) InsertAdjustment(ctx context.Context, adj *BalanceAdjustment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO balance_adjustments (id, sheet_id, apartment_id, restante_delta, penalitati_delta, reason, adjusted_by, adjusted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		adj.ID, adj.SheetID, adj.ApartmentID, adj.RestanteDelta, adj.PenalitatiDelta, adj.Reason, adj.AdjustedBy, adj.AdjustedAt)
	return err
}

// ListAdjustments returns a sheet's adjustments in entry order.
func (r *Repository) ListAdjustments(ctx context.Context, sheetID int64) ([]BalanceAdjustment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sheet_id, apartment_id, restante_delta, penalitati_delta, reason, adjusted_by, adjusted_at
FROM balance_adjustments WHERE sheet_id=$1 ORDER BY adjusted_at`, sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceAdjustment
	for rows.Next() {
		var adj BalanceAdjustment
		if err := rows.Scan(&adj.ID, &adj.SheetID, &adj.ApartmentID, &adj.RestanteDelta, &adj.PenalitatiDelta,
			&adj.Reason, &adj.AdjustedBy, &adj.AdjustedAt); err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, rows.Err()
}

// Approve stamps the publish approval on an in_progress sheet.
func (r *Repository) Approve(ctx context.Context, sheetID int64, by string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sheets SET approved_at=$1, approved_by=$2, updated_at=$1
WHERE id=$3 AND status='in_progress'`, at, by, sheetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// IsApproved reports whether the month's sheet carries an approval stamp.
// The publish approval gate checks it.
func (r *Repository) IsApproved(ctx context.Context, associationID int64, month shared.Month) (bool, error) {
	var approved bool
	err := r.pool.QueryRow(ctx, `SELECT approved_at IS NOT NULL FROM sheets
WHERE association_id=$1 AND month=$2`, associationID, string(month)).Scan(&approved)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, shared.ErrNotFound
	}
	return approved, err
}

// Publish applies the whole publish set in one transaction. The status
// flip is guarded (WHERE status='in_progress'), so a concurrent publish
// that slipped past the redis lock still fails cleanly.
func (r *Repository) Publish(ctx context.Context, set PublishSet) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE sheets SET status='published', published_at=$1, published_by=$2, updated_at=$1
WHERE id=$3 AND status='in_progress'`, set.PublishedAt, set.PublishedBy, set.SheetID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrIllegalTransition
		}

		for i := range set.Dues {
			d := &set.Dues[i]
			breakdown, err := json.Marshal(d.Breakdown)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO apartment_dues (sheet_id, apartment_id, owner, block_name, stair_name, number, persons, position, restante, current_maintenance, penalitati, total_datorat, breakdown)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				d.SheetID, d.ApartmentID, d.Owner, d.BlockName, d.StairName, d.Number, d.Persons, d.Position,
				d.Restante, d.CurrentMaintenance, d.Penalitati, d.TotalDatorat, breakdown); err != nil {
				return err
			}
		}

		if set.ArchiveSheetID != 0 {
			if _, err := tx.Exec(ctx, `UPDATE sheets SET status='archived', updated_at=$1
WHERE id=$2 AND status='published'`, set.PublishedAt, set.ArchiveSheetID); err != nil {
				return err
			}
		}

		switch {
		case set.ReseedSheetID != 0:
			// Downstream sheet kept through an unpublish: replace its
			// expense set instead of inserting a second month row.
			tag, err := tx.Exec(ctx, `UPDATE sheets SET updated_at=$1
WHERE id=$2 AND status='in_progress'`, set.PublishedAt, set.ReseedSheetID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrIllegalTransition
			}
			if _, err := tx.Exec(ctx, `DELETE FROM sheet_expenses WHERE sheet_id=$1`, set.ReseedSheetID); err != nil {
				return err
			}
			if err := insertSheetExpenses(ctx, tx, set.ReseedSheetID, set.NextExpenses); err != nil {
				return err
			}
		case set.Next != nil:
			next := set.Next
			if err := tx.QueryRow(ctx, `INSERT INTO sheets (association_id, month, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				next.AssociationID, string(next.Month), string(next.Status), next.CreatedAt, next.UpdatedAt).Scan(&next.ID); err != nil {
				return err
			}
			if err := insertSheetExpenses(ctx, tx, next.ID, set.NextExpenses); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertSheetExpenses(ctx context.Context, tx pgx.Tx, sheetID int64, recs []expense.Record) error {
	for i := range recs {
		rec := &recs[i]
		rec.SheetID = sheetID
		cons, ind, prior, current, excl, err := marshalExpenseMaps(rec)
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `INSERT INTO sheet_expenses (sheet_id, name, rule, total_amount, unit_price, consumption, individual_amounts, prior_index, current_index, excluded, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
			rec.SheetID, rec.Name, string(rec.Rule), rec.TotalAmount, rec.UnitPrice,
			cons, ind, prior, current, excl, rec.CreatedAt, rec.UpdatedAt).Scan(&rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// Unpublish flips a published sheet back to in_progress, drops its frozen
// table, and deletes the still-empty downstream sheet when asked to.
func (r *Repository) Unpublish(ctx context.Context, sheetID int64, dropSheetID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE sheets SET status='in_progress', approved_at=NULL, approved_by=NULL,
published_at=NULL, published_by=NULL, updated_at=NOW()
WHERE id=$1 AND status='published'`, sheetID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrIllegalTransition
		}
		if _, err := tx.Exec(ctx, `DELETE FROM apartment_dues WHERE sheet_id=$1`, sheetID); err != nil {
			return err
		}
		if dropSheetID != 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM sheet_expenses WHERE sheet_id=$1`, dropSheetID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM sheets WHERE id=$1 AND status='in_progress'`, dropSheetID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDues returns the frozen maintenance table in its frozen order.
func (r *Repository) ListDues(ctx context.Context, sheetID int64) ([]ApartmentDue, error) {
	rows, err := r.pool.Query(ctx, `SELECT sheet_id, apartment_id, owner, block_name, stair_name, number, persons, position, restante, current_maintenance, penalitati, total_datorat, breakdown
FROM apartment_dues WHERE sheet_id=$1 ORDER BY position`, sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApartmentDue
	for rows.Next() {
		var d ApartmentDue
		var breakdown []byte
		if err := rows.Scan(&d.SheetID, &d.ApartmentID, &d.Owner, &d.BlockName, &d.StairName, &d.Number, &d.Persons, &d.Position,
			&d.Restante, &d.CurrentMaintenance, &d.Penalitati, &d.TotalDatorat, &breakdown); err != nil {
			return nil, err
		}
		if len(breakdown) > 0 {
			if err := json.Unmarshal(breakdown, &d.Breakdown); err != nil {
				return nil, err
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// HasPublishedDue reports whether the apartment appears on the published
// sheet of the month. The receipt service validates payments against it.
func (r *Repository) HasPublishedDue(ctx context.Context, associationID, apartmentID int64, month shared.Month) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM apartment_dues d
JOIN sheets s ON s.id = d.sheet_id
WHERE s.association_id=$1 AND s.month=$2 AND s.status='published' AND d.apartment_id=$3)`,
		associationID, string(month), apartmentID).Scan(&exists)
	return exists, err
}

func scanSheet(row pgx.Row) (*Sheet, error) {
	var s Sheet
	var month, status string
	var approvedBy, publishedBy *string
	err := row.Scan(&s.ID, &s.AssociationID, &month, &status, &s.ApprovedAt, &approvedBy,
		&s.PublishedAt, &publishedBy, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Month = shared.Month(month)
	s.Status = Status(status)
	if approvedBy != nil {
		s.ApprovedBy = *approvedBy
	}
	if publishedBy != nil {
		s.PublishedBy = *publishedBy
	}
	return &s, nil
}

func collectSheets(rows pgx.Rows) ([]Sheet, error) {
	var out []Sheet
	for rows.Next() {
		s, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanExpense(row pgx.Row) (*expense.Record, error) {
	var rec expense.Record
	var rule string
	var cons, ind, prior, current, excl []byte
	err := row.Scan(&rec.ID, &rec.SheetID, &rec.Name, &rule, &rec.TotalAmount, &rec.UnitPrice,
		&cons, &ind, &prior, &current, &excl, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Rule = expense.AllocationRule(rule)
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{cons, &rec.Consumption},
		{ind, &rec.IndividualAmounts},
		{prior, &rec.PriorIndex},
		{current, &rec.CurrentIndex},
		{excl, &rec.Excluded},
	} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
				return nil, err
			}
		}
	}
	return &rec, nil
}

func marshalExpenseMaps(rec *expense.Record) (cons, ind, prior, current, excl []byte, err error) {
	if cons, err = json.Marshal(rec.Consumption); err != nil {
		return
	}
	if ind, err = json.Marshal(rec.IndividualAmounts); err != nil {
		return
	}
	if prior, err = json.Marshal(rec.PriorIndex); err != nil {
		return
	}
	if current, err = json.Marshal(rec.CurrentIndex); err != nil {
		return
	}
	excl, err = json.Marshal(rec.Excluded)
	return
}
