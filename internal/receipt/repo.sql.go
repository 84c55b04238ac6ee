package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const receiptColumns = `id, association_id, apartment_id, month, restante, intretinere, penalitati, total,
receipt_number, method, notes, created_by, created_at, voided_at, voided_by, void_reason`

// Create numbers and inserts the receipt in one transaction. The upsert
// on the counter row takes a row lock, so concurrent writers serialise per
// association; a unique violation on (association_id, receipt_number)
// still maps to ErrDuplicateReceiptNumber so the caller can retry.
func (r *Repository) Create(ctx context.Context, in *Receipt) (*Receipt, error) {
	out := *in
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO receipt_counters (association_id, last_number) VALUES ($1, 1)
ON CONFLICT (association_id) DO UPDATE SET last_number = receipt_counters.last_number + 1
RETURNING last_number`, in.AssociationID).Scan(&out.ReceiptNumber)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO receipts (id, association_id, apartment_id, month, restante, intretinere, penalitati, total, receipt_number, method, notes, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			out.ID, out.AssociationID, out.ApartmentID, string(out.Month), out.Restante, out.Intretinere,
			out.Penalitati, out.Total, out.ReceiptNumber, out.Method, out.Notes, out.CreatedBy, out.CreatedAt)
		return err
	})
	if db.IsUniqueViolation(err) || db.IsSerializationFailure(err) {
		return nil, ErrDuplicateReceiptNumber
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByID loads one receipt.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id=$1`, id)
	rec, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkVoided stamps the void metadata. The row and number are kept.
func (r *Repository) MarkVoided(ctx context.Context, id uuid.UUID, voidedBy, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE receipts SET voided_at=$1, voided_by=$2, void_reason=$3 WHERE id=$4 AND voided_at IS NULL`,
		at, voidedBy, reason, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListByMonth returns every receipt of a month in issuance order.
func (r *Repository) ListByMonth(ctx context.Context, associationID int64, month shared.Month) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts
WHERE association_id=$1 AND month=$2 ORDER BY receipt_number`, associationID, string(month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReceipts(rows)
}

// ListByApartment returns an apartment's receipts for a month.
func (r *Repository) ListByApartment(ctx context.Context, associationID, apartmentID int64, month shared.Month) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts
WHERE association_id=$1 AND apartment_id=$2 AND month=$3 ORDER BY receipt_number`, associationID, apartmentID, string(month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReceipts(rows)
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var rec Receipt
	var month string
	var voidedBy, voidReason *string
	err := row.Scan(&rec.ID, &rec.AssociationID, &rec.ApartmentID, &month, &rec.Restante, &rec.Intretinere,
		&rec.Penalitati, &rec.Total, &rec.ReceiptNumber, &rec.Method, &rec.Notes, &rec.CreatedBy,
		&rec.CreatedAt, &rec.VoidedAt, &voidedBy, &voidReason)
	if err != nil {
		return nil, err
	}
	rec.Month = shared.Month(month)
	if voidedBy != nil {
		rec.VoidedBy = *voidedBy
	}
	if voidReason != nil {
		rec.VoidReason = *voidReason
	}
	return &rec, nil
}

func collectReceipts(rows pgx.Rows) ([]Receipt, error) {
	var out []Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
