// Package sheet owns the monthly maintenance sheet aggregate: its
// lifecycle, the frozen maintenance table, and the debt carry-forward
// between months.
package sheet

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blocadmin/blocadmin/internal/expense"
	"github.com/blocadmin/blocadmin/internal/reconcile"
	"github.com/blocadmin/blocadmin/internal/shared"
)

// Status is the sheet lifecycle state. in_progress sheets are editable;
// published sheets accept payments against their frozen table; archived
// sheets are read-only history.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusPublished  Status = "published"
	StatusArchived   Status = "archived"
)

var (
	// ErrSheetLocked indicates an edit against a sheet that left
	// in_progress. Published data is frozen; corrections go through
	// Unpublish.
	ErrSheetLocked = errors.New("sheet: sheet is not editable")
	// ErrSheetExists indicates a second sheet for the same month.
	ErrSheetExists = errors.New("sheet: sheet already exists for month")
	// ErrIllegalTransition indicates a lifecycle move outside
	// in_progress -> published -> archived.
	ErrIllegalTransition = errors.New("sheet: illegal status transition")
	// ErrIncompleteDistribution blocks publication while expense entries
	// are missing; the IncompleteError wrapper lists them.
	ErrIncompleteDistribution = errors.New("sheet: distribution incomplete")
	// ErrHasPayments blocks unpublish once receipts were recorded
	// against the month.
	ErrHasPayments = errors.New("sheet: receipts already recorded for month")
	// ErrApprovalPending blocks publication until the sheet is approved,
	// for deployments running with a publish approval gate.
	ErrApprovalPending = errors.New("sheet: publication awaits approval")
)

// IncompleteError carries the apartment-level gaps blocking publication.
type IncompleteError struct {
	Missing []expense.MissingEntry
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("sheet: distribution incomplete, %d entries missing", len(e.Missing))
}

// Is makes errors.Is(err, ErrIncompleteDistribution) hold.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncompleteDistribution
}

// Sheet is one association's maintenance sheet for one month.
type Sheet struct {
	ID            int64        `json:"id"`
	AssociationID int64        `json:"association_id"`
	Month         shared.Month `json:"month"`
	Status        Status       `json:"status"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	PublishedBy string     `json:"published_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Editable reports whether expense and balance edits are allowed.
func (s *Sheet) Editable() bool {
	return s.Status == StatusInProgress
}

// ApartmentDue is one frozen maintenance table row, written at publish
// time and never recomputed afterwards.
type ApartmentDue struct {
	SheetID     int64  `json:"sheet_id"`
	ApartmentID int64  `json:"apartment_id"`
	Owner       string `json:"owner"`
	BlockName   string `json:"block_name"`
	StairName   string `json:"stair_name"`
	Number      int    `json:"number"`
	Persons     int    `json:"persons"`
	// Position is the row's place in the roster order at freeze time.
	// Reads sort by it, so collation changes never reorder a frozen
	// table.
	Position int `json:"position"`

	Restante           decimal.Decimal `json:"restante"`
	CurrentMaintenance decimal.Decimal `json:"current_maintenance"`
	Penalitati         decimal.Decimal `json:"penalitati"`
	TotalDatorat       decimal.Decimal `json:"total_datorat"`

	// Breakdown maps expense name to this apartment's share.
	Breakdown map[string]decimal.Decimal `json:"breakdown,omitempty"`
}

// Baseline converts the frozen row into the reconciliation input.
func (d *ApartmentDue) Baseline() reconcile.Baseline {
	return reconcile.Baseline{
		Restante:           d.Restante,
		CurrentMaintenance: d.CurrentMaintenance,
		Penalitati:         d.Penalitati,
		Exists:             true,
	}
}

// BalanceAdjustment is an audited correction of an apartment's opening
// balances on an in_progress sheet. Deltas apply on top of the carried
// forward values when the sheet is published.
type BalanceAdjustment struct {
	ID              uuid.UUID       `json:"id"`
	SheetID         int64           `json:"sheet_id"`
	ApartmentID     int64           `json:"apartment_id"`
	RestanteDelta   decimal.Decimal `json:"restante_delta"`
	PenalitatiDelta decimal.Decimal `json:"penalitati_delta"`
	Reason          string          `json:"reason"`
	AdjustedBy      string          `json:"adjusted_by"`
	AdjustedAt      time.Time       `json:"adjusted_at"`
}

// ReconciledRow is a frozen due joined with the payments recorded against
// it, the view operators work from day to day.
type ReconciledRow struct {
	ApartmentDue
	Remaining reconcile.RemainingDebt `json:"remaining"`
}

// Stats summarises a published sheet's collection state.
type Stats struct {
	Apartments     int             `json:"apartments"`
	Paid           int             `json:"paid"`
	PartiallyPaid  int             `json:"partially_paid"`
	Unpaid         int             `json:"unpaid"`
	TotalDue       decimal.Decimal `json:"total_due"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
	// CollectionPercent is collected over due, in percent, rounded to
	// two decimals. Zero due reports 100.
	CollectionPercent decimal.Decimal `json:"collection_percent"`
}

// ExpenseInput carries an expense create or update.
type ExpenseInput struct {
	Name        string          `json:"name" validate:"required"`
	Rule        string          `json:"rule" validate:"required"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Excluded    []int64         `json:"excluded,omitempty"`
}

// AdjustInput carries a balance adjustment request.
type AdjustInput struct {
	ApartmentID     int64           `json:"apartment_id" validate:"required"`
	RestanteDelta   decimal.Decimal `json:"restante_delta"`
	PenalitatiDelta decimal.Decimal `json:"penalitati_delta"`
	Reason          string          `json:"reason" validate:"required"`
}
