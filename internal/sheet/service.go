package sheet

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blocadmin/blocadmin/internal/distribution"
	"github.com/blocadmin/blocadmin/internal/expense"
	"github.com/blocadmin/blocadmin/internal/policy"
	"github.com/blocadmin/blocadmin/internal/receipt"
	"github.com/blocadmin/blocadmin/internal/reconcile"
	"github.com/blocadmin/blocadmin/internal/shared"
	"github.com/blocadmin/blocadmin/internal/structure"
)

// PublishSet is everything the publish transaction writes atomically: the
// status flip with its frozen table, the predecessor archive, and the next
// month's seeded sheet.
type PublishSet struct {
	SheetID     int64
	PublishedAt time.Time
	PublishedBy string
	Dues        []ApartmentDue
	// ArchiveSheetID is the previously published sheet, zero when none.
	ArchiveSheetID int64
	// Next is the next month's sheet to create. ReseedSheetID is set
	// instead when that sheet already exists (it survived an unpublish);
	// its expense set is then replaced with NextExpenses.
	Next          *Sheet
	ReseedSheetID int64
	NextExpenses  []expense.Record
}

// RepositoryPort defines data access for sheets. Publish and Unpublish
// re-check the status inside their transaction, so a stale read outside
// never flips a sheet twice.
type RepositoryPort interface {
	CreateSheet(ctx context.Context, s *Sheet) (*Sheet, error)
	GetSheet(ctx context.Context, id int64) (*Sheet, error)
	GetSheetByMonth(ctx context.Context, associationID int64, month shared.Month) (*Sheet, error)
	ListSheets(ctx context.Context, associationID int64) ([]Sheet, error)
	CurrentSheets(ctx context.Context, associationID int64) ([]Sheet, error)
	LatestPublished(ctx context.Context, associationID int64) (*Sheet, error)

	CreateExpense(ctx context.Context, rec *expense.Record) (*expense.Record, error)
	UpdateExpense(ctx context.Context, rec *expense.Record) error
	DeleteExpense(ctx context.Context, sheetID, expenseID int64) error
	GetExpense(ctx context.Context, sheetID, expenseID int64) (*expense.Record, error)
	ListExpenses(ctx context.Context, sheetID int64) ([]expense.Record, error)

	InsertAdjustment(ctx context.Context, adj *BalanceAdjustment) error
	ListAdjustments(ctx context.Context, sheetID int64) ([]BalanceAdjustment, error)

	Approve(ctx context.Context, sheetID int64, by string, at time.Time) error

	Publish(ctx context.Context, set PublishSet) error
	Unpublish(ctx context.Context, sheetID int64, dropSheetID int64) error
	ListDues(ctx context.Context, sheetID int64) ([]ApartmentDue, error)
}

// RosterSource supplies the ordered apartment roster.
type RosterSource interface {
	ListRoster(ctx context.Context, associationID int64) ([]structure.RosterEntry, error)
}

// ReceiptSource supplies recorded payments for reconciliation.
type ReceiptSource interface {
	ListByMonth(ctx context.Context, associationID int64, month shared.Month) ([]receipt.Receipt, error)
}

// Service drives the sheet lifecycle.
type Service struct {
	repo     RepositoryPort
	roster   RosterSource
	receipts ReceiptSource
	locker   *shared.Locker
	audit    shared.Recorder
	logger   *slog.Logger

	penalty  policy.PenaltyFunc
	approval policy.ApprovalGate
	now      func() time.Time
}

// NewService builds Service instance. Penalty and approval default to the
// no-op policies when nil.
func NewService(repo RepositoryPort, roster RosterSource, receipts ReceiptSource, locker *shared.Locker, audit shared.Recorder, logger *slog.Logger, penalty policy.PenaltyFunc, approval policy.ApprovalGate) *Service {
	if penalty == nil {
		penalty = policy.NoPenalty
	}
	if approval == nil {
		approval = policy.OpenGate
	}
	return &Service{
		repo:     repo,
		roster:   roster,
		receipts: receipts,
		locker:   locker,
		audit:    audit,
		logger:   logger,
		penalty:  penalty,
		approval: approval,
		now:      time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateSheet opens the association's first sheet. Later months are
// created automatically when the previous one is published.
func (s *Service) CreateSheet(ctx context.Context, associationID int64, month string) (*Sheet, error) {
	m, err := shared.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	if existing, err := s.repo.GetSheetByMonth(ctx, associationID, m); err == nil && existing != nil {
		return nil, ErrSheetExists
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	now := s.now()
	sh := &Sheet{
		AssociationID: associationID,
		Month:         m,
		Status:        StatusInProgress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return s.repo.CreateSheet(ctx, sh)
}

// GetSheet loads one sheet.
func (s *Service) GetSheet(ctx context.Context, id int64) (*Sheet, error) {
	return s.repo.GetSheet(ctx, id)
}

// ListSheets returns the association's sheets, newest month first.
func (s *Service) ListSheets(ctx context.Context, associationID int64) ([]Sheet, error) {
	return s.repo.ListSheets(ctx, associationID)
}

// CurrentSheets returns the working set: the in_progress sheet being
// prepared and the published sheet collecting payments.
func (s *Service) CurrentSheets(ctx context.Context, associationID int64) ([]Sheet, error) {
	return s.repo.CurrentSheets(ctx, associationID)
}

// AddExpense attaches an expense to an in_progress sheet.
func (s *Service) AddExpense(ctx context.Context, sheetID int64, in ExpenseInput) (*expense.Record, error) {
	if _, err := s.editableSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	rec, err := buildExpense(sheetID, in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return s.repo.CreateExpense(ctx, rec)
}

// UpdateExpense replaces an expense's configuration, keeping entered
// readings and amounts that still apply.
func (s *Service) UpdateExpense(ctx context.Context, sheetID, expenseID int64, in ExpenseInput) (*expense.Record, error) {
	if _, err := s.editableSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	current, err := s.repo.GetExpense(ctx, sheetID, expenseID)
	if err != nil {
		return nil, err
	}
	next, err := buildExpense(sheetID, in)
	if err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()
	if next.Rule == current.Rule {
		next.Consumption = current.Consumption
		next.IndividualAmounts = current.IndividualAmounts
		next.PriorIndex = current.PriorIndex
		next.CurrentIndex = current.CurrentIndex
	}
	if err := s.repo.UpdateExpense(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// DeleteExpense removes an expense from an in_progress sheet.
func (s *Service) DeleteExpense(ctx context.Context, sheetID, expenseID int64) error {
	if _, err := s.editableSheet(ctx, sheetID); err != nil {
		return err
	}
	return s.repo.DeleteExpense(ctx, sheetID, expenseID)
}

// ListExpenses returns a sheet's expenses.
func (s *Service) ListExpenses(ctx context.Context, sheetID int64) ([]expense.Record, error) {
	return s.repo.ListExpenses(ctx, sheetID)
}

// SetConsumption enters a consumed quantity directly.
func (s *Service) SetConsumption(ctx context.Context, sheetID, expenseID, apartmentID int64, quantity decimal.Decimal) (*expense.Record, error) {
	return s.mutateExpense(ctx, sheetID, expenseID, func(rec *expense.Record) error {
		if rec.Rule != expense.RulePerConsumption {
			return expense.ErrMalformed
		}
		if quantity.IsNegative() {
			return expense.ErrMalformed
		}
		if rec.Consumption == nil {
			rec.Consumption = make(map[int64]decimal.Decimal)
		}
		rec.Consumption[apartmentID] = quantity
		return nil
	})
}

// RecordMeterIndex enters a meter position; consumption is derived against
// the carried-over prior index and the position rolls into next month.
func (s *Service) RecordMeterIndex(ctx context.Context, sheetID, expenseID, apartmentID int64, newIndex decimal.Decimal) (*expense.Record, error) {
	return s.mutateExpense(ctx, sheetID, expenseID, func(rec *expense.Record) error {
		return rec.ApplyReading(apartmentID, newIndex)
	})
}

// SetIndividualAmount enters one apartment's amount on an
// individual_amounts expense.
func (s *Service) SetIndividualAmount(ctx context.Context, sheetID, expenseID, apartmentID int64, amount decimal.Decimal) (*expense.Record, error) {
	return s.mutateExpense(ctx, sheetID, expenseID, func(rec *expense.Record) error {
		if rec.Rule != expense.RuleIndividual {
			return expense.ErrMalformed
		}
		if amount.IsNegative() {
			return expense.ErrMalformed
		}
		if rec.IndividualAmounts == nil {
			rec.IndividualAmounts = make(map[int64]decimal.Decimal)
		}
		rec.IndividualAmounts[apartmentID] = amount
		return nil
	})
}

// AdjustBalances records an audited opening-balance correction on an
// in_progress sheet.
func (s *Service) AdjustBalances(ctx context.Context, sheetID int64, in AdjustInput) (*BalanceAdjustment, error) {
	if _, err := s.editableSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	actor := shared.ActorFromContext(ctx)
	adj := &BalanceAdjustment{
		ID:              uuid.New(),
		SheetID:         sheetID,
		ApartmentID:     in.ApartmentID,
		RestanteDelta:   in.RestanteDelta,
		PenalitatiDelta: in.PenalitatiDelta,
		Reason:          in.Reason,
		AdjustedBy:      actor.ID,
		AdjustedAt:      s.now(),
	}
	if err := s.repo.InsertAdjustment(ctx, adj); err != nil {
		return nil, err
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "sheet.adjust_balances",
		Entity:   "sheet",
		EntityID: adj.ID.String(),
		Meta: map[string]any{
			"sheet_id":         sheetID,
			"apartment_id":     in.ApartmentID,
			"restante_delta":   in.RestanteDelta.String(),
			"penalitati_delta": in.PenalitatiDelta.String(),
			"reason":           in.Reason,
		},
		At: adj.AdjustedAt,
	})
	return adj, nil
}

// Approve stamps the publish sign-off on an in_progress sheet. Only
// consulted when the deployment runs with an approval gate.
func (s *Service) Approve(ctx context.Context, sheetID int64) (*Sheet, error) {
	sh, err := s.editableSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	actor := shared.ActorFromContext(ctx)
	now := s.now()
	if err := s.repo.Approve(ctx, sheetID, actor.ID, now); err != nil {
		return nil, err
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "sheet.approve",
		Entity:   "sheet",
		EntityID: strconv.FormatInt(sheetID, 10),
		Meta:     map[string]any{"month": sh.Month.String()},
		At:       now,
	})
	return s.repo.GetSheet(ctx, sheetID)
}

// CheckPublishable verifies every expense has the entries it needs. The
// returned IncompleteError lists each missing reading or amount.
func (s *Service) CheckPublishable(ctx context.Context, sheetID int64) error {
	sh, err := s.repo.GetSheet(ctx, sheetID)
	if err != nil {
		return err
	}
	if sh.Status != StatusInProgress {
		return ErrIllegalTransition
	}
	expenses, err := s.repo.ListExpenses(ctx, sheetID)
	if err != nil {
		return err
	}
	roster, err := s.roster.ListRoster(ctx, sh.AssociationID)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(roster))
	for _, e := range roster {
		ids = append(ids, e.ID)
	}
	var missing []expense.MissingEntry
	for i := range expenses {
		if err := expenses[i].Validate(); err != nil {
			return err
		}
		missing = append(missing, expenses[i].MissingEntries(ids)...)
	}
	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	return nil
}

// Preview computes the maintenance table as it would freeze right now,
// without publishing. in_progress only.
func (s *Service) Preview(ctx context.Context, sheetID int64) ([]ApartmentDue, error) {
	sh, err := s.repo.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if sh.Status != StatusInProgress {
		return nil, ErrSheetLocked
	}
	dues, _, err := s.buildMaintenanceTable(ctx, sh)
	return dues, err
}

// Publish freezes the maintenance table and moves the sheet to published.
// In the same transaction the previously published sheet is archived and
// the next month's in_progress sheet is created, seeded with the frozen
// debts as carry-forward and with the expense configuration rolled over.
// A downstream sheet that already exists (kept through an unpublish) is
// adopted and re-seeded instead of created.
func (s *Service) Publish(ctx context.Context, sheetID int64) (*Sheet, error) {
	sh, err := s.repo.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if sh.Status != StatusInProgress {
		return nil, ErrIllegalTransition
	}

	lockKey := shared.PublishLockKey(sh.AssociationID)
	if err := s.locker.Acquire(ctx, lockKey); err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, ErrSheetLocked
		}
		return nil, err
	}
	defer s.locker.Release(ctx, lockKey)

	if err := s.approval(ctx, sh.AssociationID, sh.Month.String()); err != nil {
		return nil, err
	}
	if err := s.CheckPublishable(ctx, sheetID); err != nil {
		return nil, err
	}

	dues, prev, err := s.buildMaintenanceTable(ctx, sh)
	if err != nil {
		return nil, err
	}

	expenses, err := s.repo.ListExpenses(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	nextMonth := sh.Month.Next()
	var next *Sheet
	var reseedID int64
	existing, err := s.repo.GetSheetByMonth(ctx, sh.AssociationID, nextMonth)
	switch {
	case err == nil:
		// The downstream sheet survived an earlier unpublish. Adopt it
		// and replace its expense set with a fresh roll-over instead of
		// inserting a duplicate month.
		if existing.Status != StatusInProgress {
			return nil, ErrIllegalTransition
		}
		reseedID = existing.ID
	case errors.Is(err, shared.ErrNotFound):
		next = &Sheet{
			AssociationID: sh.AssociationID,
			Month:         nextMonth,
			Status:        StatusInProgress,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	default:
		return nil, err
	}
	nextExpenses := make([]expense.Record, 0, len(expenses))
	for i := range expenses {
		n := expenses[i].NextCycle()
		n.CreatedAt = now
		n.UpdatedAt = now
		nextExpenses = append(nextExpenses, n)
	}

	actor := shared.ActorFromContext(ctx)
	set := PublishSet{
		SheetID:       sheetID,
		PublishedAt:   now,
		PublishedBy:   actor.ID,
		Dues:          dues,
		Next:          next,
		ReseedSheetID: reseedID,
		NextExpenses:  nextExpenses,
	}
	if prev != nil {
		set.ArchiveSheetID = prev.ID
	}
	if err := s.repo.Publish(ctx, set); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "sheet.publish",
		Entity:   "sheet",
		EntityID: strconv.FormatInt(sheetID, 10),
		Meta: map[string]any{
			"month":      sh.Month.String(),
			"apartments": len(dues),
		},
		At: now,
	})
	s.logger.Info("sheet published",
		"association_id", sh.AssociationID, "month", sh.Month.String(), "apartments", len(dues))
	return s.repo.GetSheet(ctx, sheetID)
}

// Unpublish is the privileged correction path: published back to
// in_progress. Refused once receipts exist for the month. The downstream
// auto-created sheet is dropped when still empty.
func (s *Service) Unpublish(ctx context.Context, sheetID int64) (*Sheet, error) {
	sh, err := s.repo.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if sh.Status != StatusPublished {
		return nil, ErrIllegalTransition
	}
	receipts, err := s.receipts.ListByMonth(ctx, sh.AssociationID, sh.Month)
	if err != nil {
		return nil, err
	}
	for i := range receipts {
		if !receipts[i].Voided() {
			return nil, ErrHasPayments
		}
	}

	var dropID int64
	if next, err := s.repo.GetSheetByMonth(ctx, sh.AssociationID, sh.Month.Next()); err == nil {
		empty, err := s.sheetIsEmpty(ctx, next)
		if err != nil {
			return nil, err
		}
		if empty {
			dropID = next.ID
		}
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	if err := s.repo.Unpublish(ctx, sheetID, dropID); err != nil {
		return nil, err
	}
	actor := shared.ActorFromContext(ctx)
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "sheet.unpublish",
		Entity:   "sheet",
		EntityID: strconv.FormatInt(sheetID, 10),
		Meta:     map[string]any{"month": sh.Month.String(), "dropped_sheet_id": dropID},
		At:       s.now(),
	})
	return s.repo.GetSheet(ctx, sheetID)
}

// MaintenanceTable returns the frozen dues of a published or archived
// sheet joined with the reconciled remaining debt per apartment.
func (s *Service) MaintenanceTable(ctx context.Context, sheetID int64) ([]ReconciledRow, error) {
	sh, err := s.repo.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if sh.Status == StatusInProgress {
		return nil, ErrSheetLocked
	}
	dues, err := s.repo.ListDues(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	receipts, err := s.receipts.ListByMonth(ctx, sh.AssociationID, sh.Month)
	if err != nil {
		return nil, err
	}
	payments := receipt.PaymentsByApartment(receipts)

	rows := make([]ReconciledRow, 0, len(dues))
	for _, d := range dues {
		rows = append(rows, ReconciledRow{
			ApartmentDue: d,
			Remaining:    reconcile.Reconcile(d.Baseline(), payments[d.ApartmentID]),
		})
	}
	return rows, nil
}

// Stats summarises collection state off the reconciled view.
func (s *Service) Stats(ctx context.Context, sheetID int64) (*Stats, error) {
	rows, err := s.MaintenanceTable(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Apartments:     len(rows),
		TotalDue:       decimal.Zero,
		TotalCollected: decimal.Zero,
		TotalRemaining: decimal.Zero,
	}
	for _, row := range rows {
		st.TotalDue = st.TotalDue.Add(row.TotalDatorat)
		st.TotalCollected = st.TotalCollected.Add(row.Remaining.TotalPaid)
		st.TotalRemaining = st.TotalRemaining.Add(row.Remaining.Total)
		switch {
		case row.Remaining.IsPaid:
			st.Paid++
		case row.Remaining.IsPartiallyPaid:
			st.PartiallyPaid++
		default:
			st.Unpaid++
		}
	}
	if st.TotalDue.IsPositive() {
		st.CollectionPercent = st.TotalDue.Sub(st.TotalRemaining).
			Div(st.TotalDue).Mul(decimal.NewFromInt(100)).Round(2)
	} else {
		st.CollectionPercent = decimal.NewFromInt(100)
	}
	return st, nil
}

// buildMaintenanceTable computes the rows to freeze: opening balances
// carried forward from the previously published sheet's reconciled
// remainders (or apartment initial balances for a first sheet), plus the
// distributed current maintenance. Returns the predecessor so the caller
// can archive it.
func (s *Service) buildMaintenanceTable(ctx context.Context, sh *Sheet) ([]ApartmentDue, *Sheet, error) {
	roster, err := s.roster.ListRoster(ctx, sh.AssociationID)
	if err != nil {
		return nil, nil, err
	}
	expenses, err := s.repo.ListExpenses(ctx, sh.ID)
	if err != nil {
		return nil, nil, err
	}
	participants := make([]distribution.Participant, 0, len(roster))
	for _, e := range roster {
		participants = append(participants, distribution.Participant{
			ApartmentID: e.ID,
			Number:      e.Number,
			Persons:     e.Persons,
		})
	}
	dist, err := distribution.Distribute(expenses, participants)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range dist.Anomalies {
		s.logger.Warn("distribution anomaly", "sheet_id", sh.ID, "detail", a)
	}

	opening, prev, err := s.openingBalances(ctx, sh, roster)
	if err != nil {
		return nil, nil, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, sh.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, adj := range adjustments {
		o := opening[adj.ApartmentID]
		o.restante = o.restante.Add(adj.RestanteDelta)
		o.penalitati = o.penalitati.Add(adj.PenalitatiDelta)
		opening[adj.ApartmentID] = o
	}

	dues := make([]ApartmentDue, 0, len(roster))
	for _, e := range roster {
		o := opening[e.ID]
		due := ApartmentDue{
			SheetID:            sh.ID,
			ApartmentID:        e.ID,
			Owner:              e.Owner,
			BlockName:          e.BlockName,
			StairName:          e.StairName,
			Number:             e.Number,
			Persons:            e.Persons,
			Position:           len(dues),
			Restante:           clampZero(o.restante),
			CurrentMaintenance: dist.Totals[e.ID],
			Penalitati:         clampZero(o.penalitati),
			Breakdown:          dist.Shares[e.ID],
		}
		due.TotalDatorat = due.Restante.Add(due.CurrentMaintenance).Add(due.Penalitati)
		dues = append(dues, due)
	}
	return dues, prev, nil
}

type balances struct {
	restante   decimal.Decimal
	penalitati decimal.Decimal
}

// openingBalances carries debt forward. With a published predecessor, each
// apartment's remaining restante plus remaining current maintenance rolls
// into restante, and remaining penalties plus the penalty policy delta
// into penalitati. A first sheet seeds from the apartment initial
// balances.
func (s *Service) openingBalances(ctx context.Context, sh *Sheet, roster []structure.RosterEntry) (map[int64]balances, *Sheet, error) {
	out := make(map[int64]balances, len(roster))

	prev, err := s.repo.LatestPublished(ctx, sh.AssociationID)
	if errors.Is(err, shared.ErrNotFound) {
		for _, e := range roster {
			out[e.ID] = balances{restante: e.InitialRestante, penalitati: e.InitialPenalitati}
		}
		return out, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if !prev.Month.Before(sh.Month) {
		return nil, nil, ErrIllegalTransition
	}

	dues, err := s.repo.ListDues(ctx, prev.ID)
	if err != nil {
		return nil, nil, err
	}
	receipts, err := s.receipts.ListByMonth(ctx, sh.AssociationID, prev.Month)
	if err != nil {
		return nil, nil, err
	}
	payments := receipt.PaymentsByApartment(receipts)

	dueSince := prev.Month.Next().Time()
	if prev.PublishedAt != nil {
		dueSince = *prev.PublishedAt
	}
	now := s.now()
	for _, d := range dues {
		rem := reconcile.Reconcile(d.Baseline(), payments[d.ApartmentID])
		unpaidPrincipal := rem.Restante.Add(rem.Intretinere)
		out[d.ApartmentID] = balances{
			restante:   unpaidPrincipal,
			penalitati: rem.Penalitati.Add(s.penalty(unpaidPrincipal, dueSince, now)),
		}
	}
	// Apartments added since the last publish start from their initial
	// balances.
	for _, e := range roster {
		if _, ok := out[e.ID]; !ok {
			out[e.ID] = balances{restante: e.InitialRestante, penalitati: e.InitialPenalitati}
		}
	}
	return out, prev, nil
}

func (s *Service) editableSheet(ctx context.Context, sheetID int64) (*Sheet, error) {
	sh, err := s.repo.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if !sh.Editable() {
		return nil, ErrSheetLocked
	}
	return sh, nil
}

func (s *Service) mutateExpense(ctx context.Context, sheetID, expenseID int64, fn func(*expense.Record) error) (*expense.Record, error) {
	if _, err := s.editableSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	rec, err := s.repo.GetExpense(ctx, sheetID, expenseID)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now()
	if err := s.repo.UpdateExpense(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) sheetIsEmpty(ctx context.Context, sh *Sheet) (bool, error) {
	expenses, err := s.repo.ListExpenses(ctx, sh.ID)
	if err != nil {
		return false, err
	}
	if len(expenses) > 0 {
		return false, nil
	}
	adjustments, err := s.repo.ListAdjustments(ctx, sh.ID)
	if err != nil {
		return false, err
	}
	return len(adjustments) == 0, nil
}

func buildExpense(sheetID int64, in ExpenseInput) (*expense.Record, error) {
	rule, err := expense.ParseAllocationRule(in.Rule)
	if err != nil {
		return nil, err
	}
	rec := &expense.Record{
		SheetID:     sheetID,
		Name:        in.Name,
		Rule:        rule,
		TotalAmount: in.TotalAmount,
		UnitPrice:   in.UnitPrice,
	}
	if len(in.Excluded) > 0 {
		rec.Excluded = make(map[int64]bool, len(in.Excluded))
		for _, id := range in.Excluded {
			rec.Excluded[id] = true
		}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
