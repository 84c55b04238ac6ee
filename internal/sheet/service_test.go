package sheet

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/blocadmin/blocadmin/internal/expense"
	"github.com/blocadmin/blocadmin/internal/policy"
	"github.com/blocadmin/blocadmin/internal/receipt"
	"github.com/blocadmin/blocadmin/internal/shared"
	"github.com/blocadmin/blocadmin/internal/structure"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

type memorySheetRepo struct {
	mu          sync.Mutex
	nextID      int64
	sheets      map[int64]*Sheet
	expenses    map[int64]*expense.Record
	adjustments map[int64][]BalanceAdjustment
	dues        map[int64][]ApartmentDue
}

func newMemorySheetRepo() *memorySheetRepo {
	return &memorySheetRepo{
		sheets:      make(map[int64]*Sheet),
		expenses:    make(map[int64]*expense.Record),
		adjustments: make(map[int64][]BalanceAdjustment),
		dues:        make(map[int64][]ApartmentDue),
	}
}

func (m *memorySheetRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memorySheetRepo) CreateSheet(_ context.Context, s *Sheet) (*Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sheets {
		if existing.AssociationID == s.AssociationID && existing.Month == s.Month {
			return nil, ErrSheetExists
		}
	}
	s.ID = m.id()
	cp := *s
	m.sheets[s.ID] = &cp
	return s, nil
}

func (m *memorySheetRepo) GetSheet(_ context.Context, id int64) (*Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memorySheetRepo) GetSheetByMonth(_ context.Context, associationID int64, month shared.Month) (*Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sheets {
		if s.AssociationID == associationID && s.Month == month {
			cp := *s
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memorySheetRepo) ListSheets(_ context.Context, associationID int64) ([]Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sheet
	for _, s := range m.sheets {
		if s.AssociationID == associationID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memorySheetRepo) CurrentSheets(_ context.Context, associationID int64) ([]Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sheet
	for _, s := range m.sheets {
		if s.AssociationID == associationID && (s.Status == StatusInProgress || s.Status == StatusPublished) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memorySheetRepo) LatestPublished(_ context.Context, associationID int64) (*Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Sheet
	for _, s := range m.sheets {
		if s.AssociationID == associationID && s.Status == StatusPublished {
			if latest == nil || latest.Month.Before(s.Month) {
				latest = s
			}
		}
	}
	if latest == nil {
		return nil, shared.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memorySheetRepo) CreateExpense(_ context.Context, rec *expense.Record) (*expense.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	cp := *rec
	m.expenses[rec.ID] = &cp
	return rec, nil
}

func (m *memorySheetRepo) UpdateExpense(_ context.Context, rec *expense.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.expenses[rec.ID]; !ok || existing.SheetID != rec.SheetID {
		return shared.ErrNotFound
	}
	cp := *rec
	m.expenses[rec.ID] = &cp
	return nil
}

func (m *memorySheetRepo) DeleteExpense(_ context.Context, sheetID, expenseID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.expenses[expenseID]; !ok || existing.SheetID != sheetID {
		return shared.ErrNotFound
	}
	delete(m.expenses, expenseID)
	return nil
}

func (m *memorySheetRepo) GetExpense(_ context.Context, sheetID, expenseID int64) (*expense.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.expenses[expenseID]
	if !ok || rec.SheetID != sheetID {
		return nil, shared.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memorySheetRepo) ListExpenses(_ context.Context, sheetID int64) ([]expense.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []expense.Record
	for _, rec := range m.expenses {
		if rec.SheetID == sheetID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memorySheetRepo) InsertAdjustment(_ context.Context, adj *BalanceAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments[adj.SheetID] = append(m.adjustments[adj.SheetID], *adj)
	return nil
}

func (m *memorySheetRepo) ListAdjustments(_ context.Context, sheetID int64) ([]BalanceAdjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BalanceAdjustment(nil), m.adjustments[sheetID]...), nil
}

func (m *memorySheetRepo) Approve(_ context.Context, sheetID int64, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[sheetID]
	if !ok || s.Status != StatusInProgress {
		return shared.ErrNotFound
	}
	stamp := at
	s.ApprovedAt = &stamp
	s.ApprovedBy = by
	return nil
}

func (m *memorySheetRepo) Publish(_ context.Context, set PublishSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[set.SheetID]
	if !ok {
		return shared.ErrNotFound
	}
	if s.Status != StatusInProgress {
		return ErrIllegalTransition
	}
	s.Status = StatusPublished
	at := set.PublishedAt
	s.PublishedAt = &at
	s.PublishedBy = set.PublishedBy
	m.dues[set.SheetID] = append([]ApartmentDue(nil), set.Dues...)
	if set.ArchiveSheetID != 0 {
		if prev, ok := m.sheets[set.ArchiveSheetID]; ok && prev.Status == StatusPublished {
			prev.Status = StatusArchived
		}
	}
	switch {
	case set.ReseedSheetID != 0:
		next, ok := m.sheets[set.ReseedSheetID]
		if !ok || next.Status != StatusInProgress {
			return ErrIllegalTransition
		}
		for id, rec := range m.expenses {
			if rec.SheetID == set.ReseedSheetID {
				delete(m.expenses, id)
			}
		}
		for i := range set.NextExpenses {
			rec := set.NextExpenses[i]
			rec.ID = m.id()
			rec.SheetID = set.ReseedSheetID
			m.expenses[rec.ID] = &rec
		}
	case set.Next != nil:
		for _, sh := range m.sheets {
			if sh.AssociationID == set.Next.AssociationID && sh.Month == set.Next.Month {
				return ErrSheetExists
			}
		}
		set.Next.ID = m.id()
		cp := *set.Next
		m.sheets[cp.ID] = &cp
		for i := range set.NextExpenses {
			rec := set.NextExpenses[i]
			rec.ID = m.id()
			rec.SheetID = cp.ID
			m.expenses[rec.ID] = &rec
		}
	}
	return nil
}

func (m *memorySheetRepo) Unpublish(_ context.Context, sheetID int64, dropSheetID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[sheetID]
	if !ok {
		return shared.ErrNotFound
	}
	if s.Status != StatusPublished {
		return ErrIllegalTransition
	}
	s.Status = StatusInProgress
	s.ApprovedAt = nil
	s.ApprovedBy = ""
	s.PublishedAt = nil
	s.PublishedBy = ""
	delete(m.dues, sheetID)
	if dropSheetID != 0 {
		for id, rec := range m.expenses {
			if rec.SheetID == dropSheetID {
				delete(m.expenses, id)
			}
		}
		delete(m.sheets, dropSheetID)
	}
	return nil
}

func (m *memorySheetRepo) ListDues(_ context.Context, sheetID int64) ([]ApartmentDue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ApartmentDue(nil), m.dues[sheetID]...), nil
}

type stubRoster struct {
	entries []structure.RosterEntry
}

func (s *stubRoster) ListRoster(context.Context, int64) ([]structure.RosterEntry, error) {
	return s.entries, nil
}

type stubReceipts struct {
	mu       sync.Mutex
	receipts []receipt.Receipt
}

func (s *stubReceipts) ListByMonth(_ context.Context, associationID int64, month shared.Month) ([]receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []receipt.Receipt
	for _, r := range s.receipts {
		if r.AssociationID == associationID && r.Month == month {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubReceipts) add(apartmentID int64, month shared.Month, restante, intretinere, penalitati string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, receipt.Receipt{
		AssociationID: 1,
		ApartmentID:   apartmentID,
		Month:         month,
		Restante:      dec(restante),
		Intretinere:   dec(intretinere),
		Penalitati:    dec(penalitati),
	})
}

type memoryRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (m *memoryRecorder) Record(_ context.Context, log shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func testRoster() *stubRoster {
	return &stubRoster{entries: []structure.RosterEntry{
		{Apartment: structure.Apartment{ID: 10, Number: 1, Owner: "Ionescu", Persons: 2, InitialRestante: dec("50"), InitialPenalitati: dec("10")}, BlockName: "B1", StairName: "Scara A"},
		{Apartment: structure.Apartment{ID: 11, Number: 2, Owner: "Popescu", Persons: 3}, BlockName: "B1", StairName: "Scara A"},
		{Apartment: structure.Apartment{ID: 12, Number: 3, Owner: "Georgescu", Persons: 1}, BlockName: "B1", StairName: "Scara B"},
	}}
}

type fixture struct {
	svc      *Service
	repo     *memorySheetRepo
	receipts *stubReceipts
	audit    *memoryRecorder
}

func newFixture(t *testing.T, penalty policy.PenaltyFunc) *fixture {
	t.Helper()
	repo := newMemorySheetRepo()
	receipts := &stubReceipts{}
	audit := &memoryRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, testRoster(), receipts, nil, audit, logger, penalty, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) })
	return &fixture{svc: svc, repo: repo, receipts: receipts, audit: audit}
}

func actorCtx() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: "administrator"})
}

func mustSheet(t *testing.T, f *fixture, month string) *Sheet {
	t.Helper()
	sh, err := f.svc.CreateSheet(actorCtx(), 1, month)
	require.NoError(t, err)
	return sh
}

func addTotalExpense(t *testing.T, f *fixture, sheetID int64, name, rule, total string) *expense.Record {
	t.Helper()
	rec, err := f.svc.AddExpense(actorCtx(), sheetID, ExpenseInput{Name: name, Rule: rule, TotalAmount: dec(total)})
	require.NoError(t, err)
	return rec
}

func TestCreateSheetRejectsDuplicateMonth(t *testing.T) {
	f := newFixture(t, nil)
	mustSheet(t, f, "2026-03")

	_, err := f.svc.CreateSheet(actorCtx(), 1, "2026-03")
	require.ErrorIs(t, err, ErrSheetExists)

	_, err = f.svc.CreateSheet(actorCtx(), 1, "march")
	require.ErrorIs(t, err, shared.ErrInvalidMonth)
}

func TestEditsRejectedAfterPublish(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, sh.ID, "Curatenie", "per_apartment", "300")

	_, err := f.svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)

	_, err = f.svc.AddExpense(actorCtx(), sh.ID, ExpenseInput{Name: "Gunoi", Rule: "per_person", TotalAmount: dec("90")})
	require.ErrorIs(t, err, ErrSheetLocked)

	_, err = f.svc.AdjustBalances(actorCtx(), sh.ID, AdjustInput{ApartmentID: 10, RestanteDelta: dec("5"), Reason: "late invoice"})
	require.ErrorIs(t, err, ErrSheetLocked)
}

func TestPublishRejectsMissingReading(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	water, err := f.svc.AddExpense(actorCtx(), sh.ID, ExpenseInput{Name: "Apa rece", Rule: "per_consumption", UnitPrice: dec("9.50")})
	require.NoError(t, err)

	_, err = f.svc.SetConsumption(actorCtx(), sh.ID, water.ID, 10, dec("3"))
	require.NoError(t, err)
	_, err = f.svc.SetConsumption(actorCtx(), sh.ID, water.ID, 11, dec("4.5"))
	require.NoError(t, err)
	// Apartment 12 never read.

	_, err = f.svc.Publish(actorCtx(), sh.ID)
	require.ErrorIs(t, err, ErrIncompleteDistribution)
	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	require.Len(t, incomplete.Missing, 1)
	require.Equal(t, int64(12), incomplete.Missing[0].ApartmentID)
	require.Equal(t, "reading", incomplete.Missing[0].Kind)

	got, err := f.svc.GetSheet(actorCtx(), sh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)
}

func TestPublishFreezesTableAndSeedsNextMonth(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, sh.ID, "Curatenie", "per_apartment", "300")

	published, err := f.svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
	require.Equal(t, "administrator", published.PublishedBy)

	rows, err := f.svc.MaintenanceTable(actorCtx(), sh.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Rows freeze with their roster position stamped in.
	for i, row := range rows {
		require.Equal(t, i, row.Position)
	}

	byApt := make(map[int64]ReconciledRow)
	for _, row := range rows {
		byApt[row.ApartmentID] = row
	}
	// Opening balances come from the apartment initial balances.
	require.True(t, byApt[10].Restante.Equal(dec("50")))
	require.True(t, byApt[10].Penalitati.Equal(dec("10")))
	require.True(t, byApt[10].CurrentMaintenance.Equal(dec("100")))
	require.True(t, byApt[10].TotalDatorat.Equal(dec("160")))
	require.True(t, byApt[11].Restante.IsZero())
	require.True(t, byApt[11].TotalDatorat.Equal(dec("100")))

	// Next month's sheet exists, in progress, with the expense rolled
	// over with a cleared amount.
	next, err := f.repo.GetSheetByMonth(actorCtx(), 1, shared.Month("2026-04"))
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, next.Status)
	nextExpenses, err := f.svc.ListExpenses(actorCtx(), next.ID)
	require.NoError(t, err)
	require.Len(t, nextExpenses, 1)
	require.Equal(t, "Curatenie", nextExpenses[0].Name)
	require.True(t, nextExpenses[0].TotalAmount.IsZero())
}

func TestCarryForwardUsesReconciledRemainders(t *testing.T) {
	penalty := policy.NewPercentagePolicy(0.01, 0)
	f := newFixture(t, penalty.Delta)

	march := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, march.ID, "Curatenie", "per_apartment", "300")
	_, err := f.svc.Publish(actorCtx(), march.ID)
	require.NoError(t, err)

	// Apartment 10 owed {50, 100, 10}; pays restante and part of the
	// maintenance. Apartment 11 pays in full. Apartment 12 pays nothing.
	f.receipts.add(10, "2026-03", "50", "60", "0")
	f.receipts.add(11, "2026-03", "0", "100", "0")

	april, err := f.repo.GetSheetByMonth(actorCtx(), 1, shared.Month("2026-04"))
	require.NoError(t, err)
	aprilExpenses, err := f.svc.ListExpenses(actorCtx(), april.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateExpense(actorCtx(), april.ID, aprilExpenses[0].ID, ExpenseInput{Name: "Curatenie", Rule: "per_apartment", TotalAmount: dec("330")})
	require.NoError(t, err)

	_, err = f.svc.Publish(actorCtx(), april.ID)
	require.NoError(t, err)

	rows, err := f.svc.MaintenanceTable(actorCtx(), april.ID)
	require.NoError(t, err)
	byApt := make(map[int64]ReconciledRow)
	for _, row := range rows {
		byApt[row.ApartmentID] = row
	}

	// Apartment 10: remaining restante 0 + remaining maintenance 40 roll
	// into restante; penalties 10 + 1% of unpaid 40.
	require.True(t, byApt[10].Restante.Equal(dec("40")), "got %s", byApt[10].Restante)
	require.True(t, byApt[10].Penalitati.Equal(dec("10.40")), "got %s", byApt[10].Penalitati)
	require.True(t, byApt[10].CurrentMaintenance.Equal(dec("110")))

	// Apartment 11 settled March completely.
	require.True(t, byApt[11].Restante.IsZero())
	require.True(t, byApt[11].Penalitati.IsZero())

	// Apartment 12 paid nothing: full 100 rolls over plus 1% penalty.
	require.True(t, byApt[12].Restante.Equal(dec("100")))
	require.True(t, byApt[12].Penalitati.Equal(dec("1")), "got %s", byApt[12].Penalitati)

	// March is archived now.
	archived, err := f.svc.GetSheet(actorCtx(), march.ID)
	require.NoError(t, err)
	require.Equal(t, StatusArchived, archived.Status)
}

func TestAdjustBalancesAppliesDeltaAtPublish(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, sh.ID, "Curatenie", "per_apartment", "300")

	adj, err := f.svc.AdjustBalances(actorCtx(), sh.ID, AdjustInput{
		ApartmentID:   10,
		RestanteDelta: dec("-20"),
		Reason:        "paid cash last month, not recorded",
	})
	require.NoError(t, err)
	require.Equal(t, "administrator", adj.AdjustedBy)
	require.NotEmpty(t, f.audit.logs)

	_, err = f.svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)

	rows, err := f.svc.MaintenanceTable(actorCtx(), sh.ID)
	require.NoError(t, err)
	for _, row := range rows {
		if row.ApartmentID == 10 {
			require.True(t, row.Restante.Equal(dec("30")), "got %s", row.Restante)
		}
	}
}

func TestUnpublishDropsEmptyDownstreamSheet(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, sh.ID, "Curatenie", "per_apartment", "300")
	_, err := f.svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)

	// The auto-created April sheet only carries the rolled-over expense
	// configuration; drop it on unpublish.
	april, err := f.repo.GetSheetByMonth(actorCtx(), 1, shared.Month("2026-04"))
	require.NoError(t, err)
	aprilExpenses, err := f.svc.ListExpenses(actorCtx(), april.ID)
	require.NoError(t, err)
	for _, rec := range aprilExpenses {
		require.NoError(t, f.svc.DeleteExpense(actorCtx(), april.ID, rec.ID))
	}

	got, err := f.svc.Unpublish(actorCtx(), sh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)
	require.Nil(t, got.PublishedAt)

	_, err = f.repo.GetSheetByMonth(actorCtx(), 1, shared.Month("2026-04"))
	require.ErrorIs(t, err, shared.ErrNotFound)

	dues, err := f.repo.ListDues(actorCtx(), sh.ID)
	require.NoError(t, err)
	require.Empty(t, dues)
}

func TestRepublishAfterUnpublishReseedsDownstreamSheet(t *testing.T) {
	f := newFixture(t, nil)
	march := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, march.ID, "Curatenie", "per_apartment", "300")
	_, err := f.svc.Publish(actorCtx(), march.ID)
	require.NoError(t, err)

	// April carries the rolled-over expense configuration, so unpublish
	// keeps it.
	april, err := f.repo.GetSheetByMonth(actorCtx(), 1, shared.Month("2026-04"))
	require.NoError(t, err)

	got, err := f.svc.Unpublish(actorCtx(), march.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)
	kept, err := f.repo.GetSheetByMonth(actorCtx(), 1, shared.Month("2026-04"))
	require.NoError(t, err)
	require.Equal(t, april.ID, kept.ID)

	// Correct March and publish again. April is adopted, not duplicated,
	// and its expense set is rolled over fresh.
	marchExpenses, err := f.svc.ListExpenses(actorCtx(), march.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateExpense(actorCtx(), march.ID, marchExpenses[0].ID, ExpenseInput{
		Name: "Curatenie", Rule: "per_apartment", TotalAmount: dec("270"),
	})
	require.NoError(t, err)

	republished, err := f.svc.Publish(actorCtx(), march.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, republished.Status)

	sheets, err := f.repo.ListSheets(actorCtx(), 1)
	require.NoError(t, err)
	aprils := 0
	for _, sh := range sheets {
		if sh.Month == shared.Month("2026-04") {
			aprils++
		}
	}
	require.Equal(t, 1, aprils)

	adopted, err := f.repo.GetSheetByMonth(actorCtx(), 1, shared.Month("2026-04"))
	require.NoError(t, err)
	require.Equal(t, april.ID, adopted.ID)
	aprilExpenses, err := f.svc.ListExpenses(actorCtx(), adopted.ID)
	require.NoError(t, err)
	require.Len(t, aprilExpenses, 1)
	require.Equal(t, "Curatenie", aprilExpenses[0].Name)
	require.True(t, aprilExpenses[0].TotalAmount.IsZero())

	rows, err := f.svc.MaintenanceTable(actorCtx(), march.ID)
	require.NoError(t, err)
	for _, row := range rows {
		require.True(t, row.CurrentMaintenance.Equal(dec("90")), "got %s", row.CurrentMaintenance)
	}
}

func TestUnpublishRefusedOncePaid(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, sh.ID, "Curatenie", "per_apartment", "300")
	_, err := f.svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)

	f.receipts.add(10, "2026-03", "0", "50", "0")

	_, err = f.svc.Unpublish(actorCtx(), sh.ID)
	require.ErrorIs(t, err, ErrHasPayments)
}

func TestIllegalTransitions(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, sh.ID, "Curatenie", "per_apartment", "300")

	_, err := f.svc.Unpublish(actorCtx(), sh.ID)
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, err = f.svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)

	_, err = f.svc.Publish(actorCtx(), sh.ID)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestPublishBlockedWhileLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := shared.NewLocker(client, time.Minute)

	repo := newMemorySheetRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, testRoster(), &stubReceipts{}, locker, &memoryRecorder{}, logger, nil, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) })

	sh, err := svc.CreateSheet(actorCtx(), 1, "2026-03")
	require.NoError(t, err)
	_, err = svc.AddExpense(actorCtx(), sh.ID, ExpenseInput{Name: "Curatenie", Rule: "per_apartment", TotalAmount: dec("300")})
	require.NoError(t, err)

	require.NoError(t, locker.Acquire(context.Background(), shared.PublishLockKey(1)))

	_, err = svc.Publish(actorCtx(), sh.ID)
	require.ErrorIs(t, err, ErrSheetLocked)

	locker.Release(context.Background(), shared.PublishLockKey(1))
	_, err = svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)
}

func TestApprovalGateCanVeto(t *testing.T) {
	repo := newMemorySheetRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	veto := func(context.Context, int64, string) error { return ErrSheetLocked }
	svc := NewService(repo, testRoster(), &stubReceipts{}, nil, &memoryRecorder{}, logger, nil, veto)

	sh, err := svc.CreateSheet(actorCtx(), 1, "2026-03")
	require.NoError(t, err)
	_, err = svc.AddExpense(actorCtx(), sh.ID, ExpenseInput{Name: "Curatenie", Rule: "per_apartment", TotalAmount: dec("300")})
	require.NoError(t, err)

	_, err = svc.Publish(actorCtx(), sh.ID)
	require.ErrorIs(t, err, ErrSheetLocked)
}

func TestApproveUnblocksGatedPublish(t *testing.T) {
	repo := newMemorySheetRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := func(ctx context.Context, associationID int64, month string) error {
		sh, err := repo.GetSheetByMonth(ctx, associationID, shared.Month(month))
		if err != nil {
			return err
		}
		if sh.ApprovedAt == nil {
			return ErrApprovalPending
		}
		return nil
	}
	audit := &memoryRecorder{}
	svc := NewService(repo, testRoster(), &stubReceipts{}, nil, audit, logger, nil, gate)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) })

	sh, err := svc.CreateSheet(actorCtx(), 1, "2026-03")
	require.NoError(t, err)
	_, err = svc.AddExpense(actorCtx(), sh.ID, ExpenseInput{Name: "Curatenie", Rule: "per_apartment", TotalAmount: dec("300")})
	require.NoError(t, err)

	_, err = svc.Publish(actorCtx(), sh.ID)
	require.ErrorIs(t, err, ErrApprovalPending)

	approved, err := svc.Approve(actorCtx(), sh.ID)
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	require.Equal(t, "administrator", approved.ApprovedBy)

	_, err = svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)

	var actions []string
	for _, log := range audit.logs {
		actions = append(actions, log.Action)
	}
	require.Contains(t, actions, "sheet.approve")
}

func TestMeterIndexRollsIntoNextMonth(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	water, err := f.svc.AddExpense(actorCtx(), sh.ID, ExpenseInput{Name: "Apa rece", Rule: "per_consumption", UnitPrice: dec("9.50")})
	require.NoError(t, err)

	for apt, idx := range map[int64]string{10: "120", 11: "85.5", 12: "40"} {
		_, err = f.svc.RecordMeterIndex(actorCtx(), sh.ID, water.ID, apt, dec(idx))
		require.NoError(t, err)
	}
	_, err = f.svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)

	april, err := f.repo.GetSheetByMonth(actorCtx(), 1, shared.Month("2026-04"))
	require.NoError(t, err)
	aprilExpenses, err := f.svc.ListExpenses(actorCtx(), april.ID)
	require.NoError(t, err)
	require.Len(t, aprilExpenses, 1)
	require.Empty(t, aprilExpenses[0].Consumption)
	require.True(t, aprilExpenses[0].PriorIndex[10].Equal(dec("120")))
	require.True(t, aprilExpenses[0].PriorIndex[11].Equal(dec("85.5")))

	// A reading below the carried-over index is refused.
	_, err = f.svc.RecordMeterIndex(actorCtx(), april.ID, aprilExpenses[0].ID, 10, dec("119"))
	require.ErrorIs(t, err, expense.ErrIndexRegression)

	// 122.5 - 120 = 2.5 consumed.
	rec, err := f.svc.RecordMeterIndex(actorCtx(), april.ID, aprilExpenses[0].ID, 10, dec("122.5"))
	require.NoError(t, err)
	require.True(t, rec.Consumption[10].Equal(dec("2.5")))
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	sh := mustSheet(t, f, "2026-03")
	addTotalExpense(t, f, sh.ID, "Curatenie", "per_apartment", "300")
	_, err := f.svc.Publish(actorCtx(), sh.ID)
	require.NoError(t, err)

	// Apartment 10 owes 160, pays all; 11 owes 100, pays 40; 12 unpaid.
	f.receipts.add(10, "2026-03", "50", "100", "10")
	f.receipts.add(11, "2026-03", "0", "40", "0")

	st, err := f.svc.Stats(actorCtx(), sh.ID)
	require.NoError(t, err)
	require.Equal(t, 3, st.Apartments)
	require.Equal(t, 1, st.Paid)
	require.Equal(t, 1, st.PartiallyPaid)
	require.Equal(t, 1, st.Unpaid)
	require.True(t, st.TotalDue.Equal(dec("360")))
	require.True(t, st.TotalCollected.Equal(dec("200")))
	require.True(t, st.TotalRemaining.Equal(dec("160")))
	// (360-160)/360 = 55.56%
	require.True(t, st.CollectionPercent.Equal(dec("55.56")), "got %s", st.CollectionPercent)
}
