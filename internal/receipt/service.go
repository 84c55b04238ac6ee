package receipt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blocadmin/blocadmin/internal/reconcile"
	"github.com/blocadmin/blocadmin/internal/shared"
)

// RepositoryPort is implemented by the Postgres repository and by the
// in-memory repository used in service tests. Create assigns the next
// receipt number inside its own transaction and returns
// ErrDuplicateReceiptNumber when the increment loses a race.
type RepositoryPort interface {
	Create(ctx context.Context, r *Receipt) (*Receipt, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error)
	MarkVoided(ctx context.Context, id uuid.UUID, voidedBy, reason string, at time.Time) error
	ListByMonth(ctx context.Context, associationID int64, month shared.Month) ([]Receipt, error)
	ListByApartment(ctx context.Context, associationID, apartmentID int64, month shared.Month) ([]Receipt, error)
}

// BaselineSource answers whether an apartment has a frozen due row on a
// published sheet for a month. Implemented by the sheet repository.
type BaselineSource interface {
	HasPublishedDue(ctx context.Context, associationID, apartmentID int64, month shared.Month) (bool, error)
}

// Service records and voids receipts.
type Service struct {
	repo      RepositoryPort
	baselines BaselineSource
	audit     shared.Recorder
	logger    *slog.Logger
	maxRetry  int
	now       func() time.Time
}

func NewService(repo RepositoryPort, baselines BaselineSource, audit shared.Recorder, logger *slog.Logger, maxRetry int) *Service {
	if maxRetry < 1 {
		maxRetry = 1
	}
	return &Service{
		repo:      repo,
		baselines: baselines,
		audit:     audit,
		logger:    logger,
		maxRetry:  maxRetry,
		now:       time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record validates and persists a payment. The target month must carry a
// published sheet whose frozen table includes the apartment; payments are
// never accepted against drafts.
func (s *Service) Record(ctx context.Context, in RecordInput) (*Receipt, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	month, err := shared.ParseMonth(in.Month)
	if err != nil {
		return nil, err
	}
	ok, err := s.baselines.HasPublishedDue(ctx, in.AssociationID, in.ApartmentID, month)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPublishedSheet
	}

	actor := shared.ActorFromContext(ctx)
	now := s.now()
	r := &Receipt{
		ID:            uuid.New(),
		AssociationID: in.AssociationID,
		ApartmentID:   in.ApartmentID,
		Month:         month,
		Restante:      in.Restante,
		Intretinere:   in.Intretinere,
		Penalitati:    in.Penalitati,
		Total:         in.Restante.Add(in.Intretinere).Add(in.Penalitati),
		Method:        in.Method,
		Notes:         in.Notes,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
	}

	var created *Receipt
	for attempt := 1; ; attempt++ {
		created, err = s.repo.Create(ctx, r)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateReceiptNumber) || attempt >= s.maxRetry {
			return nil, err
		}
		s.logger.Warn("receipt number race, retrying",
			"association_id", in.AssociationID, "attempt", attempt)
	}
	created.Code = FormatCode(created.CreatedAt, created.ReceiptNumber)

	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "receipt.record",
		Entity:   "receipt",
		EntityID: created.ID.String(),
		Meta: map[string]any{
			"code":         created.Code,
			"apartment_id": created.ApartmentID,
			"month":        string(created.Month),
			"total":        created.Total.String(),
		},
		At: now,
	})
	return created, nil
}

// Void cancels a receipt. The number is never reused and the row is kept;
// voided receipts are excluded from reconciliation sums.
func (s *Service) Void(ctx context.Context, id uuid.UUID, reason string) (*Receipt, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Voided() {
		return nil, ErrAlreadyVoided
	}
	actor := shared.ActorFromContext(ctx)
	at := s.now()
	if err := s.repo.MarkVoided(ctx, id, actor.ID, reason, at); err != nil {
		return nil, err
	}
	r.VoidedAt = &at
	r.VoidedBy = actor.ID
	r.VoidReason = reason

	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "receipt.void",
		Entity:   "receipt",
		EntityID: id.String(),
		Meta:     map[string]any{"reason": reason},
		At:       at,
	})
	return r, nil
}

// Get returns a single receipt with its formatted code.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Code = FormatCode(r.CreatedAt, r.ReceiptNumber)
	return r, nil
}

// ListByMonth returns every receipt booked against a month, voided ones
// included, in issuance order.
func (s *Service) ListByMonth(ctx context.Context, associationID int64, month string) ([]Receipt, error) {
	m, err := shared.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	rs, err := s.repo.ListByMonth(ctx, associationID, m)
	if err != nil {
		return nil, err
	}
	formatCodes(rs)
	return rs, nil
}

// ListByApartment returns an apartment's receipts for a month.
func (s *Service) ListByApartment(ctx context.Context, associationID, apartmentID int64, month string) ([]Receipt, error) {
	m, err := shared.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	rs, err := s.repo.ListByApartment(ctx, associationID, apartmentID, m)
	if err != nil {
		return nil, err
	}
	formatCodes(rs)
	return rs, nil
}

// PaymentsByApartment folds non-voided receipts into the per-category
// sums the reconciliation projection consumes, keyed by apartment.
func PaymentsByApartment(rs []Receipt) map[int64]reconcile.Payments {
	out := make(map[int64]reconcile.Payments)
	for _, r := range rs {
		if r.Voided() {
			continue
		}
		p := out[r.ApartmentID]
		p.Restante = p.Restante.Add(r.Restante)
		p.Intretinere = p.Intretinere.Add(r.Intretinere)
		p.Penalitati = p.Penalitati.Add(r.Penalitati)
		out[r.ApartmentID] = p
	}
	return out
}

func formatCodes(rs []Receipt) {
	for i := range rs {
		rs[i].Code = FormatCode(rs[i].CreatedAt, rs[i].ReceiptNumber)
	}
}
