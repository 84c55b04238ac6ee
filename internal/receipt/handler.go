package receipt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/blocadmin/blocadmin/internal/platform/httpx"
	"github.com/blocadmin/blocadmin/internal/shared"
)

type receiptService interface {
	Record(ctx context.Context, in RecordInput) (*Receipt, error)
	Void(ctx context.Context, id uuid.UUID, reason string) (*Receipt, error)
	Get(ctx context.Context, id uuid.UUID) (*Receipt, error)
	ListByMonth(ctx context.Context, associationID int64, month string) ([]Receipt, error)
	ListByApartment(ctx context.Context, associationID, apartmentID int64, month string) ([]Receipt, error)
}

// Handler wires HTTP endpoints for the payment ledger.
type Handler struct {
	logger   *slog.Logger
	service  receiptService
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service receiptService) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.record)
	r.Get("/receipts/{id}", h.get)
	r.Post("/receipts/{id}/void", h.void)
	r.Get("/associations/{id}/receipts", h.listByMonth)
	r.Get("/associations/{id}/apartments/{apartmentID}/receipts", h.listByApartment)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var in RecordInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.Record(r.Context(), in)
	if err != nil {
		h.logger.Error("record receipt", slog.Any("error", err))
		httpx.RespondError(w, mapReceiptErr(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapReceiptErr(err))
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var body struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.Void(r.Context(), id, body.Reason)
	if err != nil {
		h.logger.Error("void receipt", slog.Any("error", err))
		httpx.RespondError(w, mapReceiptErr(err))
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listByMonth(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	out, err := h.service.ListByMonth(r.Context(), id, r.URL.Query().Get("month"))
	if err != nil {
		httpx.RespondError(w, mapReceiptErr(err))
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listByApartment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	aptID, err := pathID(r, "apartmentID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid apartment id")
		return
	}
	out, err := h.service.ListByApartment(r.Context(), id, aptID, r.URL.Query().Get("month"))
	if err != nil {
		httpx.RespondError(w, mapReceiptErr(err))
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func mapReceiptErr(err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrNoPublishedSheet), errors.Is(err, ErrAlreadyVoided):
		return httpx.ErrConflict
	case errors.Is(err, ErrEmptyPayment), errors.Is(err, ErrNegativeAmount), errors.Is(err, shared.ErrInvalidMonth):
		return httpx.ErrValidation
	case errors.Is(err, ErrDuplicateReceiptNumber):
		return httpx.ErrConflict
	}
	return err
}
