package sheet

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/blocadmin/blocadmin/internal/expense"
	"github.com/blocadmin/blocadmin/internal/platform/httpx"
	"github.com/blocadmin/blocadmin/internal/shared"
)

type sheetService interface {
	CreateSheet(ctx context.Context, associationID int64, month string) (*Sheet, error)
	GetSheet(ctx context.Context, id int64) (*Sheet, error)
	ListSheets(ctx context.Context, associationID int64) ([]Sheet, error)
	CurrentSheets(ctx context.Context, associationID int64) ([]Sheet, error)
	AddExpense(ctx context.Context, sheetID int64, in ExpenseInput) (*expense.Record, error)
	UpdateExpense(ctx context.Context, sheetID, expenseID int64, in ExpenseInput) (*expense.Record, error)
	DeleteExpense(ctx context.Context, sheetID, expenseID int64) error
	ListExpenses(ctx context.Context, sheetID int64) ([]expense.Record, error)
	SetConsumption(ctx context.Context, sheetID, expenseID, apartmentID int64, quantity decimal.Decimal) (*expense.Record, error)
	RecordMeterIndex(ctx context.Context, sheetID, expenseID, apartmentID int64, newIndex decimal.Decimal) (*expense.Record, error)
	SetIndividualAmount(ctx context.Context, sheetID, expenseID, apartmentID int64, amount decimal.Decimal) (*expense.Record, error)
	AdjustBalances(ctx context.Context, sheetID int64, in AdjustInput) (*BalanceAdjustment, error)
	Approve(ctx context.Context, sheetID int64) (*Sheet, error)
	CheckPublishable(ctx context.Context, sheetID int64) error
	Preview(ctx context.Context, sheetID int64) ([]ApartmentDue, error)
	Publish(ctx context.Context, sheetID int64) (*Sheet, error)
	Unpublish(ctx context.Context, sheetID int64) (*Sheet, error)
	MaintenanceTable(ctx context.Context, sheetID int64) ([]ReconciledRow, error)
	Stats(ctx context.Context, sheetID int64) (*Stats, error)
}

// Handler wires HTTP endpoints for the sheet lifecycle.
type Handler struct {
	logger   *slog.Logger
	service  sheetService
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service sheetService) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sheet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/associations/{id}/sheets", h.createSheet)
	r.Get("/associations/{id}/sheets", h.listSheets)
	r.Get("/associations/{id}/sheets/current", h.currentSheets)
	r.Get("/sheets/{id}", h.getSheet)
	r.Post("/sheets/{id}/expenses", h.addExpense)
	r.Get("/sheets/{id}/expenses", h.listExpenses)
	r.Put("/sheets/{id}/expenses/{expenseID}", h.updateExpense)
	r.Delete("/sheets/{id}/expenses/{expenseID}", h.deleteExpense)
	r.Put("/sheets/{id}/expenses/{expenseID}/consumption", h.setConsumption)
	r.Put("/sheets/{id}/expenses/{expenseID}/meter-index", h.recordMeterIndex)
	r.Put("/sheets/{id}/expenses/{expenseID}/individual-amount", h.setIndividualAmount)
	r.Post("/sheets/{id}/adjustments", h.adjustBalances)
	r.Post("/sheets/{id}/approve", h.approve)
	r.Get("/sheets/{id}/publishable", h.checkPublishable)
	r.Get("/sheets/{id}/preview", h.preview)
	r.Post("/sheets/{id}/publish", h.publish)
	r.Post("/sheets/{id}/unpublish", h.unpublish)
	r.Get("/sheets/{id}/maintenance-table", h.maintenanceTable)
	r.Get("/sheets/{id}/stats", h.stats)
}

func (h *Handler) createSheet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var body struct {
		Month string `json:"month" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sh, err := h.service.CreateSheet(r.Context(), id, body.Month)
	if err != nil {
		h.respondErr(w, "create sheet", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sh)
}

func (h *Handler) listSheets(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	out, err := h.service.ListSheets(r.Context(), id)
	if err != nil {
		h.respondErr(w, "list sheets", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) currentSheets(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	out, err := h.service.CurrentSheets(r.Context(), id)
	if err != nil {
		h.respondErr(w, "current sheets", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getSheet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	sh, err := h.service.GetSheet(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get sheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

func (h *Handler) addExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var in ExpenseInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.AddExpense(r.Context(), id, in)
	if err != nil {
		h.respondErr(w, "add expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	out, err := h.service.ListExpenses(r.Context(), id)
	if err != nil {
		h.respondErr(w, "list expenses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) updateExpense(w http.ResponseWriter, r *http.Request) {
	sheetID, expenseID, ok := h.expensePath(w, r)
	if !ok {
		return
	}
	var in ExpenseInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.UpdateExpense(r.Context(), sheetID, expenseID, in)
	if err != nil {
		h.respondErr(w, "update expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) deleteExpense(w http.ResponseWriter, r *http.Request) {
	sheetID, expenseID, ok := h.expensePath(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteExpense(r.Context(), sheetID, expenseID); err != nil {
		h.respondErr(w, "delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type entryBody struct {
	ApartmentID int64           `json:"apartment_id" validate:"required"`
	Value       decimal.Decimal `json:"value"`
}

func (h *Handler) setConsumption(w http.ResponseWriter, r *http.Request) {
	h.applyEntry(w, r, h.service.SetConsumption)
}

func (h *Handler) recordMeterIndex(w http.ResponseWriter, r *http.Request) {
	h.applyEntry(w, r, h.service.RecordMeterIndex)
}

func (h *Handler) setIndividualAmount(w http.ResponseWriter, r *http.Request) {
	h.applyEntry(w, r, h.service.SetIndividualAmount)
}

func (h *Handler) applyEntry(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64, int64, int64, decimal.Decimal) (*expense.Record, error)) {
	sheetID, expenseID, ok := h.expensePath(w, r)
	if !ok {
		return
	}
	var body entryBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := apply(r.Context(), sheetID, expenseID, body.ApartmentID, body.Value)
	if err != nil {
		h.respondErr(w, "apply entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) adjustBalances(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var in AdjustInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	adj, err := h.service.AdjustBalances(r.Context(), id, in)
	if err != nil {
		h.respondErr(w, "adjust balances", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	sh, err := h.service.Approve(r.Context(), id)
	if err != nil {
		h.respondErr(w, "approve sheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

func (h *Handler) checkPublishable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	err = h.service.CheckPublishable(r.Context(), id)
	var incomplete *IncompleteError
	if errors.As(err, &incomplete) {
		httpx.JSON(w, http.StatusOK, map[string]any{"publishable": false, "missing": incomplete.Missing})
		return
	}
	if err != nil {
		h.respondErr(w, "check publishable", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"publishable": true})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	dues, err := h.service.Preview(r.Context(), id)
	if err != nil {
		h.respondErr(w, "preview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dues)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	sh, err := h.service.Publish(r.Context(), id)
	if err != nil {
		var incomplete *IncompleteError
		if errors.As(err, &incomplete) {
			// RFC7807 with the missing entries as an extension member.
			httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
				"title":   "Incomplete",
				"status":  http.StatusUnprocessableEntity,
				"detail":  incomplete.Error(),
				"missing": incomplete.Missing,
			})
			return
		}
		h.respondErr(w, "publish sheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

func (h *Handler) unpublish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	sh, err := h.service.Unpublish(r.Context(), id)
	if err != nil {
		h.respondErr(w, "unpublish sheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

func (h *Handler) maintenanceTable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	rows, err := h.service.MaintenanceTable(r.Context(), id)
	if err != nil {
		h.respondErr(w, "maintenance table", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	st, err := h.service.Stats(r.Context(), id)
	if err != nil {
		h.respondErr(w, "sheet stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) expensePath(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	sheetID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, 0, false
	}
	expenseID, err := pathID(r, "expenseID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expense id")
		return 0, 0, false
	}
	return sheetID, expenseID, true
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, mapSheetErr(err))
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func mapSheetErr(err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrSheetLocked):
		return httpx.ErrLocked
	case errors.Is(err, ErrIncompleteDistribution):
		return httpx.ErrIncomplete
	case errors.Is(err, ErrSheetExists), errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrHasPayments), errors.Is(err, ErrApprovalPending):
		return httpx.ErrConflict
	case errors.Is(err, expense.ErrInvalidRule), errors.Is(err, expense.ErrMalformed),
		errors.Is(err, expense.ErrIndexRegression), errors.Is(err, shared.ErrInvalidMonth):
		return httpx.ErrValidation
	}
	return err
}
