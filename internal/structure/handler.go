package structure

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/blocadmin/blocadmin/internal/platform/httpx"
	"github.com/blocadmin/blocadmin/internal/shared"
)

type structureService interface {
	CreateAssociation(ctx context.Context, in CreateAssociationInput) (*Association, error)
	GetAssociation(ctx context.Context, id int64) (*Association, error)
	ListAssociations(ctx context.Context) ([]Association, error)
	CreateBlock(ctx context.Context, in CreateBlockInput) (*Block, error)
	ListBlocks(ctx context.Context, associationID int64) ([]Block, error)
	CreateStair(ctx context.Context, in CreateStairInput) (*Stair, error)
	ListStairs(ctx context.Context, associationID int64) ([]Stair, error)
	CreateApartment(ctx context.Context, in CreateApartmentInput) (*Apartment, error)
	UpdateApartment(ctx context.Context, id int64, in UpdateApartmentInput) (*Apartment, error)
	GetApartment(ctx context.Context, id int64) (*Apartment, error)
	ListRoster(ctx context.Context, associationID int64) ([]RosterEntry, error)
}

// Handler wires HTTP endpoints for the association structure.
type Handler struct {
	logger   *slog.Logger
	service  structureService
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service structureService) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers structure routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/associations", h.createAssociation)
	r.Get("/associations", h.listAssociations)
	r.Get("/associations/{id}", h.getAssociation)
	r.Get("/associations/{id}/roster", h.listRoster)
	r.Get("/associations/{id}/blocks", h.listBlocks)
	r.Get("/associations/{id}/stairs", h.listStairs)
	r.Post("/blocks", h.createBlock)
	r.Post("/stairs", h.createStair)
	r.Post("/apartments", h.createApartment)
	r.Get("/apartments/{id}", h.getApartment)
	r.Put("/apartments/{id}", h.updateApartment)
}

func (h *Handler) createAssociation(w http.ResponseWriter, r *http.Request) {
	var in CreateAssociationInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.CreateAssociation(r.Context(), in)
	if err != nil {
		h.logger.Error("create association", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) listAssociations(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListAssociations(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getAssociation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	a, err := h.service.GetAssociation(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) listRoster(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	roster, err := h.service.ListRoster(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roster)
}

func (h *Handler) listBlocks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	out, err := h.service.ListBlocks(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listStairs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	out, err := h.service.ListStairs(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createBlock(w http.ResponseWriter, r *http.Request) {
	var in CreateBlockInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	b, err := h.service.CreateBlock(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) createStair(w http.ResponseWriter, r *http.Request) {
	var in CreateStairInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	s, err := h.service.CreateStair(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, s)
}

func (h *Handler) createApartment(w http.ResponseWriter, r *http.Request) {
	var in CreateApartmentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.CreateApartment(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) getApartment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	a, err := h.service.GetApartment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) updateApartment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var in UpdateApartmentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.UpdateApartment(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func mapNotFound(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return httpx.ErrNotFound
	}
	return err
}
