package masterdata

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sitebill/sitebill/internal/platform/httpx"
	"github.com/sitebill/sitebill/internal/shared"
)

// Handler exposes master data over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a master data handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// ListResponse wraps a page of results.
type ListResponse[T any] struct {
	Data       []T               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func newListResponse[T any](items []T, params shared.ListParams, total int) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Pagination: shared.NewPagination(params.Page, params.Limit(), total)}
}

// MountRoutes registers master data routes. Routes are flat so other
// packages can add nested paths under /projects/{id} and /buildings/{id}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/areas", h.listAreas)
	r.Post("/areas", h.createArea)
	r.Get("/areas/{id}", h.getArea)
	r.Put("/areas/{id}", h.updateArea)
	r.Delete("/areas/{id}", h.deleteArea)

	r.Get("/companies", h.listCompanies)
	r.Post("/companies", h.createCompany)
	r.Get("/companies/{id}", h.getCompany)
	r.Put("/companies/{id}", h.updateCompany)
	r.Delete("/companies/{id}", h.deleteCompany)

	r.Get("/projects", h.listProjects)
	r.Post("/projects", h.createProject)
	r.Get("/projects/{id}", h.getProject)
	r.Put("/projects/{id}", h.updateProject)
	r.Delete("/projects/{id}", h.deleteProject)
	r.Get("/projects/{id}/buildings", h.listBuildings)
	r.Post("/projects/{id}/buildings", h.createBuilding)

	r.Get("/buildings/{id}", h.getBuilding)
	r.Put("/buildings/{id}", h.updateBuilding)
	r.Delete("/buildings/{id}", h.deleteBuilding)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	httpx.LogAndRespond(h.logger, w, r, msg, err)
}

// Areas

func (h *Handler) listAreas(w http.ResponseWriter, r *http.Request) {
	params := shared.ListParamsFromQuery(r.URL.Query())
	areas, total, err := h.service.ListAreas(r.Context(), params)
	if err != nil {
		h.fail(w, r, "list areas failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newListResponse(areas, params, total))
}

func (h *Handler) getArea(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	area, err := h.service.GetArea(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get area failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, area)
}

func (h *Handler) createArea(w http.ResponseWriter, r *http.Request) {
	var in AreaInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	area, err := h.service.CreateArea(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create area failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, area)
}

func (h *Handler) updateArea(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in AreaInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	area, err := h.service.UpdateArea(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update area failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, area)
}

func (h *Handler) deleteArea(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteArea(r.Context(), id); err != nil {
		h.fail(w, r, "delete area failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Companies

func (h *Handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	params := shared.ListParamsFromQuery(r.URL.Query())
	companies, total, err := h.service.ListCompanies(r.Context(), params)
	if err != nil {
		h.fail(w, r, "list companies failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newListResponse(companies, params, total))
}

func (h *Handler) getCompany(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	company, err := h.service.GetCompany(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get company failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, company)
}

func (h *Handler) createCompany(w http.ResponseWriter, r *http.Request) {
	var in CompanyInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	company, err := h.service.CreateCompany(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create company failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, company)
}

func (h *Handler) updateCompany(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in CompanyInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	company, err := h.service.UpdateCompany(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update company failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, company)
}

func (h *Handler) deleteCompany(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteCompany(r.Context(), id); err != nil {
		h.fail(w, r, "delete company failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Projects

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ProjectFilter{ListParams: shared.ListParamsFromQuery(q), Status: ProjectStatus(q.Get("status"))}
	filter.CompanyID, _ = strconv.ParseInt(q.Get("company_id"), 10, 64)
	filter.AreaID, _ = strconv.ParseInt(q.Get("area_id"), 10, 64)

	projects, total, err := h.service.ListProjects(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list projects failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newListResponse(projects, filter.ListParams, total))
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	project, err := h.service.GetProject(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get project failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, project)
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var in ProjectInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	project, err := h.service.CreateProject(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create project failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, project)
}

func (h *Handler) updateProject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ProjectInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	project, err := h.service.UpdateProject(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update project failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, project)
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteProject(r.Context(), id); err != nil {
		h.fail(w, r, "delete project failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Buildings

func (h *Handler) listBuildings(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	buildings, err := h.service.ListBuildings(r.Context(), projectID)
	if err != nil {
		h.fail(w, r, "list buildings failed", err)
		return
	}
	if buildings == nil {
		buildings = []Building{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": buildings})
}

func (h *Handler) getBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	building, err := h.service.GetBuilding(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get building failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, building)
}

func (h *Handler) createBuilding(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in BuildingInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	building, err := h.service.CreateBuilding(r.Context(), projectID, in)
	if err != nil {
		h.fail(w, r, "create building failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, building)
}

func (h *Handler) updateBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in BuildingInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	building, err := h.service.UpdateBuilding(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update building failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, building)
}

func (h *Handler) deleteBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteBuilding(r.Context(), id); err != nil {
		h.fail(w, r, "delete building failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
