package boq

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitebill/sitebill/internal/platform/httpx"
)

// Handler exposes service lines and progress tracking over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a BOQ handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type progressRequest struct {
	Updates []ProgressUpdate `json:"updates"`
}

// MountRoutes registers BOQ routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/buildings/{id}/services", h.listServices)
	r.Post("/buildings/{id}/services", h.createService)
	r.Get("/buildings/{id}/boq", h.buildingBOQ)

	r.Get("/services/{id}", h.getService)
	r.Put("/services/{id}", h.updateService)
	r.Delete("/services/{id}", h.deleteService)

	r.Post("/progress", h.updateProgress)
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	buildingID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	services, err := h.service.ListServices(r.Context(), buildingID)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "list services failed", err)
		return
	}
	if services == nil {
		services = []ServiceLine{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": services})
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	buildingID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ServiceInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.CreateService(r.Context(), buildingID, in)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "create service failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) buildingBOQ(w http.ResponseWriter, r *http.Request) {
	buildingID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.BuildingBOQ(r.Context(), buildingID)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "building boq failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.GetService(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "get service failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) updateService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ServiceInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.UpdateService(r.Context(), id, in)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "update service failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) deleteService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteService(r.Context(), id); err != nil {
		httpx.LogAndRespond(h.logger, w, r, "delete service failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.UpdateProgress(r.Context(), req.Updates)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "update progress failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lines})
}
