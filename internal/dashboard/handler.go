package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitebill/sitebill/internal/platform/httpx"
)

// StatsSource provides dashboard statistics.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
}

// Handler serves the dashboard endpoint.
type Handler struct {
	logger  *slog.Logger
	service StatsSource
}

// NewHandler builds a dashboard handler.
func NewHandler(logger *slog.Logger, service StatsSource) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.stats)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "load dashboard", err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=15")
	httpx.JSON(w, http.StatusOK, stats)
}
