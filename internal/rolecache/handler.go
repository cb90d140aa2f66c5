package rolecache

import (
	"log/slog"
	"net/http"

	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/roles"
)

// Handler serves the current snapshot as JSON.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler builds Handler instance.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("load role snapshot", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if snap.Roles == nil {
		snap.Roles = []roles.Role{}
	}
	httpx.JSON(w, http.StatusOK, snap)
}
