package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tilla-pos/api/internal/modules/auth"
)

// Handler exposes the read side of the audit trail.
type Handler struct{ repo Repository }

func NewHandler(repo Repository) *Handler { return &Handler{repo: repo} }

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/audit/orders/{order_id}", h.listByOrder)
}

func (h *Handler) listByOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "missing credentials"})
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}
	entries, err := h.repo.ListByOrder(r.Context(), claims.OrgID, orderID)
	if err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"error": "could not load audit trail"})
		return
	}
	respond(w, http.StatusOK, entries)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
