package staff

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tilla-pos/api/internal/errs"
)

// ClaimsReader decouples the handler from the auth package, which depends on
// this one for roles.
type ClaimsReader func(r *http.Request) (orgID uuid.UUID, role Role, ok bool)

type Handler struct {
	service Service
	claims  ClaimsReader
}

func NewHandler(service Service, claims ClaimsReader) *Handler {
	return &Handler{service: service, claims: claims}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/staff", func(r chi.Router) {
		r.Post("/", h.enroll)
		r.Get("/{id}", h.get)
	})
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	orgID, role, ok := h.claims(r)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "missing credentials"})
		return
	}
	if role != RoleAdmin {
		respond(w, http.StatusForbidden, map[string]string{"error": "admin role required"})
		return
	}

	var req CreateStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	st, err := h.service.Enroll(r.Context(), orgID, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, st)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.claims(r)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "missing credentials"})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid staff id"})
		return
	}
	st, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, st)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.AsError(err)
	}
	respond(w, errs.HTTPStatus(e), map[string]*errs.Error{"error": e})
}
