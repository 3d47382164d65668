package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler exposes the login endpoint.
type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/auth/login", h.login)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	type request struct {
		StaffID string `json:"staff_id"`
		PIN     string `json:"pin"`
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	staffID, err := uuid.Parse(req.StaffID)
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid staff_id"})
		return
	}

	token, member, err := h.service.Login(r.Context(), staffID, req.PIN)
	if err != nil {
		respond(w, http.StatusUnauthorized, map[string]string{"error": ErrInvalidCredentials.Error()})
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"staff": member,
	})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
