package payment

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tilla-pos/api/internal/errs"
	"github.com/tilla-pos/api/internal/modules/auth"
	"github.com/tilla-pos/api/internal/modules/order"
	"github.com/tilla-pos/api/internal/modules/staff"
)

// Handler exposes payment operations over HTTP.
type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the payment endpoints. Refund and void move money
// backwards, so they sit behind the manager gate.
func (h *Handler) RegisterRoutes(r chi.Router) {
	manager := auth.RequireRole(staff.RoleManager, staff.RoleAdmin)

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Post("/{id}/capture", h.capture)
		r.With(manager).Post("/{id}/void", h.void)
		r.With(manager).Post("/{id}/refund", h.refund)
		r.Get("/order/{order_id}", h.listByOrder)
		r.Get("/order/{order_id}/summary", h.summary)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	// The header wins over the body so proxies and retry middleware can set
	// the key without rewriting the payload.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	p, replayed, err := h.svc.Create(r.Context(), c.OrgID, actorOf(c), req)
	if err != nil {
		respondError(w, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	respond(w, status, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	p, err := h.svc.Get(r.Context(), c.OrgID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req CapturePaymentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	p, err := h.svc.Capture(r.Context(), c.OrgID, id, actorOf(c), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req VoidPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	p, err := h.svc.Void(r.Context(), c.OrgID, id, actorOf(c), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req RefundPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	p, err := h.svc.Refund(r.Context(), c.OrgID, id, actorOf(c), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *Handler) listByOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "order_id")
	if !ok {
		return
	}

	payments, err := h.svc.ListByOrder(r.Context(), c.OrgID, orderID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, payments)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "order_id")
	if !ok {
		return
	}

	sum, err := h.svc.Summarize(r.Context(), c.OrgID, orderID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, sum)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func claims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	c, ok := auth.FromContext(r.Context())
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return nil, false
	}
	return c, true
}

func actorOf(c *auth.Claims) order.Actor {
	return order.Actor{StaffID: c.StaffID, BranchID: c.BranchID}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func respondError(w http.ResponseWriter, err error) {
	e := errs.AsError(err)
	respond(w, errs.HTTPStatus(e), map[string]*errs.Error{"error": e})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
