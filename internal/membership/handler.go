// internal/membership/handler.go
package membership

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// CapabilityResponse answers GET /capabilities.
type CapabilityResponse struct {
	UserID     string `json:"user_id"`
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
}

// Routes mounts the membership endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/members", h.handleRegisterMember)
	r.Get("/members/{id}", h.handleGetMember)
	r.Put("/members/{id}/role", h.handleUpdateRole)
	r.Post("/login", h.handleLogin)
	r.Get("/capabilities", h.handleCapability)
}

func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	member, err := h.service.RegisterMember(r.Context(), req.Email, req.Name, req.Password, role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, member)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	member, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}

	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.UpdateMemberRole(r.Context(), id, role); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCapability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, capability := q.Get("user_id"), q.Get("capability")
	if userID == "" || capability == "" {
		http.Error(w, "user_id and capability are required", http.StatusBadRequest)
		return
	}

	allowed, err := h.service.HasCapability(r.Context(), userID, capability)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CapabilityResponse{UserID: userID, Capability: capability, Allowed: allowed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, ErrInvalidCredentials):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrEmailTaken):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrMemberNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidRole):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
