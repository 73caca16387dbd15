// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"libranexus-lending/internal/lifecycle"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the asset endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/assets", h.handleAddAsset)
	r.Get("/assets", h.handleListAssets)
	r.Get("/assets/{id}", h.handleGetAsset)
}

func (h *Handler) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string         `json:"id"`
		Title    string         `json:"title"`
		Author   string         `json:"author"`
		Metadata map[string]any `json:"metadata"`
		State    string         `json:"state"`
		DueDate  *time.Time     `json:"due_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var state lifecycle.State
	if req.State != "" {
		st, err := lifecycle.ParseState(req.State)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		state = st
	}

	asset, err := h.service.AddAsset(r.Context(), &Asset{
		ID:       strings.TrimSpace(req.ID),
		Title:    req.Title,
		Author:   req.Author,
		Metadata: req.Metadata,
		State:    state,
		DueDate:  req.DueDate,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, asset)
}

func (h *Handler) handleListAssets(w http.ResponseWriter, r *http.Request) {
	var filter Filter
	if label := r.URL.Query().Get("state"); label != "" {
		st, err := lifecycle.ParseState(label)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.State = st
	}

	assets, err := h.service.ListAssets(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	if assets == nil {
		assets = []*Asset{}
	}

	WriteJSON(w, http.StatusOK, assets)
}

func (h *Handler) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.service.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, asset)
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps catalog errors to HTTP statuses. Unknown errors are 500s.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAssetNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidAsset):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrAssetExists):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
