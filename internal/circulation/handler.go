// internal/circulation/handler.go
package circulation

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/command"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/policy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	service Service
	assets  *catalog.Handler
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, assets: catalog.NewHandler(service)}
}

// ErrorResponse is the body of every failed lending request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// Error kinds reported in ErrorResponse.
const (
	KindAssetNotFound          = "asset_not_found"
	KindInvalidAsset           = "invalid_asset"
	KindAssetExists            = "asset_exists"
	KindIllegalTransition      = "illegal_transition"
	KindNotBorrowable          = "not_borrowable"
	KindInvalidConditionReport = "invalid_condition_report"
	KindPersistenceFailure     = "persistence_failure"
	KindBadRequest             = "bad_request"
	KindInternal               = "internal"
)

// Routes mounts the asset and lending endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	h.assets.Routes(r)
	r.Post("/assets/{id}/borrow", h.handleBorrow)
	r.Post("/assets/{id}/return", h.handleReturn)
	r.Post("/assets/{id}/restoration", h.handleFlag)
	r.Post("/assets/{id}/restore", h.handleRestore)
	r.Post("/undo", h.handleUndo)
	r.Get("/restoration-queue", h.handleRestorationQueue)
	r.Get("/overdue", h.handleOverdue)
	r.Get("/history", h.handleHistory)
}

// BorrowRequest is the body of POST /assets/{id}/borrow.
type BorrowRequest struct {
	UserID string `json:"user_id"`
	Mode   string `json:"mode"`
}

// ReturnRequest is the body of POST /assets/{id}/return.
type ReturnRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: KindBadRequest})
		return
	}
	mode, err := policy.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: KindBadRequest})
		return
	}

	assetID := chi.URLParam(r, "id")
	due, err := h.service.Borrow(r.Context(), assetID, req.UserID, mode)
	if err != nil {
		WriteError(w, err)
		return
	}

	catalog.WriteJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "due_date": due})
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: KindBadRequest})
		return
	}

	assetID := chi.URLParam(r, "id")
	fee, err := h.service.Return(r.Context(), assetID, req.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}

	catalog.WriteJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "late_fee": fee})
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request) {
	var req ConditionReportInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: KindBadRequest})
		return
	}

	if err := h.service.FlagForRestoration(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	asset, err := h.service.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	catalog.WriteJSON(w, http.StatusOK, asset)
}

func (h *Handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Undo(r.Context())
	if errors.Is(err, command.ErrNoHistory) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}

	catalog.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleRestorationQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.service.RestorationQueue(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	catalog.WriteJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.Overdue(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if loans == nil {
		loans = []OverdueLoan{}
	}

	catalog.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	catalog.WriteJSON(w, http.StatusOK, h.service.History(r.Context()))
}

// WriteError maps lending errors to HTTP statuses and an ErrorResponse.
func WriteError(w http.ResponseWriter, err error) {
	var (
		illegal     *lifecycle.IllegalTransitionError
		notBorrow   *policy.NotBorrowableError
		badReport   *lifecycle.InvalidConditionReportError
		persistence *PersistenceError
	)
	switch {
	case errors.Is(err, catalog.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: KindAssetNotFound})
	case errors.Is(err, catalog.ErrInvalidAsset):
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: KindInvalidAsset})
	case errors.Is(err, catalog.ErrAssetExists):
		writeError(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: KindAssetExists})
	case errors.As(err, &illegal):
		writeError(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: KindIllegalTransition})
	case errors.As(err, &notBorrow):
		writeError(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: KindNotBorrowable, Reason: string(notBorrow.Reason)})
	case errors.As(err, &badReport):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: KindInvalidConditionReport})
	case errors.As(err, &persistence):
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: KindPersistenceFailure})
	default:
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: KindInternal})
	}
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	catalog.WriteJSON(w, status, body)
}
