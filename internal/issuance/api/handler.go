package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-admission/internal/issuance"
	"ms-admission/internal/monitoring"
	"ms-admission/internal/store"
	"ms-admission/internal/utils"
)

type Handler struct {
	Service *issuance.Service
}

func NewHandler(service *issuance.Service) *Handler {
	return &Handler{Service: service}
}

// IssueTicket handles the finalization input from the purchase
// collaborator. The response is the only place the minted token appears.
func (h *Handler) IssueTicket(w http.ResponseWriter, r *http.Request) {
	var fin issuance.Finalization
	if err := json.NewDecoder(r.Body).Decode(&fin); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}

	issued, err := h.Service.Issue(r.Context(), fin)
	if err != nil {
		switch {
		case errors.Is(err, issuance.ErrDuplicateTicket):
			writeJSON(w, http.StatusConflict, utils.ErrorResponse("ticket already issued", err.Error()))
		case errors.Is(err, store.ErrUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("storage unavailable", err.Error()))
		default:
			writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("failed to issue ticket", err.Error()))
		}
		return
	}

	monitoring.ObserveIssued()
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("ticket issued", issued))
}

func (h *Handler) ViewTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	ticket, err := h.Service.Get(r.Context(), ticketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	token, err := h.Service.Token(r.Context(), ticketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("ticket", map[string]interface{}{
		"ticket": ticket,
		"token":  token,
	}))
}

// TicketQR serves the scannable PNG for wallet or print display.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	png, err := h.Service.QR(r.Context(), ticketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// CancelTicket handles the refund/cancellation collaborator input.
func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	if err := h.Service.Cancel(r.Context(), ticketID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeJSON(w, http.StatusConflict, utils.ErrorResponse("ticket is not cancellable", err.Error()))
			return
		}
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("ticket not found", err.Error()))
	case errors.Is(err, store.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("storage unavailable", err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("internal error", err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
