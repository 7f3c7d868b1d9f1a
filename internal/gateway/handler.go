package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ms-admission/internal/auth"
	"ms-admission/internal/logger"
	"ms-admission/internal/monitoring"
	"ms-admission/internal/redemption"
)

// Redeemer is the coordinator as the gateway sees it.
type Redeemer interface {
	Redeem(ctx context.Context, token, deviceID string, now time.Time) redemption.Outcome
}

// ScanRequest is the payload sent by a gate device after reading a code.
type ScanRequest struct {
	RawScannedText string    `json:"raw_scanned_text"`
	DeviceID       string    `json:"device_id"`
	Timestamp      time.Time `json:"timestamp,omitzero"`
}

// ScanResponse is the union of the three outcome shapes. Result is one of
// "admitted", "rejected", "error"; gate UIs must render admitted in an
// unmistakably different style and never auto-retry it.
type ScanResponse struct {
	Result string `json:"result"`

	TicketID          string `json:"ticket_id,omitempty"`
	TicketType        string `json:"ticket_type,omitempty"`
	HolderDisplayName string `json:"holder_display_name,omitempty"`

	Reason     string    `json:"reason,omitempty"`
	RedeemedAt time.Time `json:"redeemed_at,omitzero"`
	RedeemedBy string    `json:"redeemed_by,omitempty"`

	Retryable bool `json:"retryable,omitempty"`
}

// Handler is the scan boundary. Device authentication and throttling live
// here; ticket semantics do not.
type Handler struct {
	Coordinator Redeemer
	Limiter     *RateLimiter
	Logger      *logger.Logger
}

func NewHandler(coordinator Redeemer, limiter *RateLimiter, log *logger.Logger) *Handler {
	return &Handler{Coordinator: coordinator, Limiter: limiter, Logger: log}
}

// Scan handles POST /api/v1/scan.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.RawScannedText == "" {
		http.Error(w, "raw_scanned_text is required", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	// The authenticated identity must match the claimed device.
	if authedID := auth.DeviceID(r.Context()); authedID != "" && authedID != req.DeviceID {
		http.Error(w, "device_id does not match authenticated device", http.StatusForbidden)
		return
	}

	if h.Limiter != nil && !h.Limiter.Allow(r.Context(), req.DeviceID) {
		monitoring.ObserveRateLimited(req.DeviceID)
		http.Error(w, "scan rate exceeded", http.StatusTooManyRequests)
		return
	}

	// Redemption time is server time; the device timestamp is advisory.
	outcome := h.Coordinator.Redeem(r.Context(), req.RawScannedText, req.DeviceID, time.Now().UTC())

	resp, status := mapOutcome(outcome)
	monitoring.ObserveScan(resp.Result, resp.Reason, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func mapOutcome(outcome redemption.Outcome) (ScanResponse, int) {
	switch outcome.Kind {
	case redemption.OutcomeAdmitted:
		return ScanResponse{
			Result:            "admitted",
			TicketID:          outcome.Ticket.TicketID,
			TicketType:        outcome.Ticket.TicketType,
			HolderDisplayName: outcome.Ticket.HolderName,
		}, http.StatusOK
	case redemption.OutcomeRejected:
		return ScanResponse{
			Result:     "rejected",
			Reason:     string(outcome.Reason),
			RedeemedAt: outcome.RedeemedAt,
			RedeemedBy: outcome.RedeemedBy,
		}, http.StatusOK
	default:
		// Transient failure: the gate retries the identical request; the
		// store's idempotent check makes that safe.
		return ScanResponse{
			Result:    "error",
			Retryable: outcome.Retryable,
		}, http.StatusServiceUnavailable
	}
}
