package api

import (
	"log/slog"
	"net/http"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/handler"
	"github.com/oraculocultural/oraculo/internal/middleware"
)

// ActivationHandler exposes the manual activation override
type ActivationHandler struct {
	service domain.ActivationService
	logger  *slog.Logger
}

// NewActivationHandler creates a new manual activation handler
func NewActivationHandler(service domain.ActivationService, logger *slog.Logger) *ActivationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationHandler{
		service: service,
		logger:  logger,
	}
}

type activateRequest struct {
	UserID    string `json:"userId" validate:"required,max=128"`
	PaymentID string `json:"paymentId" validate:"required,max=64"`
}

// Activate handles POST /api/premium/activate
//
// Body: {"userId": "...", "paymentId": "..."}
//
// Response codes:
// - 200 OK: {"success": true}
// - 400 Bad Request: invalid body, payment already processed or not approved,
//   or a newer gateway event already decided the entitlement
// - 404 Not Found: no pending payment with that id
// - 500 Internal Server Error: persistence failure
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[activateRequest](r, "activation.decode")
	if err != nil {
		middleware.GetLogger(r.Context(), h.logger).Debug("activation request rejected", "error", err)
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	if _, err := h.service.ActivateManually(r.Context(), req.UserID, req.PaymentID); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, map[string]bool{"success": true})
}
