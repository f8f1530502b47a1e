package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/handler"
)

// EntitlementHandler serves read-only entitlement state to the frontend
type EntitlementHandler struct {
	service domain.EntitlementService
}

// NewEntitlementHandler creates a new entitlement read handler
func NewEntitlementHandler(service domain.EntitlementService) *EntitlementHandler {
	return &EntitlementHandler{service: service}
}

// Get handles GET /api/premium/{userId}
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("userId"))
	if userID == "" {
		handler.ErrorResponse(w, r, domain.ErrMissingUserID)
		return
	}

	view, err := h.service.GetEntitlement(r.Context(), userID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, view)
}

type historyEntry struct {
	ID             string               `json:"id"`
	SubscriptionID string               `json:"subscriptionId,omitempty"`
	Status         domain.GatewayStatus `json:"status"`
	PreviousStatus domain.GatewayStatus `json:"previousStatus,omitempty"`
	Action         domain.AuditAction   `json:"action"`
	IsPremium      bool                 `json:"isPremium"`
	EventAt        time.Time            `json:"eventAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// History handles GET /api/premium/{userId}/history?limit=50
func (h *EntitlementHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("userId"))
	if userID == "" {
		handler.ErrorResponse(w, r, domain.ErrMissingUserID)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			handler.ValidationErrorResponse(w, r, domain.NewValidationError("history.limit", "limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.service.ListHistory(r.Context(), userID, limit)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:             e.ID,
			SubscriptionID: e.SubscriptionID,
			Status:         e.Status,
			PreviousStatus: e.PreviousStatus,
			Action:         e.Action,
			IsPremium:      e.IsPremium,
			EventAt:        e.EventAt,
			UpdatedAt:      e.UpdatedAt,
		})
	}

	handler.JSON(w, http.StatusOK, map[string]interface{}{
		"userId":  userID,
		"entries": out,
	})
}
