package api

import (
	"errors"
	"io"
	"net/http"

	"codetoflows.com/backend/internal/billing"
	"codetoflows.com/backend/internal/core"
)

// Stripe caps event payloads well below this.
const maxWebhookBytes = 64 * 1024

type checkoutRequest struct {
	PackID string `json:"packId" validate:"required,max=64"`
}

type verifySessionRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=255"`
}

func billingError(err error) error {
	switch {
	case errors.Is(err, billing.ErrUnknownPack):
		return core.InvalidInput("Invalid pack selected")
	case errors.Is(err, billing.ErrInvalidSignature):
		return core.InvalidInput("Webhook signature verification failed")
	case errors.Is(err, billing.ErrNotPaid):
		return core.InvalidInput("Payment has not been completed")
	case errors.Is(err, billing.ErrBadMetadata):
		return core.InvalidInput("Checkout session is missing purchase details")
	case errors.Is(err, billing.ErrSessionMismatch):
		return core.Forbidden("This checkout session belongs to another account")
	case errors.Is(err, billing.ErrNotConfigured):
		return core.Upstream("Payments are not available right now", err)
	default:
		return core.Upstream("Failed to process payment", err)
	}
}

func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user := userFromContext(r.Context())
	sess, err := h.billing.CreateCheckout(r.Context(), user.ID, user.Email, req.PackID)
	if err != nil {
		h.writeError(w, r, billingError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID, "url": sess.URL})
}

func (h *Handler) VerifySession(w http.ResponseWriter, r *http.Request) {
	var req verifySessionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user := userFromContext(r.Context())
	balance, err := h.billing.VerifySession(r.Context(), user.ID, req.SessionID)
	if err != nil {
		h.writeError(w, r, billingError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": balance})
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.writeError(w, r, core.InvalidInput("Invalid webhook payload"))
		return
	}
	if err := h.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.writeError(w, r, billingError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
