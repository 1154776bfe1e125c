package api

import (
	"errors"
	"net/http"
	"time"

	"codetoflows.com/backend/internal/billing"
	"codetoflows.com/backend/internal/core"
	"codetoflows.com/backend/internal/store"
)

const (
	recentTransactionsLimit = 50
	adminLogsLimit          = 100
)

type adjustCreditsRequest struct {
	UserID  string `json:"userId" validate:"required"`
	Credits int    `json:"credits" validate:"required"`
	Notes   string `json:"notes" validate:"max=500"`
}

type setStatusRequest struct {
	UserID string `json:"userId" validate:"required"`
	Status string `json:"status" validate:"required,oneof=active banned"`
}

type userRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type payment struct {
	ID        string    `json:"id"`
	UserEmail string    `json:"user_email"`
	Credits   int       `json:"credits"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	PaymentID string    `json:"payment_id"`
	CreatedAt time.Time `json:"created_at"`
}

func adminStoreError(err error, message string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return core.InvalidInput("User not found")
	case errors.Is(err, store.ErrInsufficientCredits):
		return core.InvalidInput("Adjustment would leave a negative balance")
	default:
		return core.Persistence(message, err)
	}
}

func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, core.Persistence("Failed to fetch users", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) AdminAdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req adjustCreditsRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	admin := userFromContext(r.Context())
	balance, err := h.store.AdjustCredits(r.Context(), admin.ID, req.UserID, req.Credits, h.sanitizer.Sanitize(req.Notes))
	if err != nil {
		h.writeError(w, r, adminStoreError(err, "Failed to update credits"))
		return
	}
	h.logger.Info("credits adjusted", "admin_id", admin.ID, "user_id", req.UserID, "delta", req.Credits, "balance", balance)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": balance})
}

func (h *Handler) AdminSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	admin := userFromContext(r.Context())
	if req.UserID == admin.ID {
		h.writeError(w, r, core.InvalidInput("You cannot change your own status"))
		return
	}
	if err := h.store.SetUserStatus(r.Context(), admin.ID, req.UserID, store.Status(req.Status)); err != nil {
		h.writeError(w, r, adminStoreError(err, "Failed to update user status"))
		return
	}
	h.logger.Info("user status changed", "admin_id", admin.ID, "user_id", req.UserID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) AdminVerifyUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	admin := userFromContext(r.Context())
	if err := h.store.VerifyUserEmail(r.Context(), admin.ID, req.UserID); err != nil {
		h.writeError(w, r, adminStoreError(err, "Failed to verify user"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// AdminPromote grants the admin role to an existing account.
func (h *Handler) AdminPromote(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	admin := userFromContext(r.Context())
	if err := h.store.SetUserRole(r.Context(), admin.ID, req.UserID, store.RoleAdmin); err != nil {
		h.writeError(w, r, adminStoreError(err, "Failed to create admin user"))
		return
	}
	h.logger.Info("admin promoted", "admin_id", admin.ID, "user_id", req.UserID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// AdminLogs lists recent moderation actions, optionally for one user.
func (h *Handler) AdminLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.store.AdminLogs(r.Context(), r.URL.Query().Get("userId"), adminLogsLimit)
	if err != nil {
		h.writeError(w, r, core.Persistence("Failed to fetch admin logs", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (h *Handler) AdminAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.store.Analytics(r.Context())
	if err != nil {
		h.writeError(w, r, core.Persistence("Failed to fetch analytics", err))
		return
	}
	recent, err := h.store.RecentTransactions(r.Context(), recentTransactionsLimit)
	if err != nil {
		h.writeError(w, r, core.Persistence("Failed to fetch analytics", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analytics": analytics, "transactions": recent})
}

func (h *Handler) AdminPayments(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.store.Purchases(r.Context())
	if err != nil {
		h.writeError(w, r, core.Persistence("Failed to fetch payments", err))
		return
	}

	payments := make([]payment, 0, len(purchases))
	var totalCents int64
	for _, p := range purchases {
		cents := billing.PriceForCredits(p.Amount)
		totalCents += cents
		payments = append(payments, payment{
			ID:        p.ID,
			UserEmail: p.UserEmail,
			Credits:   p.Amount,
			Amount:    float64(cents) / 100,
			Status:    "succeeded",
			PaymentID: p.Reference,
			CreatedAt: p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments, "totalRevenue": float64(totalCents) / 100})
}

func (h *Handler) CreditPacks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packs": billing.Packs()})
}
