package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"codetoflows.com/backend/internal/auth"
	"codetoflows.com/backend/internal/core"
	"codetoflows.com/backend/internal/store"
)

type ctxKey int

const userKey ctxKey = iota

func withUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// userFromContext returns the local user resolved by Authenticate or
// OptionalAuth, or nil for anonymous requests.
func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userKey).(*store.User)
	return user
}

// RequestLogger logs one line per request once the response is written.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// resolveUser verifies the bearer token and mirrors its identity into the
// local users table. Banned accounts are refused here for every route.
func (h *Handler) resolveUser(r *http.Request, token string) (*http.Request, error) {
	claims, err := h.tokens.Verify(token)
	if err != nil {
		h.logger.Debug("token rejected", "error", err)
		return nil, core.Unauthenticated("Invalid or expired session. Please sign in again.")
	}

	user, err := h.store.EnsureUser(r.Context(), claims.UserID(), claims.Email, claims.EmailVerified, h.cfg.SignupCredits)
	if err != nil {
		return nil, core.Persistence("Failed to load your account.", err)
	}
	if user.Status == store.StatusBanned {
		return nil, core.Forbidden("Your account has been banned. Please contact support.")
	}

	ctx := auth.WithClaims(r.Context(), claims)
	ctx = withUser(ctx, user)
	return r.WithContext(ctx), nil
}

// Authenticate requires a valid bearer token.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			h.writeError(w, r, core.Unauthenticated("Please sign in to continue."))
			return
		}
		authed, err := h.resolveUser(r, token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, authed)
	})
}

// OptionalAuth lets anonymous requests through but still rejects a token
// that is present and invalid.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		authed, err := h.resolveUser(r, token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, authed)
	})
}

// RequireVerifiedEmail gates generation on a verified address when the
// deployment asks for it.
func (h *Handler) RequireVerifiedEmail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if user != nil && h.cfg.RequireVerifiedEmail && !user.EmailVerified {
			h.writeError(w, r, core.Forbidden("Please verify your email to generate diagrams"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission admits users whose role may perform action on resource.
func (h *Handler) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil {
				h.writeError(w, r, core.Unauthenticated("Please sign in to continue."))
				return
			}
			if !h.perms.Allowed(string(user.Role), resource, action) {
				h.logger.Warn("permission denied", "user_id", user.ID, "role", user.Role, "resource", resource, "action", action)
				h.writeError(w, r, core.Forbidden("You do not have permission to perform this action."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
