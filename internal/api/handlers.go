package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stripe/stripe-go/v79"

	"codetoflows.com/backend/internal/auth"
	"codetoflows.com/backend/internal/config"
	"codetoflows.com/backend/internal/core"
	"codetoflows.com/backend/internal/quota"
	"codetoflows.com/backend/internal/store"
)

// Generator runs diagram generation. *core.Pipeline satisfies it.
type Generator interface {
	GenerateMetered(ctx context.Context, user *store.User, req core.Request) (*core.Result, error)
	GenerateQuota(ctx context.Context, req core.Request, googleKey, mistralKey string) (*core.Result, error)
}

// Store is the persistence surface the handlers need. *store.SQLiteStore
// satisfies it.
type Store interface {
	EnsureUser(ctx context.Context, id, email string, emailVerified bool, signupCredits int) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	SetUserStatus(ctx context.Context, adminID, userID string, status store.Status) error
	VerifyUserEmail(ctx context.Context, adminID, userID string) error
	SetUserRole(ctx context.Context, adminID, userID string, role store.Role) error
	AdjustCredits(ctx context.Context, adminID, userID string, delta int, notes string) (int, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]store.CreditTransaction, error)
	RecentTransactions(ctx context.Context, limit int) ([]store.CreditTransaction, error)
	Purchases(ctx context.Context) ([]store.CreditTransaction, error)
	Analytics(ctx context.Context) (*store.Analytics, error)
	AdminLogs(ctx context.Context, userID string, limit int) ([]store.AdminLog, error)
}

// Checkout is the payments surface. *billing.Service satisfies it.
type Checkout interface {
	CreateCheckout(ctx context.Context, userID, email, packID string) (*stripe.CheckoutSession, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	VerifySession(ctx context.Context, userID, sessionID string) (int, error)
}

type Authorizer interface {
	Allowed(role, resource, action string) bool
}

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type Deps struct {
	Pipeline    Generator
	Store       Store
	Quota       quota.Counter
	Billing     Checkout
	Permissions Authorizer
	Tokens      TokenVerifier
	Config      *config.Config
	Logger      *slog.Logger
}

type Handler struct {
	pipeline  Generator
	store     Store
	quota     quota.Counter
	billing   Checkout
	perms     Authorizer
	tokens    TokenVerifier
	cfg       *config.Config
	logger    *slog.Logger
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline:  d.Pipeline,
		store:     d.Store,
		quota:     d.Quota,
		billing:   d.Billing,
		perms:     d.Permissions,
		tokens:    d.Tokens,
		cfg:       d.Config,
		logger:    logger.With("component", "api"),
		validate:  newValidator(),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processRequest struct {
	Code          string `json:"code"`
	FileName      string `json:"fileName" validate:"max=255"`
	GoogleAPIKey  string `json:"googleApiKey" validate:"max=256"`
	MistralAPIKey string `json:"mistralApiKey" validate:"max=256"`
}

type erProcessRequest struct {
	Queries string `json:"queries"`
}

type architectureProcessRequest struct {
	Description string `json:"description"`
}

// diagramResponse names the analysis field after the kind, as the web client
// expects.
func diagramResponse(res *core.Result) map[string]any {
	body := map[string]any{
		"mermaidChart": res.Markup,
		"usageCount":   res.UsageCount,
		"cached":       res.Cached,
	}
	switch res.Kind {
	case core.KindFlowchart:
		body["executionSteps"] = res.Analysis
	case core.KindERDiagram:
		body["entityRelations"] = res.Analysis
	case core.KindArchitecture:
		body["analysis"] = res.Analysis
	}
	if res.Unlimited {
		body["unlimited"] = true
	}
	return body
}

func (h *Handler) serveMetered(w http.ResponseWriter, r *http.Request, req core.Request) {
	res, err := h.pipeline.GenerateMetered(r.Context(), userFromContext(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diagramResponse(res))
}

func (h *Handler) fileTag(name string) string {
	if tag := h.sanitizer.Sanitize(name); tag != "" {
		return tag
	}
	return string(core.KindFlowchart)
}

// Process turns source code into a flowchart, charging one credit.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serveMetered(w, r, core.Request{Kind: core.KindFlowchart, Payload: req.Code, Tag: h.fileTag(req.FileName)})
}

// ProcessQuota is Process under the shared daily ceiling. Callers may bring
// their own Google and Mistral keys to bypass it.
func (h *Handler) ProcessQuota(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.pipeline.GenerateQuota(r.Context(),
		core.Request{Kind: core.KindFlowchart, Payload: req.Code, Tag: h.fileTag(req.FileName)},
		req.GoogleAPIKey, req.MistralAPIKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diagramResponse(res))
}

func (h *Handler) ProcessER(w http.ResponseWriter, r *http.Request) {
	var req erProcessRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serveMetered(w, r, core.Request{Kind: core.KindERDiagram, Payload: req.Queries, Tag: string(core.KindERDiagram)})
}

func (h *Handler) ProcessArchitecture(w http.ResponseWriter, r *http.Request) {
	var req architectureProcessRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serveMetered(w, r, core.Request{Kind: core.KindArchitecture, Payload: req.Description, Tag: string(core.KindArchitecture)})
}

// Usage reports today's shared-credential generation count.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	count, err := h.quota.Count(r.Context(), quota.Today())
	if err != nil {
		h.writeError(w, r, core.Persistence("Failed to fetch usage count", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"usageCount": count, "dailyLimit": h.cfg.DailyLimit})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFromContext(r.Context()))
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	txs, err := h.store.ListTransactions(r.Context(), user.ID, 50)
	if err != nil {
		h.writeError(w, r, core.Persistence("Failed to fetch transactions", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
