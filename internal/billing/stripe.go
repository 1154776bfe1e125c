package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"codetoflows.com/backend/internal/store"
)

var (
	ErrNotConfigured    = errors.New("billing not configured")
	ErrUnknownPack      = errors.New("invalid pack")
	ErrInvalidSignature = errors.New("signature verification failed")
	ErrNotPaid          = errors.New("payment not completed")
	ErrSessionMismatch  = errors.New("session belongs to another user")
	ErrBadMetadata      = errors.New("session metadata is incomplete")
)

// Sessions is the subset of the Stripe Checkout API used here. session.Client
// satisfies it.
type Sessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type PurchaseLedger interface {
	CreditPurchase(ctx context.Context, userID string, credits int, reference string) (int, error)
}

// NewStripeSessions returns a Checkout client bound to secretKey.
func NewStripeSessions(secretKey string) Sessions {
	return &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

type Service struct {
	sessions      Sessions
	ledger        PurchaseLedger
	webhookSecret string
	baseURL       string
	logger        *slog.Logger
}

func NewService(sessions Sessions, ledger PurchaseLedger, webhookSecret, baseURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:      sessions,
		ledger:        ledger,
		webhookSecret: webhookSecret,
		baseURL:       strings.TrimRight(baseURL, "/"),
		logger:        logger.With("component", "billing"),
	}
}

// CreateCheckout starts a payment-mode Checkout Session for a credit pack.
func (s *Service) CreateCheckout(ctx context.Context, userID, email, packID string) (*stripe.CheckoutSession, error) {
	if s.sessions == nil {
		return nil, ErrNotConfigured
	}
	pack, ok := LookupPack(packID)
	if !ok {
		return nil, ErrUnknownPack
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(pack.Name),
						Description: stripe.String(fmt.Sprintf("%d credits for diagram generation", pack.Credits)),
					},
					UnitAmount: stripe.Int64(pack.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.baseURL + "/credits?success=true&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.baseURL + "/credits?canceled=true"),
		Metadata: map[string]string{
			"userId":  userID,
			"credits": strconv.Itoa(pack.Credits),
			"packId":  pack.ID,
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess, nil
}

// HandleWebhook verifies a Stripe event and credits completed checkouts.
// Replays of the same session are ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if event.Type != "checkout.session.completed" {
		s.logger.Debug("ignoring stripe event", "type", event.Type)
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("invalid session payload: %w", err)
	}
	_, err = s.fulfill(ctx, &sess)
	return err
}

// VerifySession credits a checkout the caller just returned from. It is safe
// to call after the webhook has already credited the same session.
func (s *Service) VerifySession(ctx context.Context, userID, sessionID string) (int, error) {
	if s.sessions == nil {
		return 0, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if sess.Metadata["userId"] != userID {
		return 0, ErrSessionMismatch
	}
	return s.fulfill(ctx, sess)
}

func (s *Service) fulfill(ctx context.Context, sess *stripe.CheckoutSession) (int, error) {
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return 0, ErrNotPaid
	}
	userID := sess.Metadata["userId"]
	credits, err := strconv.Atoi(sess.Metadata["credits"])
	if userID == "" || err != nil || credits <= 0 {
		return 0, ErrBadMetadata
	}

	balance, err := s.ledger.CreditPurchase(ctx, userID, credits, sess.ID)
	if errors.Is(err, store.ErrDuplicatePurchase) {
		s.logger.Info("checkout already credited", "session_id", sess.ID, "user_id", userID)
		return balance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to credit purchase: %w", err)
	}
	s.logger.Info("credits purchased", "session_id", sess.ID, "user_id", userID, "credits", credits, "balance", balance)
	return balance, nil
}
