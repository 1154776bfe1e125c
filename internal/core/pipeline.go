package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"codetoflows.com/backend/internal/quota"
	"codetoflows.com/backend/internal/store"
)

const DefaultModelTimeout = 60 * time.Second

type CacheStore interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (*store.CacheEntry, error)
	SaveCacheEntry(ctx context.Context, e *store.CacheEntry) error
}

type Ledger interface {
	DebitUsage(ctx context.Context, userID string) (int, error)
}

// Request is one generation request. Tag identifies the payload in the cache
// (a file name for code, otherwise the kind).
type Request struct {
	Kind    Kind
	Payload string
	Tag     string
}

type Result struct {
	Kind     Kind
	Analysis string
	Markup   string
	Cached   bool
	// UsageCount is the remaining credit balance for metered requests and
	// today's shared-credential count for quota requests.
	UsageCount int
	Unlimited  bool
}

type Options struct {
	Cache        CacheStore
	Ledger       Ledger
	Quota        quota.Counter
	Models       *ModelPair
	Factory      ModelFactory
	DailyLimit   int
	ModelTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Pipeline runs the cache-deduplicated, two-model generation flow for every
// diagram kind.
type Pipeline struct {
	cache        CacheStore
	ledger       Ledger
	quota        quota.Counter
	shared       *ModelPair
	factory      ModelFactory
	dailyLimit   int
	modelTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{
		cache:        opts.Cache,
		ledger:       opts.Ledger,
		quota:        opts.Quota,
		shared:       opts.Models,
		factory:      opts.Factory,
		dailyLimit:   opts.DailyLimit,
		modelTimeout: opts.ModelTimeout,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if p.modelTimeout <= 0 {
		p.modelTimeout = DefaultModelTimeout
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "pipeline")
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// GenerateMetered serves a request for a signed-in user, charging exactly one
// credit whether the result comes from the cache or from the models.
func (p *Pipeline) GenerateMetered(ctx context.Context, user *store.User, req Request) (*Result, error) {
	if user == nil {
		return nil, Unauthenticated("Please sign in to generate diagrams")
	}
	if user.Credits <= 0 {
		return nil, errInsufficientCredits
	}

	key := Fingerprint(req.Payload, req.Kind)
	entry, err := p.cache.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, Persistence("Failed to read the diagram cache.", err)
	}

	cached := entry != nil
	if !cached {
		if entry, err = p.generate(ctx, p.shared, key, req); err != nil {
			return nil, err
		}
	}

	balance, err := p.settle(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	p.logger.Info("diagram served", "kind", req.Kind, "user_id", user.ID, "cached", cached, "credits", balance)
	return resultFrom(req.Kind, entry, cached, balance), nil
}

// GenerateQuota serves an anonymous-capable flowchart request under the
// shared daily ceiling. When both personal keys are supplied and accepted by
// their providers the ceiling does not apply.
func (p *Pipeline) GenerateQuota(ctx context.Context, req Request, googleKey, mistralKey string) (*Result, error) {
	if googleKey != "" || mistralKey != "" {
		return p.generatePersonal(ctx, req, googleKey, mistralKey)
	}

	day := quota.Day(p.now())
	count, err := p.quota.Count(ctx, day)
	if err != nil {
		return nil, Persistence("Failed to read today's usage.", err)
	}
	if count >= p.dailyLimit {
		return nil, errDailyQuotaExceeded
	}

	key := Fingerprint(req.Payload, req.Kind)
	entry, err := p.cache.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, Persistence("Failed to read the diagram cache.", err)
	}
	cached := entry != nil
	if !cached {
		if entry, err = p.generate(ctx, p.shared, key, req); err != nil {
			return nil, err
		}
	}

	count, ok, err := p.quota.IncrementIfBelow(ctx, day, p.dailyLimit)
	if err != nil {
		return nil, Persistence("Failed to track diagram generation.", err)
	}
	if !ok {
		return nil, errDailyQuotaExceeded
	}

	p.logger.Info("diagram served", "kind", req.Kind, "cached", cached, "daily_count", count)
	return resultFrom(req.Kind, entry, cached, count), nil
}

func (p *Pipeline) generatePersonal(ctx context.Context, req Request, googleKey, mistralKey string) (*Result, error) {
	if googleKey == "" || mistralKey == "" {
		return nil, InvalidInput("Please provide both a Google and a Mistral API key.")
	}
	if p.factory == nil {
		return nil, InvalidInput("Personal API keys are not supported.")
	}

	pair, err := p.factory.Personal(ctx, googleKey, mistralKey)
	if err != nil {
		if _, ok := AsError(err); ok {
			return nil, err
		}
		return nil, InvalidKeys(err)
	}
	defer pair.Close()

	key := Fingerprint(req.Payload, req.Kind)
	entry, err := p.cache.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, Persistence("Failed to read the diagram cache.", err)
	}
	cached := entry != nil
	if !cached {
		if entry, err = p.generate(ctx, pair, key, req); err != nil {
			return nil, err
		}
	}

	p.logger.Info("diagram served", "kind", req.Kind, "cached", cached, "personal_keys", true)
	res := resultFrom(req.Kind, entry, cached, 0)
	res.Unlimited = true
	return res, nil
}

// generate validates the payload, calls both models and stores the result.
// The cache write happens before any charge so a failed write costs nothing.
func (p *Pipeline) generate(ctx context.Context, models *ModelPair, key string, req Request) (*store.CacheEntry, error) {
	if err := ValidateInput(req.Kind, req.Payload); err != nil {
		return nil, err
	}
	spec := kindSpecs[req.Kind]
	if models == nil || models.Analysis == nil || models.Markup == nil {
		return nil, Upstream(spec.failureMessage, errors.New("models are not configured"))
	}

	raw, err := p.call(ctx, models.Analysis, spec.analysisPrompt(req.Payload))
	if err != nil {
		p.logger.Warn("analysis model failed", "kind", req.Kind, "error", err)
		return nil, Upstream(spec.failureMessage, err)
	}
	analysis := parseAnalysis(raw, spec.sentinel)
	if !analysis.Valid {
		return nil, InvalidInput(spec.invalidMessage)
	}
	if analysis.Text == "" {
		return nil, Upstream(spec.failureMessage, errors.New("analysis model returned no text"))
	}

	rawMarkup, err := p.call(ctx, models.Markup, spec.markupPrompt(analysis.Text))
	if err != nil {
		p.logger.Warn("markup model failed", "kind", req.Kind, "error", err)
		return nil, Upstream(spec.failureMessage, err)
	}

	entry := &store.CacheEntry{
		Fingerprint: key,
		Kind:        string(req.Kind),
		Payload:     req.Payload,
		Tag:         req.Tag,
		Explanation: analysis.Text,
		Markup:      spec.normalize(rawMarkup),
	}
	if err := p.cache.SaveCacheEntry(ctx, entry); err != nil {
		return nil, Persistence("Failed to save the generated diagram.", err)
	}
	return entry, nil
}

func (p *Pipeline) call(ctx context.Context, model TextModel, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.modelTimeout)
	defer cancel()
	return model.Generate(ctx, prompt)
}

func (p *Pipeline) settle(ctx context.Context, userID string) (int, error) {
	balance, err := p.ledger.DebitUsage(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			return 0, errInsufficientCredits
		}
		return 0, Persistence("Failed to update credits", err)
	}
	return balance, nil
}

func resultFrom(kind Kind, e *store.CacheEntry, cached bool, usage int) *Result {
	return &Result{
		Kind:       kind,
		Analysis:   e.Explanation,
		Markup:     e.Markup,
		Cached:     cached,
		UsageCount: usage,
	}
}
