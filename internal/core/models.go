package core

import (
	"context"
	"strings"
)

// TextModel is one external text-generation call.
type TextModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ModelPair is the analysis and markup model used for one request.
type ModelPair struct {
	Analysis TextModel
	Markup   TextModel
	close    func()
}

// Close releases per-request clients. It is safe on a nil pair.
func (p *ModelPair) Close() {
	if p != nil && p.close != nil {
		p.close()
	}
}

// ModelFactory builds models from caller-supplied credentials. It validates
// both keys with their providers before returning.
type ModelFactory interface {
	Personal(ctx context.Context, googleKey, mistralKey string) (*ModelPair, error)
}

// Analysis is the analysis model's answer after the invalid-input sentinel
// has been interpreted.
type Analysis struct {
	Text  string
	Valid bool
}

func parseAnalysis(raw, sentinel string) Analysis {
	text := NormalizeExplanation(raw)
	if strings.Contains(text, sentinel) {
		return Analysis{}
	}
	return Analysis{Text: text, Valid: true}
}
