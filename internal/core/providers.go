package core

import (
	"context"
	"net/http"
)

// ProviderFactory builds Gemini and Mistral models for caller-supplied keys.
type ProviderFactory struct {
	AnalysisModel  string
	MarkupModel    string
	MistralBaseURL string
	HTTPClient     *http.Client
}

func (f *ProviderFactory) Personal(ctx context.Context, googleKey, mistralKey string) (*ModelPair, error) {
	gemini, err := NewGeminiModel(ctx, googleKey, f.AnalysisModel)
	if err != nil {
		return nil, InvalidKeys(err)
	}
	if err := gemini.ValidateKey(ctx); err != nil {
		gemini.Close()
		return nil, InvalidKeys(err)
	}

	mistral := NewMistralModel(f.MistralBaseURL, mistralKey, f.MarkupModel, f.HTTPClient)
	if err := mistral.ValidateKey(ctx); err != nil {
		gemini.Close()
		return nil, InvalidKeys(err)
	}

	return &ModelPair{
		Analysis: gemini,
		Markup:   mistral,
		close:    func() { gemini.Close() },
	}, nil
}

// InvalidKeys reports personal credentials a provider refused.
func InvalidKeys(err error) *Error {
	return newError(KindInvalidInput, "Invalid API keys. Please check your Google and Mistral keys.", err)
}
