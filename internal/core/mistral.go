package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultMistralBaseURL = "https://api.mistral.ai"

// MistralModel calls the Mistral chat-completions API for diagram markup.
type MistralModel struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewMistralModel(baseURL, apiKey, model string, httpClient *http.Client) *MistralModel {
	if baseURL == "" {
		baseURL = DefaultMistralBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &MistralModel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (m *MistralModel) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mistral request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read mistral response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mistral returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (m *MistralModel) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    m.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode mistral request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build mistral request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := m.do(req)
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("bad mistral response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices from mistral")
	}

	// Content may also arrive as an array of chunks, which carries no usable markup.
	var content string
	if err := json.Unmarshal(out.Choices[0].Message.Content, &content); err != nil {
		return "", errors.New("mistral content is not text")
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("mistral returned empty content")
	}
	return content, nil
}

// ValidateKey checks the key against the model listing endpoint.
func (m *MistralModel) ValidateKey(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("failed to build mistral request: %w", err)
	}
	if _, err := m.do(req); err != nil {
		return fmt.Errorf("mistral key rejected: %w", err)
	}
	return nil
}
