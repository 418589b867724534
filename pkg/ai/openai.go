package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIService implements Classifier against any OpenAI-compatible chat
// completions endpoint (OpenAI itself, local gateways, hosted proxies).
type OpenAIService struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIService creates a classifier for an OpenAI-compatible API.
func NewOpenAIService(baseURL, apiKey, model string) *OpenAIService {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Classify implements Classifier.
func (s *OpenAIService) Classify(ctx context.Context, text string) (*Classification, error) {
	raw, err := s.chat(ctx, fmt.Sprintf(classifyPrompt, text), 0.1)
	if err != nil {
		return nil, err
	}
	var result Classification
	if err := json.Unmarshal([]byte(extractJSON(raw, "{", "}")), &result); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}
	return normalize(&result), nil
}

// DraftReply implements Classifier.
func (s *OpenAIService) DraftReply(ctx context.Context, original, instructions string) (string, error) {
	if instructions == "" {
		instructions = "Write a short, polite reply."
	}
	raw, err := s.chat(ctx, fmt.Sprintf(draftPrompt, instructions, original), 0.4)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// Ping lists models as a cheap connectivity and credentials check.
func (s *OpenAIService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai health check returned %d", resp.StatusCode)
	}
	return nil
}

func (s *OpenAIService) chat(ctx context.Context, prompt string, temperature float64) (string, error) {
	payload := map[string]interface{}{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
