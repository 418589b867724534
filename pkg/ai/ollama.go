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

// OllamaService implements Classifier against a local Ollama server.
type OllamaService struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaService creates a new Ollama classifier.
func NewOllamaService(baseURL, model string) *OllamaService {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaService{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

const classifyPrompt = `You are an email triage assistant. Classify the email below.

Respond with ONLY a JSON object, no other text:
{"category": one of "important"|"personal"|"work"|"newsletter"|"promotion"|"spam",
 "sentiment": one of "positive"|"neutral"|"negative",
 "priority": one of "high"|"medium"|"low"}

EMAIL:
%s

JSON:`

// Classify implements Classifier.
func (o *OllamaService) Classify(ctx context.Context, text string) (*Classification, error) {
	raw, err := o.generate(ctx, fmt.Sprintf(classifyPrompt, text), 120, 0.1)
	if err != nil {
		return nil, err
	}

	var result Classification
	if err := json.Unmarshal([]byte(extractJSON(raw, "{", "}")), &result); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}
	return normalize(&result), nil
}

const draftPrompt = `You are an email assistant writing a reply on the user's behalf.

INSTRUCTIONS FROM THE USER'S RULE:
%s

ORIGINAL EMAIL:
%s

Write only the reply body as plain text. No subject line, no signature placeholders, no commentary.

REPLY:`

// DraftReply implements Classifier.
func (o *OllamaService) DraftReply(ctx context.Context, original, instructions string) (string, error) {
	if instructions == "" {
		instructions = "Write a short, polite reply."
	}
	raw, err := o.generate(ctx, fmt.Sprintf(draftPrompt, instructions, original), 500, 0.4)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// Ping checks that the Ollama server is reachable.
func (o *OllamaService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned %d", resp.StatusCode)
	}
	return nil
}

func (o *OllamaService) generate(ctx context.Context, prompt string, numPredict int, temperature float64) (string, error) {
	payload := map[string]interface{}{
		"model":  o.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": temperature,
			"num_predict": numPredict,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return result.Response, nil
}

// extractJSON pulls the first balanced open..close span out of a model
// response that may wrap JSON in prose or markdown fences.
func extractJSON(s, open, close string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, open)
	end := strings.LastIndex(s, close)
	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}
