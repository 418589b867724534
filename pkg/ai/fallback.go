package ai

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
)

// FallbackService routes classifier calls across two providers: the
// remote OpenAI-compatible endpoint first, the local Ollama instance
// when the remote is unreachable or out of quota.
type FallbackService struct {
	primary   Classifier
	secondary Classifier
}

// NewFallbackService creates a classifier that prefers primary and falls
// back to secondary.
func NewFallbackService(primary, secondary Classifier) *FallbackService {
	return &FallbackService{primary: primary, secondary: secondary}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(net.Error); ok {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

func (f *FallbackService) shouldFallBack(err error) bool {
	return isConnectionError(err) || isQuotaError(err)
}

func (f *FallbackService) Classify(ctx context.Context, text string) (*Classification, error) {
	result, err := f.primary.Classify(ctx, text)
	if err == nil {
		return result, nil
	}
	if !f.shouldFallBack(err) {
		return nil, err
	}
	log.Printf("[AI] Primary classifier unavailable: %v, falling back", err)
	result, err = f.secondary.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("fallback classification failed: %w", err)
	}
	return result, nil
}

func (f *FallbackService) DraftReply(ctx context.Context, original, instructions string) (string, error) {
	result, err := f.primary.DraftReply(ctx, original, instructions)
	if err == nil {
		return result, nil
	}
	if !f.shouldFallBack(err) {
		return "", err
	}
	log.Printf("[AI] Primary drafting unavailable: %v, falling back", err)
	result, err = f.secondary.DraftReply(ctx, original, instructions)
	if err != nil {
		return "", fmt.Errorf("fallback drafting failed: %w", err)
	}
	return result, nil
}

// Ping succeeds when either provider is reachable.
func (f *FallbackService) Ping(ctx context.Context) error {
	if err := f.primary.Ping(ctx); err == nil {
		return nil
	}
	return f.secondary.Ping(ctx)
}
