package ai

import "context"

// Classification is the result of classifying a cleaned email body.
type Classification struct {
	Category  string `json:"category"`
	Sentiment string `json:"sentiment"`
	Priority  string `json:"priority"`
}

// Classifier is the interface for the LLM collaborator.
// Implement this interface to add new providers (Ollama, OpenAI-compatible, etc.)
type Classifier interface {
	// Classify maps clean text to {category, sentiment, priority}.
	Classify(ctx context.Context, text string) (*Classification, error)
	// DraftReply writes a reply body for the original message, honoring the
	// rule's free-text instructions.
	DraftReply(ctx context.Context, original, instructions string) (string, error)
	// Ping is a lightweight connectivity check.
	Ping(ctx context.Context) error
}

// ProviderType represents the classifier provider type
type ProviderType string

const (
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
	ProviderAuto   ProviderType = "auto"
)

var validCategories = map[string]bool{
	"important": true, "personal": true, "work": true,
	"newsletter": true, "promotion": true, "spam": true,
}

var validSentiments = map[string]bool{
	"positive": true, "neutral": true, "negative": true,
}

var validPriorities = map[string]bool{
	"high": true, "medium": true, "low": true,
}

// normalize clamps model output to the known enums, defaulting anything
// unexpected instead of failing the sync run over a creative answer.
func normalize(c *Classification) *Classification {
	if !validCategories[c.Category] {
		c.Category = "personal"
	}
	if !validSentiments[c.Sentiment] {
		c.Sentiment = "neutral"
	}
	if !validPriorities[c.Priority] {
		c.Priority = "medium"
	}
	return c
}
