package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/voicebridge/relay/internal/ai"
	"github.com/voicebridge/relay/pkg/logger"
)

// Client implements ai.ChatProvider using the Google Gemini API.
// It backs the guardrail fallback stage when the configured provider is "gemini".
type Client struct {
	apiKey string
	logger *logger.Logger

	mu     sync.Mutex
	client *genai.Client // lazily initialized
}

// NewClient creates a new Gemini chat client
func NewClient(apiKey string, logger *logger.Logger) *Client {
	if apiKey == "" {
		logger.Warn("Gemini API key is empty - guardrail fallback via Gemini will not work")
	}
	return &Client{
		apiKey: apiKey,
		logger: logger.Named("gemini"),
	}
}

// ensureClient builds the underlying genai client on first use
func (c *Client) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.client = client
	return client, nil
}

// ChatCompletion sends the conversation to Gemini and returns the response
// content with token usage. System-role messages become the system instruction;
// the rest are concatenated as user content.
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (ai.ChatResult, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return ai.ChatResult{}, err
	}

	cfg := &genai.GenerateContentConfig{}
	if config.Temperature > 0 {
		temp := float32(config.Temperature)
		cfg.Temperature = &temp
	}
	if config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(config.MaxTokens)
	}

	var userParts []*genai.Part
	for _, msg := range messages {
		if msg.Role == "system" {
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
			}
			continue
		}
		userParts = append(userParts, genai.NewPartFromText(msg.Content))
	}
	if len(userParts) == 0 {
		return ai.ChatResult{}, fmt.Errorf("no user content in messages")
	}

	contents := []*genai.Content{{Parts: userParts, Role: "user"}}

	resp, err := client.Models.GenerateContent(ctx, config.Model, contents, cfg)
	if err != nil {
		return ai.ChatResult{}, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ai.ChatResult{}, fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			sb.WriteString(p.Text)
		}
	}

	result := ai.ChatResult{Content: sb.String()}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	c.logger.Debug("Gemini completion finished",
		logger.String("model", config.Model),
		logger.Int("prompt_tokens", result.PromptTokens),
		logger.Int("completion_tokens", result.CompletionTokens))

	return result, nil
}
