package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voicebridge/relay/internal/ai"
	"github.com/voicebridge/relay/pkg/logger"
)

// Client handles communication with OpenAI's APIs
type Client struct {
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
	baseURL    string // stored without trailing slash

	realtimeSessionPath   string
	realtimeWebsocketPath string
	chatCompletionsPath   string
}

// NewClient creates a new OpenAI client
func NewClient(apiKey string, logger *logger.Logger, baseURL string) *Client {
	// Determine base URL (prefer explicit parameter, then env, then default)
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		if env := os.Getenv("OPENAI_API_BASE"); env != "" {
			base = env
		} else {
			base = "https://api.openai.com"
		}
	}
	base = strings.TrimRight(base, "/")

	if apiKey == "" {
		logger.Warn("OpenAI API key is empty - translation sessions will not work")
	}

	return &Client{
		apiKey:  apiKey,
		logger:  logger.Named("openai"),
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		realtimeSessionPath:   "/v1/realtime/sessions",
		realtimeWebsocketPath: "/v1/realtime",
		chatCompletionsPath:   "/v1/chat/completions",
	}
}

// -- RealtimeProvider Implementation --

// CreateRealtimeSession creates a new realtime session
func (c *Client) CreateRealtimeSession(ctx context.Context, config ai.RealtimeSessionConfig, instructions string) (*ai.RealtimeSession, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	apiURL := c.baseURL + c.realtimeSessionPath

	reqBody := map[string]any{
		"model":               config.Model,
		"instructions":        instructions,
		"modalities":          []string{"text", "audio"},
		"input_audio_format":  config.InputAudioFormat,
		"output_audio_format": config.OutputAudioFormat,
		"voice":               config.Voice,
	}

	// OpenAI realtime API requires temperature >= 0.6
	if config.Temperature >= 0.6 {
		reqBody["temperature"] = config.Temperature
	} else {
		reqBody["temperature"] = 0.8
	}

	if config.MaxResponseTokens > 0 {
		reqBody["max_response_output_tokens"] = config.MaxResponseTokens
	}

	if config.TurnDetection != "" && config.TurnDetection != "none" {
		turnDetection := map[string]any{"type": config.TurnDetection}
		if config.VADThreshold > 0 {
			turnDetection["threshold"] = config.VADThreshold
		}
		if config.PrefixPaddingMs > 0 {
			turnDetection["prefix_padding_ms"] = config.PrefixPaddingMs
		}
		if config.SilenceDurationMs > 0 {
			turnDetection["silence_duration_ms"] = config.SilenceDurationMs
		}
		reqBody["turn_detection"] = turnDetection
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	c.logger.Debug("Creating realtime session",
		logger.String("model", config.Model),
		logger.String("voice", config.Voice),
		logger.String("turn_detection", config.TurnDetection))

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to create session: %s %s", resp.Status, string(body))
	}

	var result struct {
		ID           string `json:"id"`
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}

	return &ai.RealtimeSession{
		ID:           generateSessionID(),
		ProviderID:   result.ID,
		ClientSecret: result.ClientSecret.Value,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Unix(result.ClientSecret.ExpiresAt, 0),
		Active:       true,
		Instructions: instructions,
		Config:       config,
	}, nil
}

func generateSessionID() string {
	return fmt.Sprintf("leg_%d", time.Now().UnixNano())
}

// Conn wraps the raw websocket with a write lock
type Conn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Read() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// ConnectSession establishes the WebSocket connection for a session
func (c *Client) ConnectSession(ctx context.Context, session *ai.RealtimeSession) (ai.Connection, error) {
	wsBase := toWebSocketBase(c.baseURL)
	wsURL := fmt.Sprintf("%s%s?model=%s", wsBase, c.realtimeWebsocketPath, session.Config.Model)

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	headers := http.Header{}
	headers.Set("OpenAI-Beta", "realtime=v1")

	if session.ClientSecret != "" {
		headers.Set("Authorization", "Bearer "+session.ClientSecret)
	} else {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime websocket: %w", err)
	}

	return &Conn{conn: conn}, nil
}

// ValidateSession checks if a session is still usable
func (c *Client) ValidateSession(session *ai.RealtimeSession) bool {
	if session == nil {
		return false
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		return false
	}
	return session.Active
}

// -- ChatProvider Implementation --

// ChatCompletion sends a conversation to the chat completions API and returns
// the response content along with token usage
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (ai.ChatResult, error) {
	if c.apiKey == "" {
		return ai.ChatResult{}, fmt.Errorf("OpenAI API key is required")
	}

	apiURL := c.baseURL + c.chatCompletionsPath

	type Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	type Request struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
		Temperature float64   `json:"temperature"`
	}

	reqMessages := make([]Message, len(messages))
	for i, msg := range messages {
		reqMessages[i] = Message{Role: msg.Role, Content: msg.Content}
	}

	reqBody := Request{
		Model:       config.Model,
		Messages:    reqMessages,
		MaxTokens:   config.MaxTokens,
		Temperature: config.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return ai.ChatResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return ai.ChatResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ai.ChatResult{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ai.ChatResult{}, fmt.Errorf("chat completion failed: %s %s", resp.Status, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ai.ChatResult{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Choices) == 0 {
		return ai.ChatResult{}, fmt.Errorf("no choices in response")
	}

	return ai.ChatResult{
		Content:          result.Choices[0].Message.Content,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}

// toWebSocketBase converts an http(s) base URL to the corresponding ws(s) URL
func toWebSocketBase(httpBase string) string {
	b := strings.TrimRight(httpBase, "/")
	if strings.HasPrefix(b, "https://") {
		return "wss://" + strings.TrimPrefix(b, "https://")
	} else if strings.HasPrefix(b, "http://") {
		return "ws://" + strings.TrimPrefix(b, "http://")
	}
	return "wss://" + b
}
