package ai

import (
	"context"
	"time"
)

// RealtimeSession represents an active realtime translation session with an engine
type RealtimeSession struct {
	ID           string
	ProviderID   string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Active       bool
	ClientSecret string
	Instructions string
	Config       RealtimeSessionConfig
}

// RealtimeSessionConfig holds configuration for realtime sessions.
// This is the wire-level shape a provider needs; the per-leg policy that
// produces it lives in the translation package.
type RealtimeSessionConfig struct {
	Model             string
	Voice             string
	Temperature       float64
	MaxResponseTokens int
	InputAudioFormat  string  // "pcm16" or "g711_ulaw"
	OutputAudioFormat string  // "pcm16" or "g711_ulaw"
	TurnDetection     string  // "server_vad" or "none"
	VADThreshold      float64 // only meaningful with server_vad
	PrefixPaddingMs   int
	SilenceDurationMs int
}

// RealtimeProvider defines the interface a translation engine must satisfy
type RealtimeProvider interface {
	// CreateRealtimeSession creates a new realtime session
	CreateRealtimeSession(ctx context.Context, config RealtimeSessionConfig, instructions string) (*RealtimeSession, error)

	// ConnectSession establishes the streaming connection for a session
	ConnectSession(ctx context.Context, session *RealtimeSession) (Connection, error)

	// ValidateSession checks if a session is still usable
	ValidateSession(session *RealtimeSession) bool
}

// Connection represents a unified duplex connection (WebSocket wrapper)
type Connection interface {
	// Send sends a message to the connection. Typically JSON text for these protocols.
	Send(data []byte) error

	// Read reads a message from the connection.
	// Message type matches websocket.TextMessage or websocket.BinaryMessage.
	Read() (int, []byte, error)

	// Close closes the connection
	Close() error
}

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string
	Content string
}

// ChatConfig holds configuration for chat completions
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatResult is the outcome of a chat completion, including token usage so
// callers can account for cost
type ChatResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// ChatProvider defines the interface for text-to-text completions
// (used by the guardrail fallback stage)
type ChatProvider interface {
	ChatCompletion(ctx context.Context, messages []ChatMessage, config ChatConfig) (ChatResult, error)
}
