package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server      ServerConfig      `toml:"server"`      // HTTP server settings
	Logging     LoggingConfig     `toml:"logging"`     // Application logging settings
	Storage     StorageConfig     `toml:"storage"`     // Data persistence settings
	Telephony   TelephonyConfig   `toml:"telephony"`   // Telephony gateway settings
	OpenAI      OpenAIConfig      `toml:"openai"`      // OpenAI service settings
	Gemini      GeminiConfig      `toml:"gemini"`      // Google Gemini service settings
	Translation TranslationConfig `toml:"translation"` // Translation session settings
	Guardrail   GuardrailConfig   `toml:"guardrail"`   // Content safety filter settings
	Calls       CallsConfig       `toml:"calls"`       // Call lifecycle policy settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for streaming endpoints)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLiteBasePath string `toml:"sqlite_base_path"` // Base path for SQLite database files (actual filename is generated as relay-YYYY-MM-DD.db)
	MaxCallsInAPI  int    `toml:"max_calls_in_api"` // Maximum number of call records to return from the /calls API
}

// TelephonyConfig contains telephony gateway configuration.
// The gateway delivers inbound call audio over a media-stream WebSocket and
// accepts outbound frames on the same connection; signaling specifics beyond
// the small event set (ringing/answered/completed) live on the gateway side.
type TelephonyConfig struct {
	AudioEncoding     string `toml:"audio_encoding"`      // Encoding of gateway media frames: "g711_ulaw" or "pcm16"
	SampleRate        int    `toml:"sample_rate"`         // Gateway audio sample rate in Hz (8000 for g711_ulaw)
	FrameMs           int    `toml:"frame_ms"`            // Duration of a single media frame in milliseconds
	AnswerTimeoutSecs int    `toml:"answer_timeout_secs"` // How long to wait for the remote party to answer before failing the call
}

// OpenAIConfig contains OpenAI service settings
type OpenAIConfig struct {
	APIKey        string `toml:"api_key"`        // OpenAI API key
	BaseURL       string `toml:"base_url"`       // Optional OpenAI base URL (e.g., for proxies). Defaults to https://api.openai.com
	RealtimeModel string `toml:"realtime_model"` // Realtime speech translation model (e.g., "gpt-4o-realtime-preview")
}

// GeminiConfig contains Google Gemini service settings
type GeminiConfig struct {
	APIKey string `toml:"api_key"` // Google AI API key (used when the guardrail fallback provider is "gemini")
}

// TranslationConfig contains settings for the two translation session legs
type TranslationConfig struct {
	Temperature       float64 `toml:"temperature"`         // Decoding temperature for both legs (OpenAI realtime requires >= 0.6)
	MaxResponseTokens int     `toml:"max_response_tokens"` // Cap on tokens per synthesized response (0 = provider default)
	VADThreshold      float64 `toml:"vad_threshold"`       // Voice activity detection threshold for Leg B (0.0-1.0)
	PrefixPaddingMs   int     `toml:"prefix_padding_ms"`   // Audio included before detected speech on Leg B, in milliseconds
	SilenceDurationMs int     `toml:"silence_duration_ms"` // Trailing silence that ends a turn on Leg B, in milliseconds
	SetupTimeoutSecs  int     `toml:"setup_timeout_secs"`  // Bounded timeout for establishing both legs during Connecting
	LookbackWindowMs  int     `toml:"lookback_window_ms"`  // Pre-speech ring buffer window for Leg A, in milliseconds
	ChunkMs           int     `toml:"chunk_ms"`            // Duration of one client audio chunk, in milliseconds
	ReconnectWindowMs int     `toml:"reconnect_window_ms"` // Two leg failures within this window are treated as fatal
}

// GuardrailConfig contains content safety filter settings
type GuardrailConfig struct {
	Enabled           bool   `toml:"enabled"`             // Master switch for guardrail checking
	AlwaysDoubleCheck bool   `toml:"always_double_check"` // Run the fallback model even when local rules pass
	FallbackProvider  string `toml:"fallback_provider"`   // "openai" or "gemini"
	FallbackModel     string `toml:"fallback_model"`      // Model used for the fallback stage (e.g., "gpt-4o-mini" or "gemini-2.0-flash")
	FallbackTimeoutMs int    `toml:"fallback_timeout_ms"` // Verdict deadline for the fallback stage; timeouts fail closed
}

// CallsConfig contains call lifecycle policy settings
type CallsConfig struct {
	MaxDurationSecs      int `toml:"max_duration_secs"`      // Hard call duration limit; reaching it transitions the call to Ending
	WarningThresholdSecs int `toml:"warning_threshold_secs"` // Elapsed time at which the one-time duration warning is emitted
	IdleTimeoutSecs      int `toml:"idle_timeout_secs"`      // Per-leg inbound silence after which the call ends
	MaxConcurrent        int `toml:"max_concurrent"`         // Maximum number of simultaneously active calls
}

// Load loads the configuration from the specified TOML file
func Load(path string) (*Config, error) {
	config := defaultConfig()

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	return config, nil
}

// LoadWithFallback loads configuration, searching a few well-known locations
// when no explicit path is given
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	candidates := []string{
		"configs/config.toml",
		"config.toml",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}

	return nil, fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// defaultConfig returns a config populated with default values, which the
// decoded file then overrides
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			Host:               "0.0.0.0",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSecs:    30,
			WriteTimeoutSecs:   0,
			IdleTimeoutSecs:    60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			SQLiteBasePath: "data",
			MaxCallsInAPI:  100,
		},
		Telephony: TelephonyConfig{
			AudioEncoding:     "g711_ulaw",
			SampleRate:        8000,
			FrameMs:           20,
			AnswerTimeoutSecs: 45,
		},
		OpenAI: OpenAIConfig{
			RealtimeModel: "gpt-4o-realtime-preview",
		},
		Translation: TranslationConfig{
			Temperature:       0.8,
			MaxResponseTokens: 4096,
			VADThreshold:      0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			SetupTimeoutSecs:  15,
			LookbackWindowMs:  600,
			ChunkMs:           100,
			ReconnectWindowMs: 30000,
		},
		Guardrail: GuardrailConfig{
			Enabled:           true,
			AlwaysDoubleCheck: false,
			FallbackProvider:  "openai",
			FallbackModel:     "gpt-4o-mini",
			FallbackTimeoutMs: 2500,
		},
		Calls: CallsConfig{
			MaxDurationSecs:      600,
			WarningThresholdSecs: 540,
			IdleTimeoutSecs:      90,
			MaxConcurrent:        4,
		},
	}
}

// Validate checks the configuration for invalid or inconsistent values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Telephony.AudioEncoding {
	case "g711_ulaw", "pcm16":
	default:
		return fmt.Errorf("invalid telephony audio encoding: %s", c.Telephony.AudioEncoding)
	}

	if c.Translation.ChunkMs <= 0 {
		return fmt.Errorf("translation chunk_ms must be positive, got %d", c.Translation.ChunkMs)
	}
	if c.Translation.LookbackWindowMs < c.Translation.ChunkMs {
		return fmt.Errorf("lookback_window_ms (%d) must be at least chunk_ms (%d)",
			c.Translation.LookbackWindowMs, c.Translation.ChunkMs)
	}
	if c.Translation.SetupTimeoutSecs <= 0 {
		return fmt.Errorf("setup_timeout_secs must be positive, got %d", c.Translation.SetupTimeoutSecs)
	}

	switch c.Guardrail.FallbackProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("invalid guardrail fallback provider: %s", c.Guardrail.FallbackProvider)
	}
	if c.Guardrail.Enabled && c.Guardrail.FallbackTimeoutMs <= 0 {
		return fmt.Errorf("guardrail fallback_timeout_ms must be positive when the guardrail is enabled")
	}

	if c.Calls.MaxDurationSecs <= 0 {
		return fmt.Errorf("max_duration_secs must be positive, got %d", c.Calls.MaxDurationSecs)
	}
	if c.Calls.WarningThresholdSecs >= c.Calls.MaxDurationSecs {
		return fmt.Errorf("warning_threshold_secs (%d) must be below max_duration_secs (%d)",
			c.Calls.WarningThresholdSecs, c.Calls.MaxDurationSecs)
	}
	if c.Calls.IdleTimeoutSecs <= 0 {
		return fmt.Errorf("idle_timeout_secs must be positive, got %d", c.Calls.IdleTimeoutSecs)
	}
	if c.Calls.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.Calls.MaxConcurrent)
	}

	return nil
}
