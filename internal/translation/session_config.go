package translation

import (
	"github.com/voicebridge/relay/internal/ai"
)

// TurnDetectionPolicy describes when a leg starts treating incoming audio as
// a speech turn
type TurnDetectionPolicy struct {
	Type              string  // "server_vad" or "none"
	Threshold         float64 // only meaningful with server_vad
	PrefixPaddingMs   int
	SilenceDurationMs int
}

// LegConfig is the full session configuration for one translation leg
type LegConfig struct {
	Role              Role
	SourceLanguage    string // language the leg listens to
	TargetLanguage    string // language the leg speaks
	Modalities        []string
	Instructions      string
	Voice             string
	InputAudioFormat  string
	OutputAudioFormat string
	TurnDetection     TurnDetectionPolicy
	Temperature       float64
	MaxResponseTokens int
}

// Audio format constants. The telephony side speaks 8 kHz mu-law; the client
// device speaks 24 kHz PCM.
const (
	formatTelephony = "g711_ulaw"
	formatClient    = "pcm16"
)

// LegTuning carries the operator-tunable session parameters shared by both
// legs: decoding temperature, the response token cap, and the voice activity
// detection settings applied wherever a leg uses server_vad
type LegTuning struct {
	Temperature       float64
	MaxResponseTokens int
	VADThreshold      float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

// DefaultLegTuning returns the tuning used when the operator leaves the
// translation section of the configuration at its defaults
func DefaultLegTuning() LegTuning {
	return LegTuning{
		Temperature:       0.8,
		MaxResponseTokens: 4096,
		VADThreshold:      0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}

// withDefaults fills unset tuning fields so a partially populated struct
// never produces a session with a zero temperature or zero-width VAD
func (t LegTuning) withDefaults() LegTuning {
	def := DefaultLegTuning()
	if t.Temperature == 0 {
		t.Temperature = def.Temperature
	}
	if t.MaxResponseTokens == 0 {
		t.MaxResponseTokens = def.MaxResponseTokens
	}
	if t.VADThreshold == 0 {
		t.VADThreshold = def.VADThreshold
	}
	if t.PrefixPaddingMs == 0 {
		t.PrefixPaddingMs = def.PrefixPaddingMs
	}
	if t.SilenceDurationMs == 0 {
		t.SilenceDurationMs = def.SilenceDurationMs
	}
	return t
}

// voiceTable maps a leg's output language to its synthesized voice
var voiceTable = map[string]string{
	"en": "alloy",
	"es": "echo",
	"fr": "shimmer",
	"de": "verse",
	"ja": "coral",
	"ko": "sage",
	"zh": "ballad",
}

// defaultVoice is used for output languages without a table entry
const defaultVoice = "alloy"

// VoiceForLanguage returns the synthesized voice keyed to the given output
// language
func VoiceForLanguage(lang string) string {
	if voice, ok := voiceTable[lang]; ok {
		return voice
	}
	return defaultVoice
}

// BuildLegConfig maps (role, call mode, language pair, instructions, tuning)
// to a leg's session configuration. It is deterministic and side-effect-free.
//
// Leg A (local user -> remote): listens to sourceLang, speaks targetLang
// toward the telephony side. Turn detection is automatic in voice-to-voice
// mode and manual otherwise - the orchestrator's push-to-talk gate supplies
// the trigger.
//
// Leg B (remote -> local user): listens to targetLang, speaks sourceLang
// toward the client. Always uses automatic voice-activity detection.
func BuildLegConfig(role Role, mode CallMode, sourceLang, targetLang, instructions string, tuning LegTuning) LegConfig {
	tuning = tuning.withDefaults()
	serverVAD := TurnDetectionPolicy{
		Type:              "server_vad",
		Threshold:         tuning.VADThreshold,
		PrefixPaddingMs:   tuning.PrefixPaddingMs,
		SilenceDurationMs: tuning.SilenceDurationMs,
	}

	cfg := LegConfig{
		Role:              role,
		Modalities:        []string{"text", "audio"},
		Instructions:      instructions,
		Temperature:       tuning.Temperature,
		MaxResponseTokens: tuning.MaxResponseTokens,
	}

	switch role {
	case RoleA:
		cfg.SourceLanguage = sourceLang
		cfg.TargetLanguage = targetLang
		cfg.InputAudioFormat = formatClient
		cfg.OutputAudioFormat = formatTelephony
		if mode == ModeVoiceToVoice {
			cfg.TurnDetection = serverVAD
		} else {
			cfg.TurnDetection = TurnDetectionPolicy{Type: "none"}
		}
	case RoleB:
		cfg.SourceLanguage = targetLang
		cfg.TargetLanguage = sourceLang
		cfg.InputAudioFormat = formatTelephony
		cfg.OutputAudioFormat = formatClient
		cfg.TurnDetection = serverVAD
	}

	cfg.Voice = VoiceForLanguage(cfg.TargetLanguage)
	return cfg
}

// sessionConfig converts a LegConfig into the provider wire shape
func (c LegConfig) sessionConfig(model string) ai.RealtimeSessionConfig {
	return ai.RealtimeSessionConfig{
		Model:             model,
		Voice:             c.Voice,
		Temperature:       c.Temperature,
		MaxResponseTokens: c.MaxResponseTokens,
		InputAudioFormat:  c.InputAudioFormat,
		OutputAudioFormat: c.OutputAudioFormat,
		TurnDetection:     c.TurnDetection.Type,
		VADThreshold:      c.TurnDetection.Threshold,
		PrefixPaddingMs:   c.TurnDetection.PrefixPaddingMs,
		SilenceDurationMs: c.TurnDetection.SilenceDurationMs,
	}
}
