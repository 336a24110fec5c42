package translation

import (
	"fmt"
	"reflect"
	"testing"
)

var testLanguages = []string{"en", "es", "fr", "de", "ja", "ko", "zh"}
var testModes = []CallMode{ModeVoiceToVoice, ModeAgentPushToTalk}

func TestBuildLegConfigDeterministic(t *testing.T) {
	for _, mode := range testModes {
		for _, src := range testLanguages {
			for _, tgt := range testLanguages {
				if src == tgt {
					continue
				}
				for _, role := range []Role{RoleA, RoleB} {
					name := fmt.Sprintf("%s_%s_%s_to_%s", role, mode, src, tgt)
					t.Run(name, func(t *testing.T) {
						first := BuildLegConfig(role, mode, src, tgt, "instructions", DefaultLegTuning())
						second := BuildLegConfig(role, mode, src, tgt, "instructions", DefaultLegTuning())
						if !reflect.DeepEqual(first, second) {
							t.Errorf("BuildLegConfig is not deterministic:\n%+v\n%+v", first, second)
						}
					})
				}
			}
		}
	}
}

func TestBuildLegConfigVoiceSelection(t *testing.T) {
	wantVoices := map[string]string{
		"en": "alloy",
		"es": "echo",
		"fr": "shimmer",
		"de": "verse",
		"ja": "coral",
		"ko": "sage",
		"zh": "ballad",
	}

	for lang, want := range wantVoices {
		t.Run(lang, func(t *testing.T) {
			if got := VoiceForLanguage(lang); got != want {
				t.Errorf("VoiceForLanguage(%q) = %q, want %q", lang, got, want)
			}
		})
	}

	t.Run("unknown_language_falls_back", func(t *testing.T) {
		if got := VoiceForLanguage("xx"); got != defaultVoice {
			t.Errorf("VoiceForLanguage(xx) = %q, want default %q", got, defaultVoice)
		}
	})

	t.Run("voice_keyed_to_output_language", func(t *testing.T) {
		// A local English speaker calling a Korean speaker: leg A speaks
		// Korean toward the phone, leg B speaks English toward the client.
		legA := BuildLegConfig(RoleA, ModeVoiceToVoice, "en", "ko", "", DefaultLegTuning())
		legB := BuildLegConfig(RoleB, ModeVoiceToVoice, "en", "ko", "", DefaultLegTuning())
		if legA.Voice != "sage" {
			t.Errorf("leg A voice = %q, want sage (Korean output)", legA.Voice)
		}
		if legB.Voice != "alloy" {
			t.Errorf("leg B voice = %q, want alloy (English output)", legB.Voice)
		}
	})
}

func TestBuildLegConfigTurnDetection(t *testing.T) {
	t.Run("leg_a_automatic_in_voice_to_voice", func(t *testing.T) {
		cfg := BuildLegConfig(RoleA, ModeVoiceToVoice, "en", "es", "", DefaultLegTuning())
		if cfg.TurnDetection.Type != "server_vad" {
			t.Errorf("turn detection = %q, want server_vad", cfg.TurnDetection.Type)
		}
	})

	t.Run("leg_a_manual_in_push_to_talk", func(t *testing.T) {
		cfg := BuildLegConfig(RoleA, ModeAgentPushToTalk, "en", "es", "", DefaultLegTuning())
		if cfg.TurnDetection.Type != "none" {
			t.Errorf("turn detection = %q, want none", cfg.TurnDetection.Type)
		}
	})

	t.Run("leg_b_always_automatic", func(t *testing.T) {
		for _, mode := range testModes {
			cfg := BuildLegConfig(RoleB, mode, "en", "es", "", DefaultLegTuning())
			if cfg.TurnDetection.Type != "server_vad" {
				t.Errorf("mode %s: turn detection = %q, want server_vad", mode, cfg.TurnDetection.Type)
			}
			def := DefaultLegTuning()
			if cfg.TurnDetection.Threshold != def.VADThreshold ||
				cfg.TurnDetection.PrefixPaddingMs != def.PrefixPaddingMs ||
				cfg.TurnDetection.SilenceDurationMs != def.SilenceDurationMs {
				t.Errorf("mode %s: VAD parameters = %+v, want defaults", mode, cfg.TurnDetection)
			}
		}
	})
}

func TestBuildLegConfigDirections(t *testing.T) {
	legA := BuildLegConfig(RoleA, ModeAgentPushToTalk, "en", "ja", "", DefaultLegTuning())
	legB := BuildLegConfig(RoleB, ModeAgentPushToTalk, "en", "ja", "", DefaultLegTuning())

	if legA.SourceLanguage != "en" || legA.TargetLanguage != "ja" {
		t.Errorf("leg A direction = %s->%s, want en->ja", legA.SourceLanguage, legA.TargetLanguage)
	}
	if legB.SourceLanguage != "ja" || legB.TargetLanguage != "en" {
		t.Errorf("leg B direction = %s->%s, want ja->en", legB.SourceLanguage, legB.TargetLanguage)
	}

	// Leg A hears the client device and speaks to the phone network
	if legA.InputAudioFormat != formatClient || legA.OutputAudioFormat != formatTelephony {
		t.Errorf("leg A formats = %s/%s, want %s/%s",
			legA.InputAudioFormat, legA.OutputAudioFormat, formatClient, formatTelephony)
	}
	// Leg B hears the phone network and speaks to the client device
	if legB.InputAudioFormat != formatTelephony || legB.OutputAudioFormat != formatClient {
		t.Errorf("leg B formats = %s/%s, want %s/%s",
			legB.InputAudioFormat, legB.OutputAudioFormat, formatTelephony, formatClient)
	}

	if len(legA.Modalities) != 2 {
		t.Errorf("modalities = %v, want text+audio", legA.Modalities)
	}
	if legA.Temperature != DefaultLegTuning().Temperature {
		t.Errorf("temperature = %v, want default %v", legA.Temperature, DefaultLegTuning().Temperature)
	}
}

func TestBuildLegConfigTuning(t *testing.T) {
	t.Run("operator_tuning_reaches_both_legs", func(t *testing.T) {
		tuning := LegTuning{
			Temperature:       0.65,
			MaxResponseTokens: 1024,
			VADThreshold:      0.7,
			PrefixPaddingMs:   200,
			SilenceDurationMs: 800,
		}
		legA := BuildLegConfig(RoleA, ModeVoiceToVoice, "en", "es", "", tuning)
		legB := BuildLegConfig(RoleB, ModeVoiceToVoice, "en", "es", "", tuning)

		for _, cfg := range []LegConfig{legA, legB} {
			if cfg.Temperature != 0.65 {
				t.Errorf("leg %s temperature = %v, want 0.65", cfg.Role, cfg.Temperature)
			}
			if cfg.MaxResponseTokens != 1024 {
				t.Errorf("leg %s max response tokens = %d, want 1024", cfg.Role, cfg.MaxResponseTokens)
			}
			if cfg.TurnDetection.Threshold != 0.7 ||
				cfg.TurnDetection.PrefixPaddingMs != 200 ||
				cfg.TurnDetection.SilenceDurationMs != 800 {
				t.Errorf("leg %s VAD parameters = %+v, want tuned values", cfg.Role, cfg.TurnDetection)
			}
		}
	})

	t.Run("unset_fields_fall_back_to_defaults", func(t *testing.T) {
		cfg := BuildLegConfig(RoleB, ModeVoiceToVoice, "en", "es", "", LegTuning{Temperature: 0.7})
		def := DefaultLegTuning()
		if cfg.Temperature != 0.7 {
			t.Errorf("temperature = %v, want 0.7", cfg.Temperature)
		}
		if cfg.MaxResponseTokens != def.MaxResponseTokens {
			t.Errorf("max response tokens = %d, want default %d", cfg.MaxResponseTokens, def.MaxResponseTokens)
		}
		if cfg.TurnDetection.Threshold != def.VADThreshold {
			t.Errorf("vad threshold = %v, want default %v", cfg.TurnDetection.Threshold, def.VADThreshold)
		}
	})
}
