package translation

import (
	"strings"
	"testing"
	"time"

	"github.com/voicebridge/relay/internal/config"
	"github.com/voicebridge/relay/internal/guardrail"
	"github.com/voicebridge/relay/pkg/logger"
)

func newTestManager(t *testing.T, maxConcurrent int) (*Manager, *fakeStore) {
	t.Helper()
	log := logger.NewNop()
	cfg := &config.Config{
		OpenAI: config.OpenAIConfig{RealtimeModel: "test-model"},
		Translation: config.TranslationConfig{
			SetupTimeoutSecs:  5,
			LookbackWindowMs:  600,
			ChunkMs:           100,
			ReconnectWindowMs: 30000,
		},
		Calls: config.CallsConfig{
			MaxDurationSecs:      600,
			WarningThresholdSecs: 540,
			IdleTimeoutSecs:      90,
			MaxConcurrent:        maxConcurrent,
		},
	}
	store := &fakeStore{}
	filter := guardrail.NewFilter(guardrail.Config{}, nil, log)
	return NewManager(newFakeProvider(), filter, store, cfg, log), store
}

func TestManagerStartCall(t *testing.T) {
	valid := StartCallRequest{
		PhoneNumber: "+15550100",
		SourceLang:  "en",
		TargetLang:  "es",
		Mode:        ModeVoiceToVoice,
	}

	t.Run("registers a dialing call", func(t *testing.T) {
		m, _ := newTestManager(t, 4)
		orch, err := m.StartCall(valid)
		if err != nil {
			t.Fatalf("StartCall: %v", err)
		}

		call := orch.Snapshot()
		if call.State != StateDialing {
			t.Errorf("state = %s, want %s", call.State, StateDialing)
		}
		if call.SourceLang != "en" || call.TargetLang != "es" {
			t.Errorf("languages = %s/%s, want en/es", call.SourceLang, call.TargetLang)
		}

		got, ok := m.Get(call.ID)
		if !ok || got != orch {
			t.Error("Get did not return the registered orchestrator")
		}
		if len(m.List()) != 1 {
			t.Errorf("List returned %d calls, want 1", len(m.List()))
		}
	})

	t.Run("defaults to voice-to-voice mode", func(t *testing.T) {
		m, _ := newTestManager(t, 4)
		req := valid
		req.Mode = ""
		orch, err := m.StartCall(req)
		if err != nil {
			t.Fatalf("StartCall: %v", err)
		}
		if mode := orch.Snapshot().Mode; mode != ModeVoiceToVoice {
			t.Errorf("mode = %s, want %s", mode, ModeVoiceToVoice)
		}
	})

	t.Run("applies translation tuning to the legs", func(t *testing.T) {
		m, _ := newTestManager(t, 4)
		m.cfg.Translation.Temperature = 0.72
		m.cfg.Translation.MaxResponseTokens = 2048
		m.cfg.Translation.VADThreshold = 0.6
		m.cfg.Translation.PrefixPaddingMs = 250
		m.cfg.Translation.SilenceDurationMs = 700

		orch, err := m.StartCall(valid)
		if err != nil {
			t.Fatalf("StartCall: %v", err)
		}
		for _, leg := range []*Leg{orch.legA, orch.legB} {
			cfg := leg.Config()
			if cfg.Temperature != 0.72 {
				t.Errorf("leg %s temperature = %v, want 0.72", cfg.Role, cfg.Temperature)
			}
			if cfg.MaxResponseTokens != 2048 {
				t.Errorf("leg %s max response tokens = %d, want 2048", cfg.Role, cfg.MaxResponseTokens)
			}
		}
		vad := orch.legB.Config().TurnDetection
		if vad.Threshold != 0.6 || vad.PrefixPaddingMs != 250 || vad.SilenceDurationMs != 700 {
			t.Errorf("leg B VAD parameters = %+v, want configured values", vad)
		}
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		m, _ := newTestManager(t, 4)
		bad := []struct {
			name   string
			mutate func(*StartCallRequest)
		}{
			{"missing phone number", func(r *StartCallRequest) { r.PhoneNumber = "" }},
			{"unsupported source", func(r *StartCallRequest) { r.SourceLang = "xx" }},
			{"unsupported target", func(r *StartCallRequest) { r.TargetLang = "xx" }},
			{"identical languages", func(r *StartCallRequest) { r.TargetLang = "en" }},
			{"unknown mode", func(r *StartCallRequest) { r.Mode = "half-duplex" }},
		}
		for _, tc := range bad {
			t.Run(tc.name, func(t *testing.T) {
				req := valid
				tc.mutate(&req)
				if _, err := m.StartCall(req); err == nil {
					t.Error("StartCall accepted an invalid request")
				}
			})
		}
	})

	t.Run("enforces the concurrency cap", func(t *testing.T) {
		m, _ := newTestManager(t, 1)
		if _, err := m.StartCall(valid); err != nil {
			t.Fatalf("first StartCall: %v", err)
		}
		_, err := m.StartCall(valid)
		if err == nil {
			t.Fatal("second StartCall succeeded past the cap")
		}
		if !strings.Contains(err.Error(), "concurrent") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("ended calls leave the registry", func(t *testing.T) {
		m, _ := newTestManager(t, 1)
		orch, err := m.StartCall(valid)
		if err != nil {
			t.Fatalf("StartCall: %v", err)
		}

		if err := m.End(orch.Snapshot().ID); err != nil {
			t.Fatalf("End: %v", err)
		}
		<-orch.Done()

		waitFor(t, time.Second, "registry cleanup", func() bool {
			_, ok := m.Get(orch.Snapshot().ID)
			return !ok
		})

		// The slot frees up for a new call
		if _, err := m.StartCall(valid); err != nil {
			t.Errorf("StartCall after cleanup: %v", err)
		}
	})

	t.Run("ending an unknown call fails", func(t *testing.T) {
		m, _ := newTestManager(t, 4)
		if err := m.End("call_missing"); err == nil {
			t.Error("End accepted an unknown call ID")
		}
	})
}
