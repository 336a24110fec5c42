package guardrail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/voicebridge/relay/internal/ai"
	"github.com/voicebridge/relay/internal/cost"
	"github.com/voicebridge/relay/pkg/logger"
)

// stubChat is a scripted ai.ChatProvider for exercising the fallback stage
type stubChat struct {
	result ai.ChatResult
	err    error
	block  bool // wait for ctx cancellation instead of answering
	calls  int
}

func (s *stubChat) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (ai.ChatResult, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return ai.ChatResult{}, ctx.Err()
	}
	return s.result, s.err
}

func newTestFilter(cfg Config, chat ai.ChatProvider) *Filter {
	return NewFilter(cfg, chat, logger.NewNop())
}

func TestFilterDisabled(t *testing.T) {
	f := newTestFilter(Config{Enabled: false}, nil)
	v := f.Check(context.Background(), "whatever the fuck", "en", nil)
	if !v.Passed {
		t.Error("disabled filter must pass everything")
	}
	if len(v.Issues) != 0 {
		t.Errorf("disabled filter reported %d issues, want 0", len(v.Issues))
	}
}

func TestFilterBannedTerm(t *testing.T) {
	chat := &stubChat{
		// Fallback rejects too; banned text stays dropped
		result: ai.ChatResult{Content: `{"passed": false, "corrected": "", "reason": "profanity"}`},
	}
	f := newTestFilter(Config{Enabled: true, FallbackTimeout: time.Second}, chat)

	v := f.Check(context.Background(), "this is fucking broken, gonna fix it", "en", nil)
	if v.Passed {
		t.Error("banned term must fail the utterance")
	}
	if v.Corrected != "" {
		t.Errorf("banned-term verdict carried corrected text %q, want none", v.Corrected)
	}

	found := false
	for _, issue := range v.Issues {
		if issue.Type == IssueBannedTerm && issue.Severity == SeverityHigh {
			found = true
		}
		if issue.Type == IssueInformalSpeech {
			t.Error("banned-term hit must short-circuit informal pattern checks")
		}
	}
	if !found {
		t.Errorf("issues = %+v, want a high-severity banned_term issue", v.Issues)
	}
}

func TestFilterInformalSpeech(t *testing.T) {
	f := newTestFilter(Config{Enabled: true, FallbackTimeout: time.Second}, nil)

	v := f.Check(context.Background(), "I'm gonna call you back", "en", nil)
	if !v.Passed {
		t.Error("informal speech alone must still pass")
	}
	if v.Corrected == "" {
		t.Fatal("informal hit must produce a corrected string")
	}
	if v.Corrected == "I'm gonna call you back" {
		t.Error("corrected text must differ from the input")
	}
	if !strings.Contains(v.Corrected, "going to") {
		t.Errorf("Corrected = %q, want 'gonna' rewritten to 'going to'", v.Corrected)
	}

	var medium int
	for _, issue := range v.Issues {
		if issue.Type == IssueInformalSpeech && issue.Severity == SeverityMedium {
			medium++
		}
	}
	if medium != 1 {
		t.Errorf("got %d medium informal_speech issues, want 1", medium)
	}
}

func TestFilterPoliteEndingAdvisory(t *testing.T) {
	f := newTestFilter(Config{Enabled: true, FallbackTimeout: time.Second}, nil)

	t.Run("missing_suffix_is_low_severity_only", func(t *testing.T) {
		v := f.Check(context.Background(), "안녕", "ko", nil)
		if !v.Passed {
			t.Error("missing polite ending must not fail the utterance")
		}
		found := false
		for _, issue := range v.Issues {
			if issue.Type == IssueMissingPolite {
				if issue.Severity != SeverityLow {
					t.Errorf("severity = %s, want low", issue.Severity)
				}
				found = true
			}
		}
		if !found {
			t.Errorf("issues = %+v, want missing_polite_ending advisory", v.Issues)
		}
	})

	t.Run("polite_suffix_present", func(t *testing.T) {
		v := f.Check(context.Background(), "안녕하세요. 잘 지내십니까", "ko", nil)
		for _, issue := range v.Issues {
			if issue.Type == IssueMissingPolite {
				t.Errorf("unexpected advisory on polite sentence: %+v", issue)
			}
		}
		if !v.Passed {
			t.Error("polite sentence must pass")
		}
	})
}

func TestFilterFallbackTimeoutFailsClosed(t *testing.T) {
	chat := &stubChat{block: true}
	f := newTestFilter(Config{
		Enabled:           true,
		AlwaysDoubleCheck: true,
		FallbackTimeout:   20 * time.Millisecond,
	}, chat)

	// Locally clean text, but double-check is on and the fallback never answers
	v := f.Check(context.Background(), "hello there", "en", nil)
	if v.Passed {
		t.Error("fallback timeout must fail closed even when local rules passed")
	}
	if v.Corrected != "" {
		t.Errorf("timed-out verdict carried corrected text %q, want none", v.Corrected)
	}

	found := false
	for _, issue := range v.Issues {
		if issue.Type == IssueFallbackTimeout {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %+v, want fallback_timeout", v.Issues)
	}
}

func TestFilterFallbackRewrite(t *testing.T) {
	chat := &stubChat{
		result: ai.ChatResult{
			Content:          `{"passed": true, "corrected": "Please stop doing that.", "reason": "softened"}`,
			PromptTokens:     40,
			CompletionTokens: 12,
		},
	}
	f := newTestFilter(Config{
		Enabled:         true,
		FallbackTimeout: time.Second,
	}, chat)
	costs := cost.NewTracker()

	// Banned term fails locally; the fallback supplies a safe rewrite
	v := f.Check(context.Background(), "stop that shit", "en", costs)
	if !v.Passed {
		t.Errorf("fallback rewrite should rescue the utterance, got %+v", v)
	}
	if v.Corrected != "Please stop doing that." {
		t.Errorf("Corrected = %q, want the fallback rewrite", v.Corrected)
	}
	if chat.calls != 1 {
		t.Errorf("fallback called %d times, want 1", chat.calls)
	}
	if got := costs.Snapshot().Guardrail; got != 52 {
		t.Errorf("guardrail tokens = %d, want 52", got)
	}
}

func TestFilterFallbackSkippedWhenLocalPasses(t *testing.T) {
	chat := &stubChat{result: ai.ChatResult{Content: `{"passed": true}`}}
	f := newTestFilter(Config{
		Enabled:         true,
		FallbackTimeout: time.Second,
	}, chat)

	v := f.Check(context.Background(), "good afternoon", "en", nil)
	if !v.Passed {
		t.Error("clean text must pass")
	}
	if chat.calls != 0 {
		t.Errorf("fallback called %d times, want 0 without double-check", chat.calls)
	}
}

func TestParseFallbackVerdict(t *testing.T) {
	t.Run("tolerates_surrounding_prose", func(t *testing.T) {
		v, err := parseFallbackVerdict("Sure, here's the verdict: {\"passed\": true, \"corrected\": \"\"} done")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !v.Passed {
			t.Error("Passed = false, want true")
		}
	})

	t.Run("no_json_is_error", func(t *testing.T) {
		if _, err := parseFallbackVerdict("I cannot evaluate this"); err == nil {
			t.Error("expected an error for JSON-free content")
		}
	})
}
