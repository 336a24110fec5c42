package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voicebridge/relay/internal/ai"
	"github.com/voicebridge/relay/internal/cost"
	"github.com/voicebridge/relay/pkg/logger"
)

// Config controls the filter's behavior
type Config struct {
	Enabled           bool
	AlwaysDoubleCheck bool          // run the fallback model even when local rules pass
	FallbackModel     string        // model used by the fallback stage
	FallbackTimeout   time.Duration // verdict deadline; expiry fails closed
}

// Filter applies the two-stage safety/formality check to translated text
// before it is allowed to reach synthesis. Stage one is a fast local rule
// pass; stage two consults a secondary text-evaluation model. A fallback that
// does not answer inside its timeout fails the utterance - dropping on
// timeout is a deliberate choice, passing would silently disable the filter
// under latency pressure.
type Filter struct {
	config Config
	chat   ai.ChatProvider
	logger *logger.Logger
}

// NewFilter creates a guardrail filter. chat may be nil when the filter is
// disabled.
func NewFilter(config Config, chat ai.ChatProvider, logger *logger.Logger) *Filter {
	return &Filter{
		config: config,
		chat:   chat,
		logger: logger.Named("guardrail"),
	}
}

// Enabled reports whether guardrail checking is active
func (f *Filter) Enabled() bool {
	return f.config.Enabled
}

// Check evaluates one utterance destined for the given target language.
// Token usage from the fallback stage is recorded on costs.
func (f *Filter) Check(ctx context.Context, text, targetLang string, costs *cost.Tracker) Verdict {
	if !f.config.Enabled {
		return Verdict{Passed: true}
	}

	verdict := f.checkLocal(text, targetLang)

	needFallback := !verdict.Passed || f.config.AlwaysDoubleCheck
	if !needFallback || f.chat == nil {
		return verdict
	}

	return f.checkFallback(ctx, text, targetLang, verdict, costs)
}

// checkLocal runs the synchronous rule stage: banned terms (high), informal
// patterns with formal replacements (medium), and the polite-ending advisory
// (low) for honorific-sensitive languages.
func (f *Filter) checkLocal(text, targetLang string) Verdict {
	verdict := Verdict{Passed: true}

	if term, found := containsBannedTerm(text, targetLang); found {
		verdict.Passed = false
		verdict.Issues = append(verdict.Issues, Issue{
			Type:        IssueBannedTerm,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("text contains banned term %q", term),
		})
		// No local correction for banned content
		return verdict
	}

	corrected := text
	for _, rule := range informalRules[targetLang] {
		if rule.pattern.MatchString(corrected) {
			corrected = rule.pattern.ReplaceAllString(corrected, rule.replacement)
			verdict.Issues = append(verdict.Issues, Issue{
				Type:        IssueInformalSpeech,
				Severity:    SeverityMedium,
				Description: rule.description,
			})
		}
	}
	if corrected != text {
		verdict.Corrected = corrected
	}

	spoken := text
	if verdict.Corrected != "" {
		spoken = verdict.Corrected
	}
	if applies, present := hasPoliteEnding(spoken, targetLang); applies && !present {
		verdict.Issues = append(verdict.Issues, Issue{
			Type:        IssueMissingPolite,
			Severity:    SeverityLow,
			Description: "sentence-final form lacks an expected polite suffix",
		})
	}

	return verdict
}

// fallbackVerdict is the JSON shape the fallback model is asked to produce
type fallbackVerdict struct {
	Passed    bool   `json:"passed"`
	Corrected string `json:"corrected"`
	Reason    string `json:"reason"`
}

const fallbackSystemPrompt = `You are a content safety and formality reviewer for a live phone interpreter.
Evaluate the user's text, which is about to be spoken aloud to a %s-speaking listener.
Reject profanity, slurs, and abusive language. Prefer polite, formal phrasing.
If the text can be made acceptable with a small rewrite, supply it.
Respond with a single JSON object and nothing else:
{"passed": true|false, "corrected": "<rewrite or empty>", "reason": "<short reason>"}`

// checkFallback consults the secondary model within the configured timeout.
// Any timeout or error fails closed.
func (f *Filter) checkFallback(ctx context.Context, text, targetLang string, local Verdict, costs *cost.Tracker) Verdict {
	fctx, cancel := context.WithTimeout(ctx, f.config.FallbackTimeout)
	defer cancel()

	messages := []ai.ChatMessage{
		{Role: "system", Content: fmt.Sprintf(fallbackSystemPrompt, targetLang)},
		{Role: "user", Content: text},
	}

	result, err := f.chat.ChatCompletion(fctx, messages, ai.ChatConfig{
		Model:       f.config.FallbackModel,
		Temperature: 0.0,
		MaxTokens:   512,
	})
	if err != nil {
		issueType := IssueFallbackFailed
		if errors.Is(err, context.DeadlineExceeded) || fctx.Err() != nil {
			issueType = IssueFallbackTimeout
		}
		f.logger.Warn("Guardrail fallback did not return a verdict, failing closed",
			logger.String("target_lang", targetLang),
			logger.Error(err))
		local.Passed = false
		local.Corrected = ""
		local.Issues = append(local.Issues, Issue{
			Type:        issueType,
			Severity:    SeverityHigh,
			Description: "fallback verdict unavailable; utterance dropped",
		})
		return local
	}

	if costs != nil {
		costs.AddGuardrail(int64(result.PromptTokens + result.CompletionTokens))
	}

	parsed, err := parseFallbackVerdict(result.Content)
	if err != nil {
		f.logger.Warn("Guardrail fallback returned an unparseable verdict, failing closed",
			logger.String("content", result.Content),
			logger.Error(err))
		local.Passed = false
		local.Corrected = ""
		local.Issues = append(local.Issues, Issue{
			Type:        IssueFallbackFailed,
			Severity:    SeverityHigh,
			Description: "fallback verdict unparseable; utterance dropped",
		})
		return local
	}

	final := Verdict{Passed: parsed.Passed, Issues: local.Issues}
	if !parsed.Passed {
		final.Corrected = ""
		final.Issues = append(final.Issues, Issue{
			Type:        IssueFallbackFailed,
			Severity:    SeverityHigh,
			Description: parsed.Reason,
		})
		return final
	}

	// Prefer the fallback's rewrite, then the local one
	if parsed.Corrected != "" && parsed.Corrected != text {
		final.Corrected = parsed.Corrected
	} else {
		final.Corrected = local.Corrected
	}
	return final
}

// parseFallbackVerdict extracts the JSON object from the model output,
// tolerating surrounding prose
func parseFallbackVerdict(content string) (fallbackVerdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || start >= end {
		return fallbackVerdict{}, fmt.Errorf("no JSON object in fallback response")
	}

	var verdict fallbackVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return fallbackVerdict{}, fmt.Errorf("failed to parse fallback verdict: %w", err)
	}
	return verdict, nil
}
