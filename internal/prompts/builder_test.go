package prompts

import (
	"strings"
	"testing"
)

func TestBuild(t *testing.T) {
	t.Run("names both languages", func(t *testing.T) {
		out, err := Build(Params{SourceLanguage: "en", TargetLanguage: "ko"})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if !strings.Contains(out, "English") || !strings.Contains(out, "Korean") {
			t.Errorf("instructions missing language names:\n%s", out)
		}
		if strings.Contains(out, "Context for this call") {
			t.Error("context section rendered without context")
		}
	})

	t.Run("includes trimmed context when given", func(t *testing.T) {
		out, err := Build(Params{SourceLanguage: "es", TargetLanguage: "en", Context: "  Calling a pharmacy about a refill.  "})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if !strings.Contains(out, "Calling a pharmacy about a refill.") {
			t.Error("context text not rendered")
		}
		if strings.Contains(out, "  Calling") {
			t.Error("context was not trimmed")
		}
	})

	t.Run("rejects unsupported languages", func(t *testing.T) {
		if _, err := Build(Params{SourceLanguage: "xx", TargetLanguage: "en"}); err == nil {
			t.Error("unsupported source accepted")
		}
		if _, err := Build(Params{SourceLanguage: "en", TargetLanguage: "xx"}); err == nil {
			t.Error("unsupported target accepted")
		}
	})

	t.Run("is deterministic", func(t *testing.T) {
		p := Params{SourceLanguage: "ja", TargetLanguage: "fr", Context: "hotel booking"}
		first, err := Build(p)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		second, _ := Build(p)
		if first != second {
			t.Error("same params produced different instructions")
		}
	})
}

func TestSupported(t *testing.T) {
	for _, lang := range []string{"en", "es", "fr", "de", "ja", "ko", "zh"} {
		if !Supported(lang) {
			t.Errorf("Supported(%q) = false", lang)
		}
	}
	if Supported("tlh") {
		t.Error("Supported accepted an unknown code")
	}
}
