package prompts

import (
	"fmt"
	"strings"
	"text/template"
)

// languageNames maps supported ISO 639-1 codes to display names used inside
// the generated instructions
var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Mandarin Chinese",
}

// Params feed the instruction template for one translation leg
type Params struct {
	SourceLanguage string // ISO code of the speech the leg listens to
	TargetLanguage string // ISO code of the speech the leg produces
	Context        string // optional collected context about the call's purpose
}

const interpreterTemplate = `You are a professional simultaneous interpreter on a live phone call.
You hear speech in {{.Source}} and must render it in {{.Target}}.

Rules:
- Speak ONLY the {{.Target}} translation of what you hear. Never answer, comment, or add content of your own.
- Preserve the speaker's meaning, tone, and level of urgency.
- Use polite, formal register appropriate for speaking with a stranger on the phone.
- Keep numbers, names, dates, and addresses exactly as spoken.
- If an utterance is unintelligible, say the {{.Target}} equivalent of "I'm sorry, could you repeat that?" and nothing else.
{{- if .Context}}

Context for this call:
{{.Context}}
{{- end}}`

var interpreterTmpl = template.Must(template.New("interpreter").Parse(interpreterTemplate))

// Build produces the system instructions for one leg. It is a pure function:
// the relay core treats the result as opaque text.
func Build(p Params) (string, error) {
	source, ok := languageNames[p.SourceLanguage]
	if !ok {
		return "", fmt.Errorf("unsupported source language: %q", p.SourceLanguage)
	}
	target, ok := languageNames[p.TargetLanguage]
	if !ok {
		return "", fmt.Errorf("unsupported target language: %q", p.TargetLanguage)
	}

	var sb strings.Builder
	err := interpreterTmpl.Execute(&sb, struct {
		Source, Target, Context string
	}{Source: source, Target: target, Context: strings.TrimSpace(p.Context)})
	if err != nil {
		return "", fmt.Errorf("failed to render instructions: %w", err)
	}

	return sb.String(), nil
}

// Supported reports whether the given ISO code has a display name (and
// therefore a voice and instruction set)
func Supported(lang string) bool {
	_, ok := languageNames[lang]
	return ok
}

// LanguageName returns the display name for an ISO code, or the code itself
// when unknown
func LanguageName(lang string) string {
	if name, ok := languageNames[lang]; ok {
		return name
	}
	return lang
}
