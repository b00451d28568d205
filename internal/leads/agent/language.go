package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// DefaultLanguage is assumed when neither the heuristic nor the provider can tell.
const DefaultLanguage = "ru"

const ukrainianLetters = "іїєґІЇЄҐ"

// guessLanguage handles the common cases without a provider call.
func guessLanguage(text string) (string, bool) {
	var cyrillic, ukrainian, latin, other bool
	for i, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic = true
			if strings.ContainsRune(ukrainianLetters, r) {
				ukrainian = true
			}
		case r < unicode.MaxASCII:
			if unicode.IsLetter(r) {
				latin = true
			}
		default:
			// Only the prefix counts, so a trailing emoji does not defeat the guess.
			if i < 100 && unicode.IsLetter(r) {
				other = true
			}
		}
	}
	switch {
	case ukrainian:
		return "uk", true
	case cyrillic:
		return "ru", true
	case latin && !other:
		return "en", true
	}
	return "", false
}

// normalizeLanguage turns a provider answer like `"De."` into a base tag.
func normalizeLanguage(answer string) (string, bool) {
	answer = strings.Trim(strings.TrimSpace(answer), `."'`)
	if answer == "" {
		return "", false
	}
	tag, err := language.Parse(answer)
	if err != nil {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No || base.String() == "und" {
		return "", false
	}
	return base.String(), true
}

// LanguageName returns the English display name of a base tag, e.g. "German".
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// DetectLanguage guesses the language of text, asking the provider only
// when the script heuristic is inconclusive. It reports false, with
// DefaultLanguage, when text has no letters to go on or detection failed.
func (g *Generator) DetectLanguage(ctx context.Context, leadID, text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return DefaultLanguage, false
	}
	if code, ok := guessLanguage(text); ok {
		return code, true
	}
	sample := []rune(text)
	if len(sample) > 200 {
		sample = sample[:200]
	}
	req := &model.LLMRequest{
		Model:    g.llm.Name(),
		Contents: []*genai.Content{genai.NewContentFromText(fmt.Sprintf(languagePrompt, string(sample)), genai.RoleUser)},
		Config:   &genai.GenerateContentConfig{MaxOutputTokens: 10},
	}
	answer, _, err := g.withRetry(ctx, leadID, req, g.maxAttempts)
	if err != nil {
		g.log.Warn("agent: language detection failed", "lead_id", leadID, "error", err)
		return DefaultLanguage, false
	}
	if code, ok := normalizeLanguage(answer); ok {
		return code, true
	}
	return DefaultLanguage, false
}
