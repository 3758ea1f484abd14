package inference

import (
	"strings"
	"unicode"

	"cardgen/core"
)

// englishRenderHint is appended when the content is Cyrillic so any text the
// model draws onto the image stays renderable.
const englishRenderHint = " Render any text on the image in English."

// placeholders accepted in prompt templates.
const (
	placeholderPicture = "{picture}"
	placeholderStyle   = "{style}"
	placeholderSubject = "{subject}"
	placeholderContent = "{content}"
)

// BuildPrompt assembles the image prompt from the template parts and the
// user content. The style section is dropped when the content already names
// a style of its own, so the configured style never fights the user's.
func BuildPrompt(parts core.PromptConfig, content string) string {
	content = strings.TrimSpace(content)

	template := parts.TemplateWithStyle
	if MentionsStyle(content) {
		template = parts.TemplateNoStyle
	}

	prompt := strings.NewReplacer(
		placeholderPicture, parts.BasePicture,
		placeholderStyle, parts.Style,
		placeholderSubject, parts.Subject,
		placeholderContent, content,
	).Replace(template)

	if HasCyrillic(content) {
		prompt += englishRenderHint
	}
	return prompt
}

// MentionsStyle reports whether the content names an artistic style itself,
// in English or Russian.
func MentionsStyle(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "style") || strings.Contains(lower, "стил")
}

// HasCyrillic reports whether the string contains any Cyrillic rune.
func HasCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}
