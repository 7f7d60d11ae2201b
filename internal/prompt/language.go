package prompt

import (
	"fmt"
	"strings"
)

// LanguageDirective returns the fixed directive for a language, matched
// case-insensitively. Unlisted languages get a generated fallback naming the
// language so the model still switches.
func LanguageDirective(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return tables.LanguageDirectives["english"]
	}
	if d, ok := tables.LanguageDirectives[lang]; ok {
		return d
	}
	return fmt.Sprintf("Always respond in %s. If you are unsure of a phrase, keep it simple rather than switching languages.", strings.TrimSpace(language))
}
