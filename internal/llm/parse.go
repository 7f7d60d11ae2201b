package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseStructured extracts a JSON object from model output and unmarshals it.
// Models often wrap JSON in prose or code fences, so everything outside the
// outermost braces is sliced away first.
func ParseStructured(raw string, out any) error {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return fmt.Errorf("parse structured output: %w", err)
	}
	return nil
}
