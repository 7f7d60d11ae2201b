package prompt

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed prompt_data.yaml
var promptData []byte

// directiveTables holds the immutable instruction data loaded at process start.
type directiveTables struct {
	StyleVariants            []string                     `yaml:"styleVariants"`
	FormatVariants           []string                     `yaml:"formatVariants"`
	NSFWRelationships        []string                     `yaml:"nsfwRelationships"`
	RelationshipInstructions map[string]map[string]string `yaml:"relationshipInstructions"`
	NSFWAddendum             string                       `yaml:"nsfwAddendum"`
	LanguageDirectives       map[string]string            `yaml:"languageDirectives"`
}

var tables = mustLoadTables()

func mustLoadTables() *directiveTables {
	var t directiveTables
	if err := yaml.Unmarshal(promptData, &t); err != nil {
		panic(fmt.Sprintf("prompt: parse embedded directive tables: %v", err))
	}
	if len(t.StyleVariants) == 0 || len(t.FormatVariants) == 0 {
		panic("prompt: embedded directive tables incomplete")
	}
	return &t
}

func isNSFWRelationship(relType string) bool {
	for _, r := range tables.NSFWRelationships {
		if r == relType {
			return true
		}
	}
	return false
}
