package character

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/llm"
)

// Completer is the slice of the LLM client the generator needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompleteRequest) (string, error)
}

// Generator fills in missing persona fields for incomplete characters.
type Generator struct {
	repo      *Repo
	completer Completer
}

func NewGenerator(repo *Repo, completer Completer) *Generator {
	return &Generator{repo: repo, completer: completer}
}

type personaOutput struct {
	SystemPrompt       string `json:"system_prompt"`
	Personality        string `json:"personality"`
	ReferenceCharacter string `json:"reference_character"`
}

// Regenerate asks a model to produce the missing persona fields and persists
// them. Callers treat failure as degraded-continue: the turn proceeds with the
// incomplete character.
func (g *Generator) Regenerate(ctx context.Context, c *Character) (*Character, error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	sys := "You create persona definitions for companion chat characters. " +
		"Respond with a JSON object with keys system_prompt, personality and reference_character."
	user := fmt.Sprintf(
		"Character name: %s\nGender: %s\nTags: %s\nExisting personality notes: %s\n"+
			"Produce a vivid first-person persona system prompt, a personality summary, "+
			"and the name of a well-known fictional archetype this character resembles.",
		c.Name, c.Gender, c.Tags, c.Personality,
	)

	raw, err := g.completer.Complete(ctx, llm.CompleteRequest{
		Messages: []llm.Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, err
	}

	var out personaOutput
	if err := llm.ParseStructured(raw, &out); err != nil {
		return nil, err
	}
	if out.SystemPrompt == "" || out.ReferenceCharacter == "" {
		return nil, fmt.Errorf("generator: incomplete persona output")
	}
	if out.Personality == "" {
		out.Personality = c.Personality
	}

	if err := g.repo.UpdatePersona(ctx, c.ID, out.SystemPrompt, out.Personality, out.ReferenceCharacter); err != nil {
		return nil, err
	}

	log.Info().Uint64("character_id", c.ID).Msg("regenerated character persona")

	updated := *c
	updated.SystemPrompt = out.SystemPrompt
	updated.Personality = out.Personality
	updated.ReferenceCharacter = out.ReferenceCharacter
	return &updated, nil
}
