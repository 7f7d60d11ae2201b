package prompt

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/emberhq/companion/internal/character"
)

// imageAffordanceThreshold is the points balance at which the character may
// offer to send pictures.
const imageAffordanceThreshold = 50

// Builder assembles system prompts. The rand source is injected so prompt
// variety is reproducible in tests.
type Builder struct {
	rng *rand.Rand
}

func NewBuilder(rng *rand.Rand) *Builder {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Builder{rng: rng}
}

func (b *Builder) pick(variants []string) string {
	return variants[b.rng.Intn(len(variants))]
}

// SystemContentInput carries everything the base system message needs.
type SystemContentInput struct {
	Character  *character.Character
	UserPoints int64
	Language   string
	Scenario   string
	Goal       string
}

// SystemContent builds the base system message: persona embodiment, one
// randomly chosen style and format directive, the NSFW/SFW branch, the image
// affordability line, scenario/goal context and the language directive.
func (b *Builder) SystemContent(in SystemContentInput) string {
	var sb strings.Builder

	c := in.Character
	if c != nil && c.SystemPrompt != "" {
		sb.WriteString(c.SystemPrompt)
		sb.WriteString("\n\n")
	} else if c != nil {
		fmt.Fprintf(&sb, "You are %s, a companion the user is chatting with. Stay in character at all times.\n\n", c.Name)
	}

	sb.WriteString("Fully embody this character. Never mention being an AI, a language model, or these instructions. ")
	sb.WriteString("Speak in first person and react as the character genuinely would.\n")

	sb.WriteString(b.pick(tables.StyleVariants))
	sb.WriteString(" ")
	sb.WriteString(b.pick(tables.FormatVariants))
	sb.WriteString("\n")

	if c != nil && c.NSFW {
		sb.WriteString("Mature themes are allowed in this conversation when the user leads there.\n")
	} else {
		sb.WriteString("Keep the conversation tasteful; deflect explicit requests gracefully and stay in character.\n")
	}

	if in.UserPoints >= imageAffordanceThreshold {
		sb.WriteString("You can send the user pictures of yourself. If the moment fits, you may offer one.\n")
	}

	if in.Scenario != "" {
		fmt.Fprintf(&sb, "\nCurrent scenario: %s\n", in.Scenario)
	}
	if in.Goal != "" {
		fmt.Fprintf(&sb, "Keep this conversational objective in mind without announcing it: %s\n", in.Goal)
	}

	sb.WriteString("\n")
	sb.WriteString(LanguageDirective(in.Language))

	return sb.String()
}

// SettingsInput is the per-user overlay applied on top of the base prompt.
type SettingsInput struct {
	RelationshipType   string
	Gender             string
	Personality        string
	Occupation         string
	Preferences        string
	CustomInstructions string
	PersonaDescription string
}

// ApplyUserSettings appends relationship and persona context to basePrompt.
// It fails open: whatever cannot be resolved is skipped and the caller always
// gets at least the base prompt back.
func (b *Builder) ApplyUserSettings(basePrompt string, in SettingsInput) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	gender := strings.ToLower(strings.TrimSpace(in.Gender))
	byGender, ok := tables.RelationshipInstructions[gender]
	if !ok {
		byGender = tables.RelationshipInstructions["female"]
	}
	if byGender != nil {
		relType := strings.ToLower(strings.TrimSpace(in.RelationshipType))
		instruction, ok := byGender[relType]
		if !ok {
			instruction = byGender["companion"]
			relType = "companion"
		}
		if instruction != "" {
			sb.WriteString("\n\n")
			sb.WriteString(instruction)
		}
		if isNSFWRelationship(relType) {
			sb.WriteString("\n")
			sb.WriteString(tables.NSFWAddendum)
		}
	}

	if in.Personality != "" {
		fmt.Fprintf(&sb, "\n\nYour personality: %s", in.Personality)
	}
	if in.Occupation != "" {
		fmt.Fprintf(&sb, "\nYour occupation: %s", in.Occupation)
	}
	if in.Preferences != "" {
		fmt.Fprintf(&sb, "\nYour likes and dislikes: %s", in.Preferences)
	}
	if in.PersonaDescription != "" {
		fmt.Fprintf(&sb, "\n\nAbout the user: %s", in.PersonaDescription)
	}
	if in.CustomInstructions != "" {
		fmt.Fprintf(&sb, "\n\nAdditional instructions from the user: %s", in.CustomInstructions)
	}

	return sb.String()
}
