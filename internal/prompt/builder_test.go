package prompt

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/emberhq/companion/internal/character"
)

func newTestBuilder() *Builder {
	return NewBuilder(rand.New(rand.NewSource(1)))
}

func TestLanguageDirectiveCaseInsensitive(t *testing.T) {
	upper := LanguageDirective("Japanese")
	lower := LanguageDirective("japanese")
	if upper != lower {
		t.Fatalf("expected identical directives, got %q vs %q", upper, lower)
	}
	if upper == "" {
		t.Fatalf("expected non-empty directive")
	}
}

func TestLanguageDirectiveFallbackContainsLanguageName(t *testing.T) {
	d := LanguageDirective("Swahili")
	if !strings.Contains(d, "Swahili") {
		t.Fatalf("fallback directive should name the language: %q", d)
	}
}

func TestSystemContentImageAffordanceGate(t *testing.T) {
	b := newTestBuilder()
	c := &character.Character{Name: "Mira", SystemPrompt: "You are Mira."}

	rich := b.SystemContent(SystemContentInput{Character: c, UserPoints: 50})
	if !strings.Contains(rich, "pictures") {
		t.Fatalf("expected image affordance at 50 points")
	}

	poor := b.SystemContent(SystemContentInput{Character: c, UserPoints: 49})
	if strings.Contains(poor, "pictures") {
		t.Fatalf("expected no image affordance below 50 points")
	}
}

func TestSystemContentNSFWBranch(t *testing.T) {
	b := newTestBuilder()

	nsfw := b.SystemContent(SystemContentInput{Character: &character.Character{Name: "Mira", NSFW: true}})
	if !strings.Contains(nsfw, "Mature themes are allowed") {
		t.Fatalf("expected NSFW branch")
	}

	sfw := b.SystemContent(SystemContentInput{Character: &character.Character{Name: "Mira"}})
	if !strings.Contains(sfw, "tasteful") {
		t.Fatalf("expected SFW branch")
	}
}

func TestSystemContentDeterministicWithSeed(t *testing.T) {
	c := &character.Character{Name: "Mira", SystemPrompt: "You are Mira."}
	in := SystemContentInput{Character: c}

	a := NewBuilder(rand.New(rand.NewSource(7))).SystemContent(in)
	b := NewBuilder(rand.New(rand.NewSource(7))).SystemContent(in)
	if a != b {
		t.Fatalf("same seed should produce identical prompts")
	}
}

func TestApplyUserSettingsRelationshipFallback(t *testing.T) {
	b := newTestBuilder()

	got := b.ApplyUserSettings("base", SettingsInput{
		RelationshipType: "astronaut", // not a known relationship
		Gender:           "female",
	})
	if !strings.HasPrefix(got, "base") {
		t.Fatalf("base prompt must be preserved")
	}
	if !strings.Contains(got, tables.RelationshipInstructions["female"]["companion"]) {
		t.Fatalf("expected companion fallback instruction, got %q", got)
	}
}

func TestApplyUserSettingsNSFWAddendum(t *testing.T) {
	b := newTestBuilder()

	for _, rel := range []string{"lover", "submissive", "dominant", "playmate", "intimate"} {
		got := b.ApplyUserSettings("base", SettingsInput{RelationshipType: rel, Gender: "male"})
		if !strings.Contains(got, "consenting adults") {
			t.Fatalf("expected NSFW addendum for %s", rel)
		}
	}

	got := b.ApplyUserSettings("base", SettingsInput{RelationshipType: "friend", Gender: "male"})
	if strings.Contains(got, "consenting adults") {
		t.Fatalf("friend relationship must not get the NSFW addendum")
	}
}

func TestApplyUserSettingsFailOpenOnUnknownGender(t *testing.T) {
	b := newTestBuilder()

	got := b.ApplyUserSettings("base", SettingsInput{RelationshipType: "lover", Gender: "unknown"})
	if !strings.HasPrefix(got, "base") {
		t.Fatalf("base prompt must be preserved: %q", got)
	}
}

func TestApplyUserSettingsAppendsContextInOrder(t *testing.T) {
	b := newTestBuilder()

	got := b.ApplyUserSettings("base", SettingsInput{
		RelationshipType:   "friend",
		Gender:             "female",
		Personality:        "cheerful",
		Occupation:         "barista",
		Preferences:        "rainy days",
		CustomInstructions: "call me Sam",
	})

	idxRel := strings.Index(got, tables.RelationshipInstructions["female"]["friend"])
	idxPers := strings.Index(got, "cheerful")
	idxOcc := strings.Index(got, "barista")
	idxCustom := strings.Index(got, "call me Sam")
	if !(idxRel >= 0 && idxRel < idxPers && idxPers < idxOcc && idxOcc < idxCustom) {
		t.Fatalf("settings sections out of order: %q", got)
	}
}
