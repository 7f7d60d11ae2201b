package chat

import (
	"context"
	"fmt"

	"github.com/emberhq/companion/internal/llm"
	"github.com/emberhq/companion/internal/prompt"
)

const suggestionsPrompt = `You write reply suggestions for the user of an AI
companion chat. Given the conversation, propose three short messages the user
could plausibly send next, in the user's voice. %s Respond with JSON only:
{"suggestions": ["...", "...", "..."]}`

type suggestionsOutput struct {
	Suggestions []string `json:"suggestions"`
}

// Suggest produces up to three candidate user replies for the session. The
// suggestions follow the session's preferred language the same way completions
// do.
func (s *Service) Suggest(ctx context.Context, userID uint64, sessionID string) ([]string, error) {
	sess, err := s.ValidateSessionOwner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.settings.Resolve(ctx, userID, sess.CharacterID)
	if err != nil {
		return nil, err
	}
	if !resolved.SuggestionsEnabled {
		return nil, nil
	}

	history, err := s.repo.ListRecentMessagesAsc(ctx, sessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	turns := recentTranscript(history, 8)
	if len(turns) == 0 {
		return nil, nil
	}

	language := sess.PreferredLanguage
	if language == "" {
		language = resolved.PreferredLanguage
	}
	system := fmt.Sprintf(suggestionsPrompt, prompt.LanguageDirective(language))

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	msgs := append([]llm.Message{{Role: RoleSystem, Content: system}}, turns...)
	raw, err := s.completer.Complete(ctx, llm.CompleteRequest{
		Messages: msgs,
		Premium:  user.IsPremium(),
	})
	if err != nil {
		return nil, err
	}

	var out suggestionsOutput
	if err := llm.ParseStructured(raw, &out); err != nil {
		return nil, err
	}
	if len(out.Suggestions) > 3 {
		out.Suggestions = out.Suggestions[:3]
	}
	return out.Suggestions, nil
}

// SetPreferredLanguage pins the session's reply language.
func (s *Service) SetPreferredLanguage(ctx context.Context, userID uint64, sessionID, language string) error {
	if _, err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.repo.SetPreferredLanguage(ctx, sessionID, language)
}
