package chat

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/llm"
	"github.com/emberhq/companion/internal/notify"
)

const scenarioGenerationPrompt = `You write roleplay scenarios for an AI companion.
Given the character and the conversation so far, propose three distinct scenario
premises the pair could play out. Respond with JSON only:
{"scenarios": ["...", "...", "..."]}
Each premise is one or two sentences, written in second person.`

type scenarioOutput struct {
	Scenarios []string `json:"scenarios"`
}

// maybeGenerateScenario runs at most once per session. The generated flag is
// set even on failure, so a session that hit a provider error does not retry
// scenario generation on every subsequent turn.
func (s *Service) maybeGenerateScenario(ctx context.Context, pc *pipelineContext) {
	sess := pc.session
	if !pc.resolved.ScenariosEnabled || sess.ScenarioGenerated || sess.CurrentScenario != "" {
		return
	}

	defer func() {
		if err := s.repo.MarkScenarioGenerated(ctx, sess.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("scenario flag persist failed")
		}
		sess.ScenarioGenerated = true
	}()

	raw, err := s.classify(ctx, pc, scenarioGenerationPrompt)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("scenario generation failed")
		return
	}
	var out scenarioOutput
	if err := llm.ParseStructured(raw, &out); err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("scenario parse failed")
		return
	}
	if len(out.Scenarios) == 0 {
		return
	}

	current := out.Scenarios[0]
	if err := s.repo.SetScenario(ctx, sess.SessionID, current, out.Scenarios); err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("scenario persist failed")
		return
	}
	sess.CurrentScenario = current
	sess.AvailableScenarios = out.Scenarios

	if err := s.notifier.Send(ctx, pc.user.ID, notify.EventScenarioReady, map[string]any{
		"sessionId": sess.SessionID,
		"scenarios": out.Scenarios,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", pc.user.ID).Msg("scenario notification failed")
	}
}

// SelectScenario switches the session to one of its available scenarios.
func (s *Service) SelectScenario(ctx context.Context, userID uint64, sessionID, scenario string) error {
	sess, err := s.ValidateSessionOwner(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	return s.repo.SetScenario(ctx, sessionID, scenario, sess.AvailableScenarios)
}
