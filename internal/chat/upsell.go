package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/llm"
)

const (
	upsellConfidenceFloor = 60
	upsellCooldown        = 24 * time.Hour
	upsellWindowTurns     = 6
)

const upsellDetectionPrompt = `You detect moments where a free user of an AI
companion app would genuinely benefit from the premium tier. Premium unlocks
stronger models, unlimited images and voice replies. Given the recent
conversation, respond with JSON only:
{"opportunity": true|false, "kind": "images|models|voice|none", "confidence": 0-100}
Only report an opportunity when the user is visibly running into a limit.`

type upsellDetection struct {
	Opportunity bool   `json:"opportunity"`
	Kind        string `json:"kind"`
	Confidence  int    `json:"confidence"`
}

// detectUpsell returns a one-turn system addendum nudging the companion to
// mention premium, or empty. Premium users and recently-nudged users are
// skipped before any model call is made.
func (s *Service) detectUpsell(ctx context.Context, pc *pipelineContext) string {
	if pc.user.IsPremium() {
		return ""
	}
	recent, err := s.repo.HasRecentUpsellEvent(ctx, pc.user.ID, time.Now().Add(-upsellCooldown))
	if err != nil {
		log.Warn().Err(err).Uint64("user_id", pc.user.ID).Msg("upsell cooldown lookup failed")
		return ""
	}
	if recent {
		return ""
	}
	if len(recentTranscript(pc.history, upsellWindowTurns)) == 0 {
		return ""
	}

	raw, err := s.classify(ctx, pc, upsellDetectionPrompt)
	if err != nil {
		log.Warn().Err(err).Str("session_id", pc.session.SessionID).Msg("upsell detection failed")
		return ""
	}
	var det upsellDetection
	if err := llm.ParseStructured(raw, &det); err != nil {
		log.Warn().Err(err).Str("session_id", pc.session.SessionID).Msg("upsell parse failed")
		return ""
	}
	if !det.Opportunity || det.Confidence < upsellConfidenceFloor || det.Kind == "" || det.Kind == "none" {
		return ""
	}

	if err := s.repo.RecordUpsellEvent(ctx, &UpsellEvent{
		UserID:     pc.user.ID,
		SessionID:  pc.session.SessionID,
		Kind:       det.Kind,
		Confidence: det.Confidence,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", pc.user.ID).Msg("upsell event persist failed")
		return ""
	}

	return "If it fits naturally, mention once that the premium plan would remove the limit the user just ran into (" + det.Kind + "). Keep it to a single casual sentence and never repeat it."
}
