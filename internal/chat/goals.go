package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/llm"
	"github.com/emberhq/companion/internal/notify"
)

const goalCompletionConfidenceFloor = 70

const goalGenerationPrompt = `You design conversational goals for an AI companion.
Given the recent conversation, produce one achievable goal for the companion to
pursue over the next several messages. Respond with JSON only:
{"goal_type": "...", "completion_condition": "...", "difficulty": "easy|medium|hard", "estimated_messages": N, "reward_points": N}
Reward points must be between 10 and 100, proportional to difficulty.`

const goalCheckPrompt = `You judge whether a conversational goal has been achieved.
Goal type: %s
Completion condition: %s
Given the recent conversation, respond with JSON only:
{"completed": true|false, "confidence": 0-100, "reasoning": "..."}`

type goalCheckResult struct {
	Completed  bool   `json:"completed"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// handleGoals drives the goal lifecycle for one turn and returns the goal
// context line for the system prompt. All failures degrade to "no goal
// context"; the turn itself never fails on goal machinery.
func (s *Service) handleGoals(ctx context.Context, pc *pipelineContext) string {
	if !pc.resolved.GoalsEnabled {
		return ""
	}

	sess := pc.session
	visible, err := s.repo.CountVisibleMessages(ctx, sess.SessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("visible message count failed")
		return goalContextLine(sess.CurrentGoal)
	}

	// short conversations get a fresh goal instead of a completion check
	if sess.CurrentGoal == nil || visible <= 3 {
		goal := s.generateGoal(ctx, pc)
		if goal == nil {
			return goalContextLine(sess.CurrentGoal)
		}
		if err := s.repo.SetCurrentGoal(ctx, sess.SessionID, goal); err != nil {
			log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("goal persist failed")
			return goalContextLine(sess.CurrentGoal)
		}
		sess.CurrentGoal = goal
		return goalContextLine(goal)
	}

	check := s.checkGoalCompletion(ctx, pc)
	if check == nil || !check.Completed || check.Confidence <= goalCompletionConfidenceFloor {
		return goalContextLine(sess.CurrentGoal)
	}

	// completion sequence is deliberately sequential: clear, award, notify,
	// regenerate. A crash mid-way loses at most the replacement goal.
	reward := sess.CurrentGoal.RewardPoints
	if err := s.repo.CompleteGoal(ctx, sess.SessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("goal completion persist failed")
		return goalContextLine(sess.CurrentGoal)
	}
	completed := sess.CurrentGoal
	sess.CurrentGoal = nil
	sess.CompletedGoals++

	if err := s.points.Award(ctx, pc.user.ID, reward); err != nil {
		log.Error().Err(err).Uint64("user_id", pc.user.ID).Int64("reward", reward).
			Msg("goal reward award failed")
	} else {
		pc.balance += reward
		s.notifyPoints(ctx, pc.user.ID, pc.balance)
	}

	if err := s.notifier.Send(ctx, pc.user.ID, notify.EventGoalCompleted, map[string]any{
		"sessionId":    sess.SessionID,
		"goalType":     completed.Type,
		"rewardPoints": reward,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", pc.user.ID).Msg("goal notification failed")
	}

	next := s.generateGoal(ctx, pc)
	if next != nil {
		if err := s.repo.SetCurrentGoal(ctx, sess.SessionID, next); err != nil {
			log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("goal persist failed")
			return ""
		}
		sess.CurrentGoal = next
		return goalContextLine(next)
	}
	return ""
}

func (s *Service) generateGoal(ctx context.Context, pc *pipelineContext) *Goal {
	raw, err := s.classify(ctx, pc, goalGenerationPrompt)
	if err != nil {
		log.Warn().Err(err).Str("session_id", pc.session.SessionID).Msg("goal generation failed")
		return nil
	}
	var goal Goal
	if err := llm.ParseStructured(raw, &goal); err != nil {
		log.Warn().Err(err).Str("session_id", pc.session.SessionID).Msg("goal parse failed")
		return nil
	}
	if goal.Type == "" || goal.CompletionCondition == "" {
		return nil
	}
	if goal.RewardPoints <= 0 {
		goal.RewardPoints = 10
	}
	return &goal
}

func (s *Service) checkGoalCompletion(ctx context.Context, pc *pipelineContext) *goalCheckResult {
	goal := pc.session.CurrentGoal
	raw, err := s.classify(ctx, pc, fmt.Sprintf(goalCheckPrompt, goal.Type, goal.CompletionCondition))
	if err != nil {
		log.Warn().Err(err).Str("session_id", pc.session.SessionID).Msg("goal check failed")
		return nil
	}
	var res goalCheckResult
	if err := llm.ParseStructured(raw, &res); err != nil {
		log.Warn().Err(err).Str("session_id", pc.session.SessionID).Msg("goal check parse failed")
		return nil
	}
	return &res
}

// classify runs a one-shot classifier completion over the recent turns.
func (s *Service) classify(ctx context.Context, pc *pipelineContext, system string) (string, error) {
	msgs := []llm.Message{{Role: RoleSystem, Content: system}}
	msgs = append(msgs, recentTranscript(pc.history, 6)...)
	return s.completer.Complete(ctx, llm.CompleteRequest{
		Messages: msgs,
		Premium:  pc.user.IsPremium(),
	})
}

// recentTranscript renders the last n non-system rows as plain turns for
// classifier calls.
func recentTranscript(history []Message, n int) []llm.Message {
	var turns []llm.Message
	for _, m := range history {
		if m.Role == RoleSystem || m.Hidden {
			continue
		}
		content := m.Content
		if content == "" {
			continue
		}
		turns = append(turns, llm.Message{Role: m.Role, Content: content})
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

func goalContextLine(g *Goal) string {
	if g == nil {
		return ""
	}
	return fmt.Sprintf("Current goal (%s): %s", g.Type, g.CompletionCondition)
}

func (s *Service) notifyPoints(ctx context.Context, userID uint64, balance int64) {
	if err := s.notifier.Send(ctx, userID, notify.EventPointsUpdated, map[string]any{
		"points": balance,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", userID).Msg("points notification failed")
	}
}
