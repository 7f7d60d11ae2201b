package chat

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/imagen"
	"github.com/emberhq/companion/internal/llm"
)

const imageRequestPrompt = `You decide whether the user's latest message asks the
AI companion to send a picture of herself. Respond with JSON only:
{"wants_image": true|false, "image_prompt": "...", "count": N}
image_prompt describes the requested picture in a form suitable for an image
model; count is how many pictures were asked for, default 1.`

const implicitImagePrompt = `You decide whether the companion's latest reply
promises or strongly implies she is about to send a picture. Respond with JSON
only: {"sends_image": true|false, "image_prompt": "..."}`

type imageRequest struct {
	WantsImage  bool   `json:"wants_image"`
	ImagePrompt string `json:"image_prompt"`
	Count       int    `json:"count"`
}

type implicitImage struct {
	SendsImage  bool   `json:"sends_image"`
	ImagePrompt string `json:"image_prompt"`
}

// handleExplicitImageRequest classifies the latest user message for a picture
// request and, when found, kicks off generation. The returned acknowledgment
// line feeds the system prompt so the reply reacts to the request in-character.
func (s *Service) handleExplicitImageRequest(ctx context.Context, job *Job, pc *pipelineContext) string {
	if job.DisableImageAnalysis || s.images == nil {
		return ""
	}
	last := lastUserMessage(pc.history)
	if last == "" {
		return ""
	}

	raw, err := s.classify(ctx, pc, imageRequestPrompt)
	if err != nil {
		log.Warn().Err(err).Str("session_id", job.SessionID).Msg("image request detection failed")
		return ""
	}
	var req imageRequest
	if err := llm.ParseStructured(raw, &req); err != nil {
		log.Warn().Err(err).Str("session_id", job.SessionID).Msg("image request parse failed")
		return ""
	}
	if !req.WantsImage || strings.TrimSpace(req.ImagePrompt) == "" {
		return ""
	}

	return s.triggerImage(ctx, job, pc, req.ImagePrompt, req.Count)
}

// handleImplicitImageOffer runs after the reply is delivered: when auto images
// are on and the reply itself promises a picture, generation starts without an
// explicit user request. Free users below the affordance threshold are never
// teased with pictures they cannot buy.
func (s *Service) handleImplicitImageOffer(ctx context.Context, job *Job, pc *pipelineContext, reply string) {
	if job.DisableImageAnalysis || s.images == nil {
		return
	}
	if !pc.resolved.AutoImagesEnabled {
		return
	}
	if pc.balance < imageAffordanceThreshold {
		return
	}

	msgs := []llm.Message{
		{Role: RoleSystem, Content: implicitImagePrompt},
		{Role: RoleAssistant, Content: reply},
	}
	raw, err := s.completer.Complete(ctx, llm.CompleteRequest{
		Messages: msgs,
		Premium:  pc.user.IsPremium(),
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", job.SessionID).Msg("implicit image detection failed")
		return
	}
	var det implicitImage
	if err := llm.ParseStructured(raw, &det); err != nil {
		log.Warn().Err(err).Str("session_id", job.SessionID).Msg("implicit image parse failed")
		return
	}
	if !det.SendsImage || strings.TrimSpace(det.ImagePrompt) == "" {
		return
	}

	s.triggerImage(ctx, job, pc, det.ImagePrompt, pc.resolved.AutoImageCount)
}

func (s *Service) triggerImage(ctx context.Context, job *Job, pc *pipelineContext, imagePrompt string, count int) string {
	res, err := s.images.Generate(ctx, imagen.Request{
		UserID:      job.UserID,
		SessionID:   job.SessionID,
		CharacterID: pc.session.CharacterID,
		Prompt:      imagePrompt,
		Count:       count,
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", job.SessionID).Msg("image generation trigger failed")
		return ""
	}
	if res.CanAfford {
		if bal, err := s.points.Balance(ctx, job.UserID); err == nil {
			pc.balance = bal
		}
	}
	return res.Acknowledgment
}

func lastUserMessage(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role == RoleUser && !m.Hidden && m.Content != "" {
			return m.Content
		}
	}
	return ""
}
