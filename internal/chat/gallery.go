package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// one in N turns drops a gallery picture into the conversation
const galleryInsertChance = 8

// maybeInsertGalleryImage occasionally surfaces one of the character's gallery
// pictures as a gift message. The unique (session_id, image_id) index makes the
// insert a no-op when two concurrent turns race on the same picture.
func (s *Service) maybeInsertGalleryImage(ctx context.Context, pc *pipelineContext) {
	if !pc.resolved.AutoImagesEnabled || pc.job.Hidden {
		return
	}
	if !s.chance(galleryInsertChance) {
		return
	}

	img, err := s.characters.RandomGalleryImage(ctx, pc.session.CharacterID, s.intn)
	if err != nil {
		log.Warn().Err(err).Uint64("character_id", pc.session.CharacterID).Msg("gallery pick failed")
		return
	}
	if img == nil {
		return
	}

	imageID := fmt.Sprintf("gallery-%d", img.ID)
	inserted, err := s.repo.InsertMessageIfAbsent(ctx, &Message{
		SessionID: pc.session.SessionID,
		UserID:    pc.user.ID,
		Role:      RoleAssistant,
		Name:      NameGift,
		Content:   img.ObjectKey,
		Type:      TypeImage,
		ImageID:   &imageID,
		Prompt:    img.Prompt,
		Hidden:    false,
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", pc.session.SessionID).Msg("gallery insert failed")
		return
	}
	if inserted {
		log.Debug().Str("session_id", pc.session.SessionID).Str("image_id", imageID).
			Msg("gallery image inserted")
	}
}
