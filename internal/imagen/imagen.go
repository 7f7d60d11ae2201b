// Package imagen decides whether a user can afford an image generation,
// charges them, and enqueues the render job. It never waits for the render.
package imagen

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/common"
	"github.com/emberhq/companion/internal/notify"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/store/rabbitmq"
)

const (
	minImagesPerRequest = 1
	maxImagesPerRequest = 5
)

// InsufficientPointsKey is the translation key the browser client resolves
// into localized copy.
const InsufficientPointsKey = "insufficient_points"

type JobPublisher interface {
	PublishImageJob(ctx context.Context, msg rabbitmq.ImageJobMessage) error
}

type Trigger struct {
	points       *points.Repo
	publisher    JobPublisher
	notifier     notify.Notifier
	costPerImage int64
}

func NewTrigger(pts *points.Repo, publisher JobPublisher, notifier notify.Notifier, costPerImage int64) *Trigger {
	if costPerImage <= 0 {
		costPerImage = 50
	}
	return &Trigger{points: pts, publisher: publisher, notifier: notifier, costPerImage: costPerImage}
}

type Request struct {
	UserID      uint64
	SessionID   string
	CharacterID uint64
	Prompt      string
	Count       int
}

type Result struct {
	CanAfford bool

	// Acknowledgment is injected into the next completion request so the
	// character reacts to the picture being on its way (or not).
	Acknowledgment string

	TaskID        string
	PlaceholderID string
}

// Generate charges the user and enqueues the render. On insufficient funds it
// notifies the client to open the buy-points modal instead.
func (t *Trigger) Generate(ctx context.Context, req Request) (Result, error) {
	count := req.Count
	if count < minImagesPerRequest {
		count = minImagesPerRequest
	}
	if count > maxImagesPerRequest {
		count = maxImagesPerRequest
	}

	cost := int64(count) * t.costPerImage
	ok, err := t.points.Deduct(ctx, req.UserID, cost)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		if err := t.notifier.Send(ctx, req.UserID, notify.EventOpenBuyPoints, map[string]any{
			"reason": InsufficientPointsKey,
			"cost":   cost,
		}); err != nil {
			log.Warn().Err(err).Uint64("user_id", req.UserID).Msg("buy-points notification failed")
		}
		return Result{
			CanAfford: false,
			Acknowledgment: fmt.Sprintf(
				"[%s] The user wanted a picture but does not have enough points. Gently tease that they should top up first.",
				InsufficientPointsKey,
			),
		}, nil
	}

	taskID, err := common.NewULID()
	if err != nil {
		return Result{}, err
	}
	placeholderID := uuid.NewString()

	if err := t.publisher.PublishImageJob(ctx, rabbitmq.ImageJobMessage{
		TaskID:        taskID,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		CharacterID:   req.CharacterID,
		Prompt:        req.Prompt,
		Count:         count,
		PlaceholderID: placeholderID,
	}); err != nil {
		// job never made it out; give the points back
		if rerr := t.points.Award(ctx, req.UserID, cost); rerr != nil {
			log.Error().Err(rerr).Uint64("user_id", req.UserID).Int64("cost", cost).
				Msg("refund after failed image enqueue")
		}
		return Result{}, err
	}

	if err := t.notifier.Send(ctx, req.UserID, notify.EventPointsUpdated, map[string]any{
		"delta": -cost,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", req.UserID).Msg("points notification failed")
	}

	return Result{
		CanAfford:      true,
		Acknowledgment: "The picture the user asked for is being taken right now; mention it is on its way.",
		TaskID:         taskID,
		PlaceholderID:  placeholderID,
	}, nil
}
