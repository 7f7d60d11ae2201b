// Package render executes queued image jobs: it calls the image provider,
// stores the result in the gallery bucket and appends the picture to the
// conversation.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/chat"
	"github.com/emberhq/companion/internal/gallery"
	"github.com/emberhq/companion/internal/notify"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/store/rabbitmq"
)

const (
	defaultEndpoint = "https://api.segmind.com/v1/sdxl1.0-txt2img"
	envKeyName      = "SEGMIND_API_KEY"
	renderTimeout   = 120 * time.Second
)

type Renderer struct {
	httpc    *http.Client
	endpoint string

	// lookupEnv is swappable in tests.
	lookupEnv func(string) (string, bool)

	store    ObjectStore
	chats    *chat.Repo
	points   *points.Repo
	notifier notify.Notifier

	costPerImage int64
}

// ObjectStore is the slice of the gallery store the renderer uses.
type ObjectStore interface {
	Put(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

var _ ObjectStore = (*gallery.Store)(nil)

func NewRenderer(store ObjectStore, chats *chat.Repo, pts *points.Repo, notifier notify.Notifier, costPerImage int64) *Renderer {
	if costPerImage <= 0 {
		costPerImage = 50
	}
	return &Renderer{
		httpc:        &http.Client{Timeout: renderTimeout},
		endpoint:     defaultEndpoint,
		lookupEnv:    os.LookupEnv,
		store:        store,
		chats:        chats,
		points:       pts,
		notifier:     notifier,
		costPerImage: costPerImage,
	}
}

type renderRequest struct {
	Prompt  string `json:"prompt"`
	Samples int    `json:"samples"`
	Width   int    `json:"img_width"`
	Height  int    `json:"img_height"`
}

// Process renders every image of one job. The user was already charged at
// enqueue time, so a terminal failure refunds before surfacing the error.
func (r *Renderer) Process(ctx context.Context, msg rabbitmq.ImageJobMessage) error {
	apiKey, ok := r.lookupEnv(envKeyName)
	if !ok || apiKey == "" {
		r.failJob(ctx, msg, fmt.Errorf("%s not set", envKeyName))
		return nil
	}

	for i := 0; i < msg.Count; i++ {
		data, err := r.renderOne(ctx, apiKey, msg.Prompt)
		if err != nil {
			if i == 0 {
				r.failJob(ctx, msg, err)
				return nil
			}
			// partial batch: keep what rendered, refund the rest
			r.refund(ctx, msg.UserID, int64(msg.Count-i)*r.costPerImage)
			log.Warn().Err(err).Str("task_id", msg.TaskID).Int("rendered", i).
				Msg("batch cut short")
			return nil
		}

		objectKey := fmt.Sprintf("renders/%s/%s-%d.png", msg.SessionID, msg.TaskID, i)
		if err := r.store.Put(ctx, objectKey, data, "image/png"); err != nil {
			if i == 0 {
				r.failJob(ctx, msg, err)
				return nil
			}
			r.refund(ctx, msg.UserID, int64(msg.Count-i)*r.costPerImage)
			return nil
		}

		if err := r.attach(ctx, msg, i, objectKey); err != nil {
			log.Error().Err(err).Str("task_id", msg.TaskID).Msg("attach rendered image")
			return err
		}
	}
	return nil
}

func (r *Renderer) renderOne(ctx context.Context, apiKey, prompt string) ([]byte, error) {
	body, err := json.Marshal(renderRequest{Prompt: prompt, Samples: 1, Width: 1024, Height: 1024})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("image provider HTTP %d: %s", resp.StatusCode, snippet)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// attach appends the rendered picture to the transcript and tells the client
// to swap out its placeholder. The unique image id makes redelivered messages
// a no-op.
func (r *Renderer) attach(ctx context.Context, msg rabbitmq.ImageJobMessage, idx int, objectKey string) error {
	imageID := fmt.Sprintf("%s-%d", msg.TaskID, idx)
	batchID := msg.TaskID

	inserted, err := r.chats.InsertMessageIfAbsent(ctx, &chat.Message{
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
		Role:      chat.RoleAssistant,
		Content:   objectKey,
		Type:      chat.TypeImage,
		ImageID:   &imageID,
		BatchID:   &batchID,
		Prompt:    msg.Prompt,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	url, err := r.store.PresignedURL(ctx, objectKey, time.Hour)
	if err != nil {
		log.Warn().Err(err).Str("object_key", objectKey).Msg("presign failed")
		url = ""
	}

	if err := r.notifier.Send(ctx, msg.UserID, notify.EventImageReady, map[string]any{
		"sessionId":     msg.SessionID,
		"taskId":        msg.TaskID,
		"placeholderId": msg.PlaceholderID,
		"imageId":       imageID,
		"url":           url,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", msg.UserID).Msg("image notification failed")
	}
	return nil
}

func (r *Renderer) failJob(ctx context.Context, msg rabbitmq.ImageJobMessage, cause error) {
	log.Warn().Err(cause).Str("task_id", msg.TaskID).Msg("image job failed")
	r.refund(ctx, msg.UserID, int64(msg.Count)*r.costPerImage)
	if err := r.notifier.Send(ctx, msg.UserID, notify.EventImageFailed, map[string]any{
		"sessionId":     msg.SessionID,
		"taskId":        msg.TaskID,
		"placeholderId": msg.PlaceholderID,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", msg.UserID).Msg("image failure notification failed")
	}
}

func (r *Renderer) refund(ctx context.Context, userID uint64, amount int64) {
	if amount <= 0 {
		return
	}
	if err := r.points.Award(ctx, userID, amount); err != nil {
		log.Error().Err(err).Uint64("user_id", userID).Int64("amount", amount).
			Msg("image refund failed")
		return
	}
	if bal, err := r.points.Balance(ctx, userID); err == nil {
		if err := r.notifier.Send(ctx, userID, notify.EventPointsUpdated, map[string]any{
			"points": bal,
		}); err != nil {
			log.Warn().Err(err).Uint64("user_id", userID).Msg("points notification failed")
		}
	}
}
