// Package notify is the push channel between the backend and the browser
// client. Events are published to a per-user Redis channel; the API server's
// websocket hub subscribes and fans out to the user's open sockets.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Event names consumed by the browser client.
const (
	EventDisplayCompletion = "displayCompletionMessage"
	EventHideCompletion    = "hideCompletionMessage"
	EventOpenBuyPoints     = "openBuyPointsModal"
	EventGoalCompleted     = "goalCompleted"
	EventPointsUpdated     = "pointsUpdated"
	EventScenarioReady     = "scenarioReady"
	EventImageReady        = "imageReady"
	EventImageFailed       = "imageFailed"
)

type Notifier interface {
	Send(ctx context.Context, userID uint64, event string, payload any) error
}

type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func channelFor(userID uint64) string {
	return fmt.Sprintf("notify:user:%d", userID)
}

type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Send(ctx context.Context, userID uint64, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, channelFor(userID), body).Err()
}
