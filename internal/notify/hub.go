package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub keeps the open websocket connections of each user and forwards events
// arriving over Redis pub/sub to all of them.
type Hub struct {
	rdb *redis.Client

	mu    sync.Mutex
	conns map[uint64]map[*websocket.Conn]struct{}
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:   rdb,
		conns: make(map[uint64]map[*websocket.Conn]struct{}),
	}
}

// Attach registers a connection and blocks pumping events to it until the
// context ends or the socket breaks.
func (h *Hub) Attach(ctx context.Context, userID uint64, conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns[userID], conn)
		if len(h.conns[userID]) == 0 {
			delete(h.conns, userID)
		}
		h.mu.Unlock()
		_ = conn.Close()
	}()

	sub := h.rdb.Subscribe(ctx, channelFor(userID))
	defer func() { _ = sub.Close() }()

	// reader goroutine only services control frames
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				log.Debug().Err(err).Uint64("user_id", userID).Msg("websocket write failed")
				return
			}
		}
	}
}
