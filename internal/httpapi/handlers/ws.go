package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/common"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API sits behind its own origin checks; tokens gate the socket
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Notifications upgrades to a websocket and attaches the connection to the
// user's notification channel.
func (h *Handler) Notifications(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Uint64("user_id", uid).Msg("websocket upgrade failed")
		return
	}

	h.Hub.Attach(c.Request.Context(), uid, conn)
}
