package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/catalog"
	"github.com/emberhq/companion/internal/character"
	"github.com/emberhq/companion/internal/chat"
	"github.com/emberhq/companion/internal/config"
	"github.com/emberhq/companion/internal/httpapi/middleware"
	"github.com/emberhq/companion/internal/imagen"
	"github.com/emberhq/companion/internal/models"
	"github.com/emberhq/companion/internal/notify"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/settings"
)

type Handler struct {
	DB  *gorm.DB
	Cfg config.Config

	Users      *models.UserRepo
	Points     *points.Repo
	Catalog    *catalog.Repo
	Characters *character.Repo
	Settings   *settings.Repo
	ChatSvc    *chat.Service
	Images     *imagen.Trigger
	Hub        *notify.Hub
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
