package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberhq/companion/internal/common"
	"github.com/emberhq/companion/internal/config"
	"github.com/emberhq/companion/internal/httpapi/handlers"
	"github.com/emberhq/companion/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", func(c *gin.Context) { common.OK(c, gin.H{"pong": true}) })

	api := r.Group("/api")

	// public
	api.POST("/users", h.Register)
	api.POST("/login", h.Login)
	api.GET("/characters", h.ListCharacters)
	api.GET("/characters/:id", h.GetCharacter)
	api.GET("/characters/:id/gallery", h.CharacterGallery)
	api.GET("/models", h.ListModels)

	// JWT required
	authGroup := api.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	authGroup.GET("/me", h.Me)
	authGroup.PUT("/me/persona", h.UpdatePersona)
	authGroup.GET("/me/points", h.GetPoints)

	authGroup.POST("/characters", h.CreateCharacter)
	authGroup.POST("/models", h.AddModel)

	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.POST("/chat/completions", h.RequestCompletion)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/scenario", h.SelectScenario)
	authGroup.POST("/chat/language", h.SetSessionLanguage)
	authGroup.POST("/chat/suggestions", h.Suggestions)
	authGroup.POST("/chat/images", h.RequestImage)

	authGroup.POST("/settings", h.UpsertSettings)
	authGroup.GET("/settings", h.ResolveSettings)

	authGroup.GET("/ws/notifications", h.Notifications)

	return r
}
