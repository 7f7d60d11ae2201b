package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/emberhq/companion/internal/common"
	"github.com/emberhq/companion/internal/settings"
)

type upsertSettingsReq struct {
	CharacterID *uint64 `json:"character_id"`

	RelationshipType   string `json:"relationship_type"`
	ModelKey           string `json:"model_key"`
	GoalsEnabled       *bool  `json:"goals_enabled"`
	ScenariosEnabled   *bool  `json:"scenarios_enabled"`
	PreferredLanguage  string `json:"preferred_language"`
	Voice              string `json:"voice"`
	AutoImagesEnabled  *bool  `json:"auto_images_enabled"`
	AutoImageCount     int    `json:"auto_image_count"`
	SuggestionsEnabled *bool  `json:"suggestions_enabled"`
	CustomInstructions string `json:"custom_instructions"`
}

func (h *Handler) UpsertSettings(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req upsertSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.AutoImageCount < 0 || req.AutoImageCount > 5 {
		common.Fail(c, http.StatusBadRequest, 10005, "auto_image_count out of range")
		return
	}

	s := &settings.ChatToolSettings{
		UserID:             uid,
		CharacterID:        req.CharacterID,
		RelationshipType:   req.RelationshipType,
		ModelKey:           req.ModelKey,
		GoalsEnabled:       req.GoalsEnabled,
		ScenariosEnabled:   req.ScenariosEnabled,
		PreferredLanguage:  req.PreferredLanguage,
		Voice:              req.Voice,
		AutoImagesEnabled:  req.AutoImagesEnabled,
		AutoImageCount:     req.AutoImageCount,
		SuggestionsEnabled: req.SuggestionsEnabled,
		CustomInstructions: req.CustomInstructions,
	}
	if err := h.Settings.Upsert(c.Request.Context(), s); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, nil)
}

func (h *Handler) ResolveSettings(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var characterID uint64
	if s := c.Query("character_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			characterID = n
		}
	}

	resolved, err := h.Settings.Resolve(c.Request.Context(), uid, characterID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, resolved)
}
