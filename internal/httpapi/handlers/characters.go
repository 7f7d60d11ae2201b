package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/character"
	"github.com/emberhq/companion/internal/common"
)

func (h *Handler) ListCharacters(c *gin.Context) {
	includeNSFW := c.Query("nsfw") == "true"

	chars, err := h.Characters.List(c.Request.Context(), includeNSFW)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"characters": chars})
}

func (h *Handler) GetCharacter(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid character id")
		return
	}

	char, err := h.Characters.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "character not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, char)
}

type createCharacterReq struct {
	Name         string `json:"name" binding:"required"`
	Gender       string `json:"gender"`
	NSFW         bool   `json:"nsfw"`
	SystemPrompt string `json:"system_prompt"`
	Personality  string `json:"personality"`
	Occupation   string `json:"occupation"`
	Preferences  string `json:"preferences"`
	Tags         string `json:"tags"`
}

func (h *Handler) CreateCharacter(c *gin.Context) {
	var req createCharacterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	char := &character.Character{
		Name:         req.Name,
		Gender:       req.Gender,
		NSFW:         req.NSFW,
		SystemPrompt: req.SystemPrompt,
		Personality:  req.Personality,
		Occupation:   req.Occupation,
		Preferences:  req.Preferences,
		Tags:         req.Tags,
	}
	if err := h.Characters.Create(c.Request.Context(), char); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"id": char.ID})
}

func (h *Handler) CharacterGallery(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid character id")
		return
	}

	imgs, err := h.Characters.ListGalleryImages(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"images": imgs})
}
