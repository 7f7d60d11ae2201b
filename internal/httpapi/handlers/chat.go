package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/chat"
	"github.com/emberhq/companion/internal/common"
	"github.com/emberhq/companion/internal/imagen"
)

type createSessionReq struct {
	CharacterID uint64 `json:"character_id" binding:"required"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid, req.CharacterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "character not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	common.OK(c, gin.H{"session_id": sess.SessionID})
}

type completionReq struct {
	SessionID            string `json:"session_id" binding:"required"`
	Message              string `json:"message"`
	UniqueID             string `json:"unique_id" binding:"required"`
	Hidden               bool   `json:"hidden"`
	DisableImageAnalysis bool   `json:"disable_image_analysis"`
}

// RequestCompletion accepts a turn and returns immediately; the reply is
// delivered over the notification channel once the worker finishes.
func (h *Handler) RequestCompletion(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req completionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	job, created, err := h.ChatSvc.EnqueueTurn(c.Request.Context(), chat.EnqueueInput{
		UserID:               uid,
		SessionID:            req.SessionID,
		Content:              req.Message,
		UniqueID:             req.UniqueID,
		Hidden:               req.Hidden,
		DisableImageAnalysis: req.DisableImageAnalysis,
		IdempotencyKey:       idempoKeyPtr,
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}

	common.OK(c, gin.H{"job_id": job.ID, "queued": created})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type selectScenarioReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Scenario  string `json:"scenario" binding:"required"`
}

func (h *Handler) SelectScenario(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req selectScenarioReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.ChatSvc.SelectScenario(c.Request.Context(), uid, req.SessionID, req.Scenario); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, nil)
}

type setLanguageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Language  string `json:"language" binding:"required"`
}

func (h *Handler) SetSessionLanguage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req setLanguageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.ChatSvc.SetPreferredLanguage(c.Request.Context(), uid, req.SessionID, req.Language); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, nil)
}

type suggestionsReq struct {
	SessionID string `json:"session_id" binding:"required"`
}

func (h *Handler) Suggestions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req suggestionsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	suggestions, err := h.ChatSvc.Suggest(c.Request.Context(), uid, req.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to generate suggestions")
		return
	}

	common.OK(c, gin.H{"suggestions": suggestions})
}

type imageRequestReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
	Count     int    `json:"count"`
}

func (h *Handler) RequestImage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req imageRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.ValidateSessionOwner(c.Request.Context(), uid, req.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	res, err := h.Images.Generate(c.Request.Context(), imagen.Request{
		UserID:      uid,
		SessionID:   sess.SessionID,
		CharacterID: sess.CharacterID,
		Prompt:      req.Prompt,
		Count:       req.Count,
	})
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to start image generation")
		return
	}

	common.OK(c, gin.H{
		"can_afford":     res.CanAfford,
		"acknowledgment": res.Acknowledgment,
		"task_id":        res.TaskID,
		"placeholder_id": res.PlaceholderID,
	})
}
