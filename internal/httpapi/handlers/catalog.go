package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberhq/companion/internal/catalog"
	"github.com/emberhq/companion/internal/common"
)

func (h *Handler) ListModels(c *gin.Context) {
	ms, err := h.Catalog.ListModels(c.Request.Context(), false)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"models": ms})
}

type addModelReq struct {
	Key          string `json:"key" binding:"required"`
	Name         string `json:"name"`
	ProviderName string `json:"provider_name" binding:"required"`
	MaxTokens    int    `json:"max_tokens"`
	Category     string `json:"category" binding:"required"`
	Active       bool   `json:"active"`
}

func (h *Handler) AddModel(c *gin.Context) {
	var req addModelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m := &catalog.Model{
		Key:          req.Key,
		Name:         req.Name,
		ProviderName: req.ProviderName,
		MaxTokens:    req.MaxTokens,
		Category:     req.Category,
		Active:       req.Active,
	}
	if err := h.Catalog.AddModel(c.Request.Context(), m); err != nil {
		if errors.Is(err, catalog.ErrMissingFields) {
			common.Fail(c, http.StatusBadRequest, 10006, "key, provider and category required")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"id": m.ID})
}
