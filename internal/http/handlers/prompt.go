package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-chat/internal/http/response"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

type PromptAdminHandler struct {
	prompts services.PromptService
}

func NewPromptAdminHandler(prompts services.PromptService) *PromptAdminHandler {
	return &PromptAdminHandler{prompts: prompts}
}

type createPromptReq struct {
	Text     string `json:"text"`
	IsActive bool   `json:"is_active"`
}

// Pointers distinguish "absent" from zero values.
type updatePromptReq struct {
	Text     *string `json:"text"`
	IsActive *bool   `json:"is_active"`
}

// GET /api/admin/prompts
func (h *PromptAdminHandler) List(c *gin.Context) {
	versions, err := h.prompts.List(requestDBC(c))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"prompts": versions})
}

// GET /api/admin/prompts/active
func (h *PromptAdminHandler) Active(c *gin.Context) {
	v, err := h.prompts.GetActive(requestDBC(c))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"prompt": v})
}

// GET /api/admin/prompts/:id
func (h *PromptAdminHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	v, err := h.prompts.Get(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"prompt": v})
}

// POST /api/admin/prompts
func (h *PromptAdminHandler) Create(c *gin.Context) {
	var req createPromptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	v, err := h.prompts.Create(requestDBC(c), req.Text, req.IsActive)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"prompt": v})
}

// PATCH /api/admin/prompts/:id
func (h *PromptAdminHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req updatePromptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	v, err := h.prompts.Update(requestDBC(c), id, req.Text, req.IsActive)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"prompt": v})
}

// DELETE /api/admin/prompts/:id
func (h *PromptAdminHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	v, err := h.prompts.Delete(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"prompt": v})
}
