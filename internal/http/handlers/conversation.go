package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/http/response"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

const defaultListLimit = 50

type ConversationHandler struct {
	conversations services.ConversationService
}

func NewConversationHandler(conversations services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// GET /api/conversations?limit=50&before=<rfc3339>
func (h *ConversationHandler) List(c *gin.Context) {
	before, ok := timeQuery(c, "before")
	if !ok {
		return
	}
	convs, err := h.conversations.List(requestDBC(c), intQuery(c, "limit", defaultListLimit), before)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": convs})
}

// GET /api/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	view, err := h.conversations.Get(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"conversation": view.Conversation,
		"messages":     view.Messages,
		"votes":        view.Votes,
		"stream_ids":   view.StreamIDs,
		"is_owner":     view.IsOwner,
	})
}

// DELETE /api/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.conversations.Delete(requestDBC(c), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true})
}

type visibilityReq struct {
	Visibility string `json:"visibility" binding:"required"`
}

// PATCH /api/conversations/:id/visibility
func (h *ConversationHandler) SetVisibility(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req visibilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	conv, err := h.conversations.SetVisibility(requestDBC(c), id, req.Visibility)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

// DELETE /api/conversations/:id/messages/:messageId/trailing
func (h *ConversationHandler) TruncateTrailing(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	msgID, ok := uuidParam(c, "messageId")
	if !ok {
		return
	}
	n, err := h.conversations.TruncateFrom(requestDBC(c), id, msgID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": n})
}

type voteReq struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Type           string    `json:"type"`
}

// GET /api/vote?conversation_id=<uuid>
func (h *ConversationHandler) ListVotes(c *gin.Context) {
	convID, ok := uuidQuery(c, "conversation_id")
	if !ok {
		return
	}
	votes, err := h.conversations.ListVotes(requestDBC(c), convID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"votes": votes})
}

// PATCH /api/vote
func (h *ConversationHandler) Vote(c *gin.Context) {
	var req voteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var up bool
	switch req.Type {
	case "up":
		up = true
	case "down":
	default:
		response.RespondError(c, http.StatusBadRequest, "invalid_vote_type", errInvalidVoteType)
		return
	}
	if err := h.conversations.Vote(requestDBC(c), req.ConversationID, req.MessageID, up); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"voted": req.Type})
}
