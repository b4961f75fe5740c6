package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/http/response"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime/sse"
	"github.com/yungbote/neurobridge-chat/internal/realtime/stream"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

// Edge proxies put coarse client geolocation in these headers.
const (
	headerGeoLatitude  = "X-Vercel-IP-Latitude"
	headerGeoLongitude = "X-Vercel-IP-Longitude"
	headerGeoCity      = "X-Vercel-IP-City"
	headerGeoCountry   = "X-Vercel-IP-Country"

	headerStreamID = "X-Stream-Id"
)

type ChatHandler struct {
	log  *logger.Logger
	chat services.ChatService
	sse  *sse.Writer
}

func NewChatHandler(log *logger.Logger, chatSvc services.ChatService, writer *sse.Writer) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), chat: chatSvc, sse: writer}
}

type chatMessageReq struct {
	ID          uuid.UUID         `json:"id"`
	Role        string            `json:"role"`
	Parts       []chat.Part       `json:"parts"`
	Attachments []chat.Attachment `json:"attachments"`
}

type postChatReq struct {
	ID                     uuid.UUID      `json:"id"`
	Message                chatMessageReq `json:"message"`
	SelectedChatModel      string         `json:"selected_chat_model"`
	SelectedVisibilityType string         `json:"selected_visibility_type"`
}

func hintsFrom(c *gin.Context) services.Hints {
	city := strings.TrimSpace(c.GetHeader(headerGeoCity))
	if decoded, err := url.QueryUnescape(city); err == nil {
		city = decoded
	}
	return services.Hints{
		Latitude:  strings.TrimSpace(c.GetHeader(headerGeoLatitude)),
		Longitude: strings.TrimSpace(c.GetHeader(headerGeoLongitude)),
		City:      city,
		Country:   strings.TrimSpace(c.GetHeader(headerGeoCountry)),
	}
}

// POST /api/chat
func (h *ChatHandler) PostChat(c *gin.Context) {
	var req postChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	turn, err := h.chat.StartTurn(requestDBC(c), services.TurnInput{
		ConversationID: req.ID,
		Message: services.IncomingMessage{
			ID:          req.Message.ID,
			Role:        req.Message.Role,
			Parts:       req.Message.Parts,
			Attachments: req.Message.Attachments,
		},
		Variant:    req.SelectedChatModel,
		Visibility: req.SelectedVisibilityType,
		Hints:      hintsFrom(c),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	defer turn.Subscription.Close()

	ctxutil.TagStream(c.Request.Context(), req.ID, turn.StreamID)
	c.Header(headerStreamID, turn.StreamID.String())
	h.serve(c, turn.Subscription.Events)
}

// GET /api/chat/:id/stream
func (h *ChatHandler) ResumeStream(c *gin.Context) {
	convID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resumed, err := h.chat.Resume(requestDBC(c), convID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if !resumed.Empty() {
		ctxutil.TagStream(c.Request.Context(), convID, resumed.StreamID)
		c.Header(headerStreamID, resumed.StreamID.String())
	}
	switch {
	case resumed.Empty():
		c.Status(http.StatusNoContent)
	case resumed.Subscription != nil:
		defer resumed.Subscription.Close()
		h.serve(c, resumed.Subscription.Events)
	default:
		events := make(chan stream.Event, 1)
		events <- stream.NewEvent(stream.EventMessage, stream.MessageData{Message: resumed.Message})
		close(events)
		h.serve(c, events)
	}
}

func (h *ChatHandler) serve(c *gin.Context, events <-chan stream.Event) {
	err := h.sse.Serve(c.Request.Context(), c.Writer, events)
	if err != nil && !errors.Is(err, c.Request.Context().Err()) {
		h.log.Debug("sse stream ended early", "path", c.FullPath(), "error", err)
	}
}
