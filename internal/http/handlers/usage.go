package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-chat/internal/http/response"
	"github.com/yungbote/neurobridge-chat/internal/platform/apierr"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

type UsageHandler struct {
	admission services.AdmissionService
}

func NewUsageHandler(admission services.AdmissionService) *UsageHandler {
	return &UsageHandler{admission: admission}
}

type usageResp struct {
	Quota       int64 `json:"quota"`
	Used        int64 `json:"used"`
	Remaining   int64 `json:"remaining"`
	WindowHours int   `json:"window_hours"`
}

// GET /api/usage
func (h *UsageHandler) Get(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil {
		response.RespondAPIError(c, apierr.Unauthorized("not authenticated"))
		return
	}
	d, err := h.admission.Usage(requestDBC(c), rd.UserID, rd.UserClass)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, usageResp{
		Quota:       d.Quota,
		Used:        d.Used,
		Remaining:   d.Remaining(),
		WindowHours: int(services.UsageWindow.Hours()),
	})
}
