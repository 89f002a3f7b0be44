package handler

import (
	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/service"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/back"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gin-gonic/gin"
)

type AvailabilityHandler struct {
	svc service.AvailabilityService
}

func NewAvailabilityHandler(svc service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc}
}

func (h *AvailabilityHandler) SetAvailability(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	var req chatRequest.SetAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	data, err := h.svc.SetAvailability(c.Request.Context(), pr, req)
	back.Result(c, data, err)
}

func (h *AvailabilityHandler) GetMyAvailability(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	data, err := h.svc.GetSnapshot(c.Request.Context(), pr)
	back.Result(c, data, err)
}

func (h *AvailabilityHandler) GetAvailableAgents(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	data, err := h.svc.GetAvailableAgents(c.Request.Context(), pr)
	back.Result(c, data, err)
}

// PublicStatus 无需登录
func (h *AvailabilityHandler) PublicStatus(c *gin.Context) {
	data, err := h.svc.PublicStatus(c.Request.Context())
	back.Result(c, data, err)
}
