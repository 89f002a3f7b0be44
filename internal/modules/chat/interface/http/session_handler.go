package handler

import (
	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/service"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/back"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	svc service.SessionService
}

func NewSessionHandler(svc service.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

func (h *SessionHandler) StartSession(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	var req chatRequest.StartSessionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	data, err := h.svc.StartSession(c.Request.Context(), pr, req)
	back.Result(c, data, err)
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	var req chatRequest.ListSessionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		zlog.Warn(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	data, err := h.svc.ListSessions(c.Request.Context(), pr, req)
	back.Result(c, data, err)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	data, err := h.svc.GetSession(c.Request.Context(), c.Param("session_id"), pr)
	back.Result(c, data, err)
}

func (h *SessionHandler) AssignSession(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	data, err := h.svc.AssignSession(c.Request.Context(), c.Param("session_id"), pr)
	back.Result(c, data, err)
}

func (h *SessionHandler) CloseSession(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	err := h.svc.CloseSession(c.Request.Context(), sessionID, pr)
	back.Result(c, gin.H{"session_id": sessionID, "status": "closed"}, err)
}
