package handler

import (
	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/service"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/back"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	messages service.MessageService
	realtime service.RealtimeService
}

func NewMessageHandler(messages service.MessageService, realtime service.RealtimeService) *MessageHandler {
	return &MessageHandler{messages: messages, realtime: realtime}
}

// SendMessage 用户或客服身份由调用方与会话的关系决定
func (h *MessageHandler) SendMessage(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	var req chatRequest.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	data, err := h.realtime.SendMessage(c.Request.Context(), c.Param("session_id"), pr, req.Content)
	back.Result(c, data, err)
}

func (h *MessageHandler) GetMessageList(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	var req chatRequest.GetMessageListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		zlog.Warn(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	data, err := h.messages.GetMessageList(c.Request.Context(), c.Param("session_id"), pr, req)
	back.Result(c, data, err)
}
