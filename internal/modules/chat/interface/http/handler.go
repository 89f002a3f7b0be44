package handler

import (
	"errors"
	"io"

	jwtMiddleware "github.com/jimrulison/CustomermindIQ-sub002/internal/middleware/jwt"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/back"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// principal 取 Auth 中间件放入的身份；缺失时直接写 401
func principal(c *gin.Context) (chatEntity.Principal, bool) {
	pr, ok := jwtMiddleware.PrincipalFrom(c)
	if !ok || pr.UserID == "" {
		back.Error(c, xerr.Unauthorized, "unauthenticated")
		return chatEntity.Principal{}, false
	}
	return pr, true
}

// bindOptionalJSON 空 body 视为零值请求
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		zlog.Warn("bind request body failed", zap.String("path", c.FullPath()), zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return false
	}
	return true
}
