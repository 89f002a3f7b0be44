package jwt

import (
	"strings"

	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/back"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/util/myjwt"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Auth 解析 Bearer token；浏览器 WebSocket 无法带 header，允许 ?token= 兜底
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			back.Abort(c, xerr.Unauthorized, "missing or invalid authorization header")
			return
		}

		pr, err := ParsePrincipal(tokenString)
		if err != nil {
			back.Abort(c, xerr.Unauthorized, "invalid token")
			return
		}

		c.Set("uuid", pr.UserID)
		c.Set("username", pr.Name)
		c.Set(principalKey, pr)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

func ParsePrincipal(tokenString string) (chatEntity.Principal, error) {
	claims, err := myjwt.ParseToken(tokenString)
	if err != nil {
		return chatEntity.Principal{}, err
	}
	return chatEntity.Principal{
		UserID: claims.Uuid,
		Name:   claims.Username,
		Role:   claims.Role,
		Tier:   claims.Tier,
		Trial:  claims.Trial,
	}, nil
}

// PrincipalFrom returns the identity set by Auth.
func PrincipalFrom(c *gin.Context) (chatEntity.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return chatEntity.Principal{}, false
	}
	pr, ok := v.(chatEntity.Principal)
	return pr, ok
}
