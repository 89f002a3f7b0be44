package ratelimit

import (
	"context"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/pkg/back"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/redis"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PerCaller 每个调用方（登录用户，否则 IP）在每个路由上每 window 最多 limit 次。
// limit<=0 或 Redis 未连接时不限流；Redis 出错时放行
func PerCaller(limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("uuid")
		if caller == "" {
			caller = c.ClientIP()
		}
		if !Allow(c.Request.Context(), KeyPrefix+c.FullPath()+":"+caller, limit, window) {
			back.Abort(c, xerr.TooManyRequests, "too many requests, slow down")
			return
		}
		c.Next()
	}
}

// KeyPrefix 所有限流计数器的 redis key 前缀
const KeyPrefix = "chat:rl:"

// Allow 固定窗口计数，HTTP 中间件与 WebSocket 入站共用。
// limit<=0 或 Redis 未连接时放行；Redis 出错时放行
func Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if limit <= 0 || !redis.IsConnected() {
		return true
	}
	m := NewManager(redis.GetClient(), &FixedWindowStrategy{})
	ok, err := m.Allow(ctx, key, limit, window)
	if err != nil {
		zlog.Warn("rate limiter unavailable", zap.Error(err))
		return true
	}
	return ok
}
