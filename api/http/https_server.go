package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/metrics"
	jwtMiddleware "github.com/jimrulison/CustomermindIQ-sub002/internal/middleware/jwt"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/middleware/ratelimit"
	chatService "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/service"
	chatEvent "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/event"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/lock"
	chatPersistence "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/persistence"
	chatHandler "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/interface/http"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/redis"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ssl"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps 路由依赖的基础设施，由 main 初始化后注入
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Blobs  chatRepository.BlobStore
	Events chatEvent.Publisher
	Hub    *ws.Hub
}

// NewEngine 组装仓储、服务与 handler 并注册全部路由
func NewEngine(d Deps) *gin.Engine {
	conf := d.Config
	chatConf := conf.ChatConfig

	GE := gin.New()
	GE.Use(gin.Recovery())
	corsConfig := cors.DefaultConfig()
	if len(conf.MainConfig.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = conf.MainConfig.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	if conf.MainConfig.TLS {
		GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))
	}
	GE.Use(metrics.Middleware())

	sessionRepo := chatPersistence.NewSessionRepository(d.DB)
	messageRepo := chatPersistence.NewMessageRepository(d.DB)
	availRepo := chatPersistence.NewAvailabilityRepository(d.DB)
	accessPolicy := policy.NewAccessPolicy(chatConf)

	availSvc := chatService.NewAvailabilityService(availRepo, sessionRepo, d.Hub, accessPolicy, chatConf)
	sessionSvc := chatService.NewSessionService(sessionRepo, messageRepo, availRepo, availSvc, d.Hub, d.Events, lock.NewLocker(), accessPolicy, chatConf)
	realtimeSvc := chatService.NewRealtimeService(sessionRepo, messageRepo, availRepo, sessionSvc, d.Hub, d.Events, accessPolicy, chatConf)
	fileSvc := chatService.NewFileService(sessionRepo, messageRepo, d.Blobs, realtimeSvc, accessPolicy, chatConf)
	messageSvc := chatService.NewMessageService(sessionRepo, messageRepo, accessPolicy)

	sessionH := chatHandler.NewSessionHandler(sessionSvc)
	messageH := chatHandler.NewMessageHandler(messageSvc, realtimeSvc)
	fileH := chatHandler.NewFileHandler(fileSvc, chatConf.MaxFileBytes())
	availH := chatHandler.NewAvailabilityHandler(availSvc)
	wsH := chatHandler.NewWsHandler(d.Hub, sessionSvc, realtimeSvc, accessPolicy, chatConf.WsSendBuffer, chatConf.RateLimitPerMinute)

	GE.GET("/healthz", healthz(d))
	GE.GET("/metrics", gin.WrapH(promhttp.Handler()))
	GE.GET("/chat/availability", availH.PublicStatus)
	// WebSocket 握手无法带 header，token 在 handler 内自行校验
	GE.GET("/ws/chat/:kind/:session_id", wsH.Connect)

	limited := ratelimit.PerCaller(chatConf.RateLimitPerMinute, time.Minute)

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.POST("/chat/session", sessionH.StartSession)
	authed.GET("/chat/sessions", sessionH.ListSessions)
	authed.GET("/chat/session/:session_id", sessionH.GetSession)
	authed.POST("/chat/session/:session_id/close", sessionH.CloseSession)
	authed.POST("/chat/session/:session_id/assign", sessionH.AssignSession)
	authed.POST("/chat/session/:session_id/message", limited, messageH.SendMessage)
	authed.GET("/chat/session/:session_id/messages", messageH.GetMessageList)
	authed.POST("/chat/session/:session_id/upload", limited, fileH.UploadFile)
	authed.GET("/chat/files/:stored_name", fileH.DownloadFile)
	authed.POST("/chat/agent/availability", availH.SetAvailability)
	authed.GET("/chat/agent/availability", availH.GetMyAvailability)
	authed.GET("/chat/agents/available", availH.GetAvailableAgents)

	return GE
}

func healthz(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"database": "ok", "storage": "ok"}
		healthy := true
		if sqlDB, err := d.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "unavailable"
			healthy = false
		}
		if d.Blobs == nil || d.Blobs.Health(ctx) != nil {
			checks["storage"] = "unavailable"
			healthy = false
		}
		// redis 可选，不可用只降级
		switch {
		case !redis.IsConnected():
			checks["redis"] = "disabled"
		case redis.Ping(ctx) != nil:
			checks["redis"] = "degraded"
		default:
			checks["redis"] = "ok"
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"healthy": healthy, "checks": checks, "connections": d.Hub.Count()})
	}
}
