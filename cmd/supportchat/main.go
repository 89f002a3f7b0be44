package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	https_server "github.com/jimrulison/CustomermindIQ-sub002/api/http"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/initial"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/storage"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/redis"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置，文件缺失时用默认值继续启动
	conf, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}
	config.SetConfig(conf)

	zlog.Init(zlog.Options{
		LogPath:    conf.LogConfig.LogPath,
		Level:      conf.LogConfig.Level,
		MaxSizeMB:  conf.LogConfig.MaxSizeMB,
		MaxBackups: conf.LogConfig.MaxBackups,
		MaxAgeDays: conf.LogConfig.MaxAgeDays,
	})
	defer zlog.Sync()

	// 2. 基础设施
	db, err := initial.InitGorm(conf.MysqlConfig)
	if err != nil {
		zlog.Fatal("数据库初始化失败", zap.Error(err))
	}
	// redis 不可用时降级为进程内锁、不限流、不缓存
	if err := initial.InitRedis(conf.RedisConfig); err != nil {
		zlog.Warn("redis unavailable, running without it", zap.Error(err))
	}
	publisher, err := initial.InitEventPublisher(conf.KafkaConfig)
	if err != nil {
		zlog.Fatal("事件发布初始化失败", zap.Error(err))
	}
	blobs, err := storage.NewBlobStore(context.Background(), conf.StorageConfig)
	if err != nil {
		zlog.Fatal("附件存储初始化失败", zap.Error(err))
	}
	hub := ws.NewHub()

	engine := https_server.NewEngine(https_server.Deps{
		Config: conf,
		DB:     db,
		Blobs:  blobs,
		Events: publisher,
		Hub:    hub,
	})

	// 3. 启动 HTTP 服务
	addr := net.JoinHostPort(conf.MainConfig.Host, strconv.Itoa(conf.MainConfig.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zlog.Info("服务器正在启动", zap.String("addr", addr), zap.Bool("tls", conf.MainConfig.TLS))
		var err error
		if conf.MainConfig.TLS {
			err = srv.ListenAndServeTLS(conf.MainConfig.CertFile, conf.MainConfig.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	// 4. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务器...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("http shutdown", zap.Error(err))
	}
	hub.CloseAll()
	if err := publisher.Close(); err != nil {
		zlog.Error("event publisher close", zap.Error(err))
	}
	if err := redis.Close(); err != nil {
		zlog.Error("redis close", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	zlog.Info("服务器已关闭")
}
