package initial

import (
	"context"
	"fmt"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/redis"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InitRedis 未配置主机时跳过；此时锁退化为进程内互斥，限流与状态缓存关闭
func InitRedis(conf config.RedisConfig) error {
	host := conf.Host
	if host == "" {
		zlog.Info("redis not configured, running without it")
		return nil
	}
	port := conf.Port
	if port == 0 {
		port = 6379
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	zlog.Info("redis connecting", zap.String("addr", addr))

	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     conf.Password,
		DB:           conf.DB,
		PoolSize:     conf.PoolSize,
		MinIdleConns: conf.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping %s: %w", addr, err)
	}

	redis.SetClient(client)
	zlog.Info("redis connected", zap.String("addr", addr))
	return nil
}
