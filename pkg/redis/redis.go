package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil 透出 go-redis 的 key 不存在错误，调用方不必再引一次 go-redis
const Nil = redis.Nil

var client *redis.Client

// SetClient 设置 Redis 客户端（由 internal/initial 调用）
func SetClient(c *redis.Client) {
	client = c
}

// Close 关闭 Redis 连接
func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}

// IsConnected 检查 Redis 是否已连接
func IsConnected() bool {
	return client != nil
}

// GetClient 获取原始 Redis 客户端（高级用法）
func GetClient() *redis.Client {
	return client
}

func checkClient() error {
	if client == nil {
		return fmt.Errorf("redis not connected")
	}
	return nil
}

// Ping 健康检查
func Ping(ctx context.Context) error {
	if err := checkClient(); err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

// Get 获取字符串值，key 不存在时返回 Nil
func Get(ctx context.Context, key string) (string, error) {
	if err := checkClient(); err != nil {
		return "", err
	}
	return client.Get(ctx, key).Result()
}

// Set 设置字符串值
func Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := checkClient(); err != nil {
		return err
	}
	return client.Set(ctx, key, value, expiration).Err()
}

// SetNX 仅在 key 不存在时设置值
func SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if err := checkClient(); err != nil {
		return false, err
	}
	return client.SetNX(ctx, key, value, expiration).Result()
}

// Del 删除 key
func Del(ctx context.Context, keys ...string) (int64, error) {
	if err := checkClient(); err != nil {
		return 0, err
	}
	return client.Del(ctx, keys...).Result()
}

// Eval 执行 Lua 脚本
func Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if err := checkClient(); err != nil {
		return nil, err
	}
	return client.Eval(ctx, script, keys, args...).Result()
}

// ==================== 分布式锁 ====================

// 只删除自己持有的锁，防止过期后误删别人的
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Lock 获取分布式锁，token 用于释放时校验持有者
func Lock(ctx context.Context, key string, token string, expiration time.Duration) (bool, error) {
	return SetNX(ctx, key, token, expiration)
}

// Unlock 释放分布式锁
func Unlock(ctx context.Context, key string, token string) error {
	_, err := Eval(ctx, unlockScript, []string{key}, token)
	return err
}
