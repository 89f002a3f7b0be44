package ratelimit

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Strategy 限流算法
type Strategy interface {
	// Allow key: 限流标识; limit: 窗口内允许次数; window: 窗口长度
	Allow(ctx context.Context, rdb *goredis.Client, key string, limit int, window time.Duration) (bool, error)
}

type Manager struct {
	rdb      *goredis.Client
	strategy Strategy
}

func NewManager(rdb *goredis.Client, strategy Strategy) *Manager {
	return &Manager{rdb: rdb, strategy: strategy}
}

func (m *Manager) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return m.strategy.Allow(ctx, m.rdb, key, limit, window)
}

// FixedWindowStrategy INCR + EXPIRE 计数器
type FixedWindowStrategy struct{}

const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`

func (s *FixedWindowStrategy) Allow(ctx context.Context, rdb *goredis.Client, key string, limit int, window time.Duration) (bool, error) {
	secs := int(window.Seconds())
	if secs <= 0 {
		secs = 1
	}
	result, err := rdb.Eval(ctx, fixedWindowScript, []string{key}, limit, secs).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
