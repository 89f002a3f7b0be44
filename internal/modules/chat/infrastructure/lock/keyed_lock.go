package lock

import (
	"context"
	"sync"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/pkg/redis"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/util"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
)

// Locker serializes work per key, e.g. one StartSession per user at a time.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NewLocker 有 Redis 时走分布式锁，多实例部署也能互斥；否则退化为进程内锁
func NewLocker() Locker {
	if redis.IsConnected() {
		return NewRedisLocker("chat:lock:", 10*time.Second)
	}
	return NewMemoryLocker()
}

type memoryLocker struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

// refMutex 用容量为 1 的 channel 做互斥，等待时可以响应 ctx
type refMutex struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() Locker {
	return &memoryLocker{locks: make(map[string]*refMutex)}
}

func (l *memoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &refMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, m)
		return nil, ctx.Err()
	}
	return func() {
		<-m.ch
		l.release(key, m)
	}, nil
}

func (l *memoryLocker) release(key string, m *refMutex) {
	l.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

type redisLocker struct {
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(prefix string, ttl time.Duration) Locker {
	return &redisLocker{prefix: prefix, ttl: ttl, retry: 20 * time.Millisecond}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := util.GenerateUUID()
	for {
		ok, err := redis.Lock(ctx, k, token, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// 请求 ctx 可能已取消，释放锁用独立 ctx
				uctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := redis.Unlock(uctx, k, token); err != nil {
					zlog.Warn("release redis lock failed", zap.String("key", k), zap.Error(err))
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
