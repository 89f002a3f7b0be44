package mq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/event"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// AsyncEventPublisher 把事件放进有界队列，由单个 worker 串行写入 broker。
// 队列满时丢弃并记日志，不阻塞请求路径
type AsyncEventPublisher struct {
	pub   Publisher
	topic string
	queue chan event.ChatEvent

	// mu 保护 closed 与向 queue 的发送，Close 持写锁关闭 queue
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncEventPublisher(pub Publisher, topic string, queueSize int) *AsyncEventPublisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &AsyncEventPublisher{
		pub:   pub,
		topic: topic,
		queue: make(chan event.ChatEvent, queueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncEventPublisher) Publish(ctx context.Context, ev event.ChatEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		zlog.Warn("event publisher closed, event dropped", zap.String("type", ev.Type))
		return
	}
	select {
	case p.queue <- ev:
	default:
		zlog.Warn("event queue full, event dropped", zap.String("type", ev.Type), zap.String("session_id", ev.SessionID))
	}
}

func (p *AsyncEventPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		value, err := json.Marshal(ev)
		if err != nil {
			zlog.Error("marshal chat event failed", zap.Error(err), zap.String("type", ev.Type))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		_, err = p.pub.Publish(ctx, Message{
			Topic:   p.topic,
			Key:     []byte(ev.SessionID),
			Value:   value,
			Headers: map[string]string{"event_type": ev.Type},
		})
		cancel()
		if err != nil {
			zlog.Warn("publish chat event failed", zap.Error(err), zap.String("type", ev.Type), zap.String("session_id", ev.SessionID))
		}
	}
}

// Close drains the queue then closes the underlying publisher.
func (p *AsyncEventPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.pub.Close()
}

type noopEventPublisher struct{}

// NewNoopEventPublisher is used when no brokers are configured.
func NewNoopEventPublisher() event.Publisher {
	return noopEventPublisher{}
}

func (noopEventPublisher) Publish(context.Context, event.ChatEvent) {}
