package initial

import (
	"strings"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	chatEvent "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/event"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/mq"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/mq/kafka"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
)

// EventPublisher 关机时需要 Close 的发布器
type EventPublisher interface {
	chatEvent.Publisher
	Close() error
}

type noopCloser struct {
	chatEvent.Publisher
}

func (noopCloser) Close() error { return nil }

// InitEventPublisher 未配置 broker 时返回空实现；建 topic 失败只告警，由 broker 端自动建
func InitEventPublisher(conf config.KafkaConfig) (EventPublisher, error) {
	brokers := make([]string, 0, len(conf.Brokers))
	for _, b := range conf.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		zlog.Info("kafka not configured, chat events are dropped")
		return noopCloser{mq.NewNoopEventPublisher()}, nil
	}

	partitions := conf.Partitions
	if partitions <= 0 {
		partitions = 3
	}
	replication := conf.Replication
	if replication <= 0 {
		replication = 1
	}
	if err := kafka.EnsureTopic(kafka.TopicAdminConfig{Brokers: brokers, ClientID: conf.ClientID}, conf.EventTopic, partitions, replication); err != nil {
		zlog.Warn("ensure kafka topic failed", zap.String("topic", conf.EventTopic), zap.Error(err))
	}

	pub, err := kafka.NewSaramaPublisher(kafka.PublisherConfig{Brokers: brokers, ClientID: conf.ClientID})
	if err != nil {
		return nil, err
	}
	zlog.Info("kafka publisher ready", zap.Strings("brokers", brokers), zap.String("topic", conf.EventTopic))
	return mq.NewAsyncEventPublisher(pub, conf.EventTopic, conf.QueueSize), nil
}
