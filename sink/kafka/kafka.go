// Package kafka 提供 Kafka Sink（confluent-kafka-go）。
//
// topic 直接映射为 Kafka topic，消息 ID 作为 key，属性作为 header。
// Send 为整批消息共用一个 delivery channel，等待全部 delivery report。
package kafka

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/multierr"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// DefaultMaxMessageBytes broker 默认 message.max.bytes
const DefaultMaxMessageBytes = 1000 * 1000

// closeFlushMs Close 时等待未完成投递的毫秒数
const closeFlushMs = 5000

// producer *kafka.Producer 中 Sink 用到的部分
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Sink Kafka 投递端
type Sink struct {
	p        producer
	maxBytes int
}

// New 创建 producer。cfg 至少包含 bootstrap.servers。
func New(cfg kafka.ConfigMap) (*Sink, error) {
	maxBytes := DefaultMaxMessageBytes
	if v, ok := cfg["message.max.bytes"].(int); ok && v > 0 {
		maxBytes = v
	}
	p, err := kafka.NewProducer(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Sink{p: p, maxBytes: maxBytes}, nil
}

// Send 发送整批消息并等待全部 delivery report。
func (s *Sink) Send(ctx context.Context, _, topic string, batch core.Batch) error {
	reports := make(chan kafka.Event, len(batch))

	produced := 0
	var err error
	for _, m := range batch {
		headers := make([]kafka.Header, 0, len(m.Attributes))
		for k, v := range m.Attributes {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		perr := s.p.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
			Key:            []byte(m.ID),
			Value:          m.Data,
			Headers:        headers,
			Timestamp:      m.PublishTime,
		}, reports)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("produce message %s: %w", m.ID, perr))
			continue
		}
		produced++
	}

	for i := 0; i < produced; i++ {
		select {
		case ev := <-reports:
			m, ok := ev.(*kafka.Message)
			if !ok {
				err = multierr.Append(err, fmt.Errorf("unexpected event type %T", ev))
				continue
			}
			if m.TopicPartition.Error != nil {
				err = multierr.Append(err, fmt.Errorf("delivery failed: %w", m.TopicPartition.Error))
			}
		case <-ctx.Done():
			return multierr.Append(err, ctx.Err())
		}
	}
	return err
}

// Close flush 后关闭 producer
func (s *Sink) Close() error {
	remaining := s.p.Flush(closeFlushMs)
	s.p.Close()
	if remaining > 0 {
		return fmt.Errorf("kafka producer closed with %d undelivered messages", remaining)
	}
	return nil
}

// MaxMessageBytes 实现 core.SizeLimiter
func (s *Sink) MaxMessageBytes() int { return s.maxBytes }
