// Package redis 提供 Redis Sink（go-redis）。
//
// 两种模式：
//   - ModePubSub（默认）：PUBLISH 到 channel，payload 为 JSON 信封
//   - ModeStream：XADD 到 stream，字段为 id/data/属性，可被消费组持久消费
//
// 整批消息通过一个 pipeline 发送，保持批内顺序。
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/marshal"
)

// Mode 投递模式
type Mode string

const (
	ModePubSub Mode = "pubsub"
	ModeStream Mode = "stream"
)

// MaxMessageBytes Redis 单个字符串值上限（512MB）
const MaxMessageBytes = 512 * 1024 * 1024

// Sink Redis 投递端
type Sink struct {
	client redis.UniversalClient
	mode   Mode
	prefix string
	maxLen int64
	codec  marshal.Codec
	owned  bool
}

// Option 配置选项
type Option func(*Sink)

// WithMode 投递模式
func WithMode(m Mode) Option {
	return func(s *Sink) { s.mode = m }
}

// WithKeyPrefix channel/stream 名前缀
func WithKeyPrefix(prefix string) Option {
	return func(s *Sink) { s.prefix = prefix }
}

// WithStreamMaxLen stream 近似最大长度（XADD MAXLEN ~）
func WithStreamMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// New 按 URL 连接（如 "redis://localhost:6379/0"）
func New(url string, opts ...Option) (*Sink, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s := NewFromClient(redis.NewClient(o), opts...)
	s.owned = true
	return s, nil
}

// NewFromClient 复用已有客户端。Close 不关闭外部传入的客户端。
func NewFromClient(client redis.UniversalClient, opts ...Option) *Sink {
	s := &Sink{client: client, mode: ModePubSub, codec: marshal.JSON{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send 通过 pipeline 发送整批消息
func (s *Sink) Send(ctx context.Context, _, topic string, batch core.Batch) error {
	key := s.prefix + topic
	pipe := s.client.Pipeline()

	for _, m := range batch {
		switch s.mode {
		case ModeStream:
			values := make(map[string]any, len(m.Attributes)+2)
			for k, v := range m.Attributes {
				values["attr:"+k] = v
			}
			values["id"] = m.ID
			values["data"] = m.Data
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: key,
				MaxLen: s.maxLen,
				Approx: s.maxLen > 0,
				Values: values,
			})
		default:
			env, err := s.codec.Marshal(topic, m)
			if err != nil {
				return fmt.Errorf("encode message %s: %w", m.ID, err)
			}
			pipe.Publish(ctx, key, env)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis %s %s: %w", s.mode, key, err)
	}
	return nil
}

// Close 关闭自己创建的客户端
func (s *Sink) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// MaxMessageBytes 实现 core.SizeLimiter
func (s *Sink) MaxMessageBytes() int { return MaxMessageBytes }
