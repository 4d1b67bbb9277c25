// Package nats 提供 NATS Sink：topic 映射为 subject，属性映射为消息 header。
//
// NATS core 发布是 fire-and-forget，Send 在整批写出后 flush 到服务器作为确认点。
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// HeaderMessageID 携带消息 ID 的 header
const HeaderMessageID = "Nats-Msg-Id"

// DefaultFlushTimeout ctx 无截止时间时的 flush 超时
const DefaultFlushTimeout = 5 * time.Second

// conn *nats.Conn 中 Sink 用到的部分
type conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	FlushTimeout(timeout time.Duration) error
	MaxPayload() int64
	Drain() error
}

// Sink NATS 投递端
type Sink struct {
	nc     conn
	prefix string
}

// Option 配置选项
type Option func(*Sink)

// WithSubjectPrefix subject 前缀（如 "k6." → "k6.<topic>"）
func WithSubjectPrefix(prefix string) Option {
	return func(s *Sink) { s.prefix = prefix }
}

// New 连接 NATS 服务器
func New(url string, natsOpts []nats.Option, opts ...Option) (*Sink, error) {
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newSink(nc, opts...), nil
}

func newSink(nc conn, opts ...Option) *Sink {
	s := &Sink{nc: nc}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send 按顺序发布整批消息，然后 flush 等待服务器确认已收到。
func (s *Sink) Send(ctx context.Context, projectID, topic string, batch core.Batch) error {
	subject := s.prefix + topic
	for _, m := range batch {
		msg := &nats.Msg{
			Subject: subject,
			Data:    m.Data,
			Header:  make(nats.Header, len(m.Attributes)+1),
		}
		for k, v := range m.Attributes {
			msg.Header.Set(k, v)
		}
		msg.Header.Set(HeaderMessageID, m.ID)
		if projectID != "" {
			msg.Header.Set("Project-Id", projectID)
		}
		if err := s.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
	}

	var err error
	if _, ok := ctx.Deadline(); ok {
		err = s.nc.FlushWithContext(ctx)
	} else {
		err = s.nc.FlushTimeout(DefaultFlushTimeout)
	}
	if err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// Close 排空连接后关闭
func (s *Sink) Close() error {
	return s.nc.Drain()
}

// MaxMessageBytes 实现 core.SizeLimiter（服务器声明的 max_payload）
func (s *Sink) MaxMessageBytes() int {
	return int(s.nc.MaxPayload())
}
