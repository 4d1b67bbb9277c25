// Package zmq 提供 ZeroMQ PUB Sink（纯 Go 实现 go-zeromq/zmq4）。
//
// 每条消息发送为两帧：[topic, JSON 信封]，订阅端按 topic 前缀订阅。
// PUB socket 无确认语义：Send 成功表示已写入所有已连接的对端。
package zmq

import (
	"context"
	"fmt"
	"net"
	"sync"

	zmq "github.com/go-zeromq/zmq4"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/marshal"
)

// Sink ZeroMQ 投递端
type Sink struct {
	mu    sync.Mutex // zmq socket 非并发安全
	pub   zmq.Socket
	codec marshal.Codec
}

// New 创建 PUB socket 并监听 endpoint（如 "tcp://*:5563"）
func New(ctx context.Context, endpoint string) (*Sink, error) {
	pub := zmq.NewPub(ctx)
	if err := pub.Listen(endpoint); err != nil {
		pub.Close()
		return nil, fmt.Errorf("listen %s: %w", endpoint, err)
	}
	return &Sink{pub: pub, codec: marshal.JSON{}}, nil
}

// Addr 实际监听地址
func (s *Sink) Addr() net.Addr { return s.pub.Addr() }

// Send 按顺序发送整批消息
func (s *Sink) Send(ctx context.Context, _, topic string, batch core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		env, err := s.codec.Marshal(topic, m)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		if err := s.pub.Send(zmq.NewMsgFrom([]byte(topic), env)); err != nil {
			return fmt.Errorf("send %s: %w", topic, err)
		}
	}
	return nil
}

// Close 关闭 socket
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pub.Close()
}
