// Package local 提供进程内 Sink：记录每个批次，可注入延迟、失败和单条消息上限。
//
// 用于测试、压测基线和未配置后端时的 dry-run：
//   - 零网络开销：批次仅保存在内存中
//   - WithLatency 模拟后端响应时间（尊重 ctx 取消）
//   - WithFailure / WithFailFunc 模拟后端拒绝
//
// 用法：
//
//	s := local.New(local.WithLatency(10 * time.Millisecond))
//	client, _ := pubsub.NewClient(pubsub.Config{}, s)
package local

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/message"
)

// ErrClosed Sink 已关闭
var ErrClosed = errors.New("local sink: closed")

// Sent 一次 Send 调用的记录
type Sent struct {
	ProjectID string
	Topic     string
	Batch     core.Batch
	At        time.Time
}

// Option 配置选项
type Option func(*Sink)

// WithLatency 每次 Send 前等待 d
func WithLatency(d time.Duration) Option {
	return func(s *Sink) { s.latency = d }
}

// WithFailure 每次 Send 返回 err
func WithFailure(err error) Option {
	return func(s *Sink) {
		s.fail = func(string, core.Batch) error { return err }
	}
}

// WithFailFunc 按 topic/批次决定是否失败
func WithFailFunc(fn func(topic string, batch core.Batch) error) Option {
	return func(s *Sink) { s.fail = fn }
}

// WithMaxMessageBytes 声明单条消息上限（实现 core.SizeLimiter）
func WithMaxMessageBytes(n int) Option {
	return func(s *Sink) { s.maxBytes = n }
}

// WithRequireProject 拒绝空 projectID
func WithRequireProject() Option {
	return func(s *Sink) { s.requireProject = true }
}

// Sink 进程内记录型 Sink
type Sink struct {
	latency        time.Duration
	fail           func(topic string, batch core.Batch) error
	maxBytes       int
	requireProject bool

	mu   sync.Mutex
	sent []Sent

	sends  atomic.Int64
	closed atomic.Bool
}

// New 创建本地 Sink
func New(opts ...Option) *Sink {
	s := &Sink{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send 记录批次。失败的批次不记录。
func (s *Sink) Send(ctx context.Context, projectID, topic string, batch core.Batch) error {
	s.sends.Add(1)
	if s.closed.Load() {
		return ErrClosed
	}
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	if s.fail != nil {
		if err := s.fail(topic, batch); err != nil {
			return err
		}
	}

	cp := make(core.Batch, len(batch))
	copy(cp, batch)

	s.mu.Lock()
	s.sent = append(s.sent, Sent{ProjectID: projectID, Topic: topic, Batch: cp, At: time.Now()})
	s.mu.Unlock()
	return nil
}

// Close 关闭 Sink，之后 Send 返回 ErrClosed
func (s *Sink) Close() error {
	s.closed.Store(true)
	return nil
}

// MaxMessageBytes 实现 core.SizeLimiter（0 表示不限）
func (s *Sink) MaxMessageBytes() int { return s.maxBytes }

// ValidateProject 实现 core.ProjectValidator
func (s *Sink) ValidateProject(projectID string) error {
	if s.requireProject && projectID == "" {
		return &core.ConfigError{Field: "projectID", Reason: "required by sink"}
	}
	return nil
}

// Sent 所有成功记录（按完成顺序）
func (s *Sink) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}

// Batches 指定 topic 的成功批次（按完成顺序）
func (s *Sink) Batches(topic string) []core.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Batch
	for _, r := range s.sent {
		if r.Topic == topic {
			out = append(out, r.Batch)
		}
	}
	return out
}

// Messages 指定 topic 已确认的全部消息（按投递顺序）
func (s *Sink) Messages(topic string) []*message.Message {
	var out []*message.Message
	for _, b := range s.Batches(topic) {
		out = append(out, b...)
	}
	return out
}

// Sends Send 调用次数（含失败）
func (s *Sink) Sends() int64 { return s.sends.Load() }

// Closed 是否已关闭
func (s *Sink) Closed() bool { return s.closed.Load() }

// Reset 清空记录
func (s *Sink) Reset() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
	s.sends.Store(0)
}
