// Package core 提供 publisher 客户端核心接口定义：投递端 Sink、批次、中间件与统计。
package core

import (
	"context"

	"github.com/uniyakcom/xk6-pubsub/message"
)

// Batch 同一 topic 的有序消息序列（批内保持入队顺序）
type Batch []*message.Message

// Size 批次字节大小（各消息 Size 之和）
func (b Batch) Size() int {
	n := 0
	for _, m := range b {
		n += m.Size()
	}
	return n
}

// Sink 投递端接口（外部协作方，实际网络传输）
//
// Send 阻塞直到后端确认或失败。返回 nil 表示整批已确认；返回 error 表示整批未确认，
// 不存在部分确认语义。重试不在核心内进行，需要时由 Sink 自身或 middleware/retry 负责。
type Sink interface {
	// Send 投递一个批次。
	Send(ctx context.Context, projectID, topic string, batch Batch) error

	// Close 释放后端连接。
	Close() error
}

// SizeLimiter 可选能力：后端允许的单条消息最大字节数。
type SizeLimiter interface {
	MaxMessageBytes() int
}

// ProjectValidator 可选能力：后端对 projectID 的校验规则。
type ProjectValidator interface {
	ValidateProject(projectID string) error
}

// Stats 客户端运行时统计
type Stats struct {
	Published int64 // 已入队消息总数
	Batches   int64 // 已交给 Sink 的批次数
	Delivered int64 // 已确认消息数
	Failed    int64 // 投递失败消息数
	Timeouts  int64 // 等待超时次数
	Pending   int64 // 当前待发消息数（未切批）
	Topics    int64 // 已创建 batcher 的 topic 数
	Rejected  int64 // 被拒绝的 publish 调用（已关闭、参数非法）
}

// Add 累加另一份统计。
func (s *Stats) Add(o Stats) {
	s.Published += o.Published
	s.Batches += o.Batches
	s.Delivered += o.Delivered
	s.Failed += o.Failed
	s.Timeouts += o.Timeouts
	s.Pending += o.Pending
	s.Topics += o.Topics
	s.Rejected += o.Rejected
}
