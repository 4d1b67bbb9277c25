// Package pubsub 统一API入口
//
// 批量发布客户端：按 topic 缓冲消息，达到条数、字节或滞留时间阈值后
// 整批交给 Sink 投递；Close 排空所有 topic 并汇总失败。
package pubsub

import (
	"context"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/internal/impl/publisher"
	"github.com/uniyakcom/xk6-pubsub/message"
	"github.com/uniyakcom/xk6-pubsub/optimize"
	"github.com/uniyakcom/xk6-pubsub/sink"
	"github.com/uniyakcom/xk6-pubsub/sink/local"
)

// Client 导出发布客户端
type Client = publisher.Client

// Config 导出客户端配置
type Config = publisher.Config

// Message 导出消息类型
type Message = message.Message

// Attributes 导出消息属性
type Attributes = message.Attributes

// Batch 导出批次类型
type Batch = core.Batch

// Sink 导出投递端接口
type Sink = core.Sink

// SendFunc 导出发送函数类型
type SendFunc = core.SendFunc

// Middleware 导出投递中间件
type Middleware = core.Middleware

// Stats 导出运行时统计
type Stats = core.Stats

// Profile 导出批处理 Profile
type Profile = optimize.Profile

// SinkConfig 导出后端配置
type SinkConfig = sink.Config

// 错误
var (
	ErrConfig          = core.ErrConfig
	ErrInvalidArgument = core.ErrInvalidArgument
	ErrClosed          = core.ErrClosed
	ErrAlreadyClosed   = core.ErrAlreadyClosed
	ErrTimeout         = core.ErrTimeout
	ErrDelivery        = core.ErrDelivery
)

type (
	ConfigError          = core.ConfigError
	InvalidArgumentError = core.InvalidArgumentError
	ClosedClientError    = core.ClosedClientError
	AlreadyClosedError   = core.AlreadyClosedError
	TimeoutError         = core.TimeoutError
	DeliveryError        = core.DeliveryError
	CloseError           = core.CloseError
)

// ═══════════════════════════════════════════════════════════════════
// 第零层：New() 零配置入口
// ═══════════════════════════════════════════════════════════════════

// New 零配置创建客户端（按运行时环境选择预设）
//
// 用法:
//
//	client, _ := pubsub.New("my-project", sink)
//	defer client.Close()
func New(projectID string, s Sink) (*Client, error) {
	return Option(optimize.AutoDetect(), Config{ProjectID: projectID}, s)
}

// NewClient 完全由调用方配置创建客户端
func NewClient(cfg Config, s Sink) (*Client, error) {
	return publisher.New(cfg, s)
}

// DefaultConfig 默认配置（5s 超时，100 条 / 1MB / 100ms）
func DefaultConfig() Config {
	return publisher.DefaultConfig()
}

// ═══════════════════════════════════════════════════════════════════
// 第一层：ForXxx() 三大核心预设
// ═══════════════════════════════════════════════════════════════════

// ForLatency 小批次、10ms linger，适合单条时延测量
func ForLatency(projectID string, s Sink) (*Client, error) {
	return Option(optimize.Latency(), Config{ProjectID: projectID}, s)
}

// ForBalanced 默认阈值
func ForBalanced(projectID string, s Sink) (*Client, error) {
	return Option(optimize.Balanced(), Config{ProjectID: projectID}, s)
}

// ForThroughput 大批次、发送 worker 按核数限定，适合灌数
func ForThroughput(projectID string, s Sink) (*Client, error) {
	return Option(optimize.Throughput(), Config{ProjectID: projectID}, s)
}

// ═══════════════════════════════════════════════════════════════════
// 第二层：Scenario() 字符串配置
// ═══════════════════════════════════════════════════════════════════

// Scenario 预设场景快速创建
// name: "latency", "balanced", "throughput", "auto"；未知名称按 balanced
func Scenario(name, projectID string, s Sink) (*Client, error) {
	p := optimize.Preset(name)
	if name == "auto" {
		p = optimize.AutoDetect()
	}
	return Option(p, Config{ProjectID: projectID}, s)
}

// ═══════════════════════════════════════════════════════════════════
// 第三层：Option() 完全控制
// ═══════════════════════════════════════════════════════════════════

// Option 按 Profile 推荐阈值，base 提供项目、日志与回调
func Option(p *Profile, base Config, s Sink) (*Client, error) {
	if p == nil {
		p = optimize.Balanced()
	}
	return optimize.Build(optimize.NewAdvisor().Advise(p), base, s)
}

// ═══════════════════════════════════════════════════════════════════
// Sink
// ═══════════════════════════════════════════════════════════════════

// Open 按后端名称创建 Sink
func Open(ctx context.Context, projectID string, cfg SinkConfig) (Sink, error) {
	return sink.Open(ctx, projectID, cfg)
}

// Wrap 为 Sink 套上中间件（第一个在最外层）
func Wrap(s Sink, mws ...Middleware) Sink {
	return core.Wrap(s, mws...)
}

// NewLocalSink 内存投递端：记录每个批次，可注入延迟与失败
func NewLocalSink(opts ...local.Option) *local.Sink {
	return local.New(opts...)
}

// NewMessage 创建消息（复制 data 与 attrs）
func NewMessage(data []byte, attrs map[string]string) *Message {
	return message.New(data, attrs)
}
