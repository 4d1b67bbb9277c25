// Package publisher 提供 PublisherClient：按 topic 懒创建 batcher，负责发布、排空与关闭。
package publisher

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/internal/impl/batcher"
)

// 默认值
const (
	DefaultPublishTimeout  = 5 * time.Second
	DefaultMaxMessageBytes = 10 * 1000 * 1000
)

// Config 客户端配置
type Config struct {
	// ProjectID 项目标识，可为空（除非 Sink 拒绝）
	ProjectID string

	// PublishTimeout 等待单次 flush 结果的上限。0 使用默认 5s，负数为 ConfigError。
	PublishTimeout time.Duration

	// 调试开关，不影响投递语义
	Debug bool
	Trace bool

	// 批处理阈值（0 使用默认值，负数为 ConfigError）
	MaxMessages int
	MaxBytes    int
	Linger      time.Duration // 0 使用默认 100ms，负数关闭定时切批

	// MaxMessageBytes 单条消息上限，与 Sink 的 SizeLimiter 取较小值
	MaxMessageBytes int

	// SendWorkers 发送 worker 数（ants pool）。0 不限。
	SendWorkers int

	// Logger 调用方提供的日志器，优先于 Debug/Trace
	Logger *zap.Logger

	// OnError 接收无人等待的投递失败
	OnError func(topic string, err error)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PublishTimeout:  DefaultPublishTimeout,
		MaxMessages:     batcher.DefaultMaxMessages,
		MaxBytes:        batcher.DefaultMaxBytes,
		Linger:          batcher.DefaultLinger,
		MaxMessageBytes: DefaultMaxMessageBytes,
	}
}

// OptConfig 高吞吐配置：更大批次，发送 worker 按核数限定
func OptConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxMessages = 1000
	cfg.MaxBytes = 9 * 1000 * 1000
	cfg.Linger = 50 * time.Millisecond
	cfg.SendWorkers = runtime.NumCPU() * 4
	return cfg
}

// normalize 校验并填充默认值。limit 为 Sink 的单条消息上限（0 表示未声明）。
func (c *Config) normalize(limit int) error {
	switch {
	case c.PublishTimeout < 0:
		return &core.ConfigError{Field: "publishTimeout", Reason: "must be positive"}
	case c.MaxMessages < 0:
		return &core.ConfigError{Field: "maxMessages", Reason: "must not be negative"}
	case c.MaxBytes < 0:
		return &core.ConfigError{Field: "maxBytes", Reason: "must not be negative"}
	case c.MaxMessageBytes < 0:
		return &core.ConfigError{Field: "maxMessageBytes", Reason: "must not be negative"}
	case c.SendWorkers < 0:
		return &core.ConfigError{Field: "sendWorkers", Reason: "must not be negative"}
	}

	if c.PublishTimeout == 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = batcher.DefaultMaxMessages
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = batcher.DefaultMaxBytes
	}
	if c.Linger == 0 {
		c.Linger = batcher.DefaultLinger
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if limit > 0 && limit < c.MaxMessageBytes {
		c.MaxMessageBytes = limit
	}
	return nil
}
