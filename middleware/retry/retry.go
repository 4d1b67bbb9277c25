// Package retry 提供批次投递失败重试中间件。
//
// 基于 cenkalti/backoff 的指数退避，支持最大重试次数、自定义判断函数。
// 重试只在 Sink 外层进行，batcher 本身不重试。
//
//	sink = core.Wrap(sink, retry.New(retry.Config{
//	    MaxRetries:      3,
//	    InitialInterval: 100 * time.Millisecond,
//	}))
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// Config 重试配置
type Config struct {
	// MaxRetries 最大重试次数（不含首次执行）。默认 3。
	MaxRetries int

	// InitialInterval 首次重试间隔。默认 100ms。
	InitialInterval time.Duration

	// MaxInterval 最大重试间隔（指数退避上限）。默认 10s。
	MaxInterval time.Duration

	// Multiplier 退避乘数。默认 2.0。
	Multiplier float64

	// Jitter 随机化因子（0~1）。默认 0，不加抖动。
	Jitter float64

	// ShouldRetry 自定义是否重试判断。为 nil 时除 context 错误与 panic 外都重试。
	ShouldRetry func(err error) bool
}

func (c *Config) defaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = retryable
	}
}

func retryable(err error) bool {
	var pe *core.PanicError
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.As(err, &pe)
}

// New 创建重试中间件。
func New(cfg Config) core.Middleware {
	cfg.defaults()

	return func(next core.SendFunc) core.SendFunc {
		return func(ctx context.Context, projectID, topic string, batch core.Batch) error {
			b := &backoff.ExponentialBackOff{
				InitialInterval:     cfg.InitialInterval,
				RandomizationFactor: cfg.Jitter,
				Multiplier:          cfg.Multiplier,
				MaxInterval:         cfg.MaxInterval,
			}

			op := func() (struct{}, error) {
				err := next(ctx, projectID, topic, batch)
				if err != nil && !cfg.ShouldRetry(err) {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}

			_, err := backoff.Retry(ctx, op,
				backoff.WithBackOff(b),
				backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
			)
			return err
		}
	}
}
