// Package timeout 提供单次投递超时中间件。
//
// 为每次 Send 设置截止时间，超时后 context 取消。Sink 应通过 ctx.Done() 感知超时。
// 与 publishTimeout 不同：publishTimeout 只限制调用方等待，投递在后台继续；
// 本中间件限制投递本身。
//
//	sink = core.Wrap(sink, timeout.New(2 * time.Second))
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// ErrSendTimeout 单次投递超过截止时间
var ErrSendTimeout = errors.New("send deadline exceeded")

// New 创建超时中间件。d <= 0 时不设截止时间。
func New(d time.Duration) core.Middleware {
	return func(next core.SendFunc) core.SendFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, projectID, topic string, batch core.Batch) error {
			ctx, cancel := context.WithTimeoutCause(ctx, d, ErrSendTimeout)
			defer cancel()

			err := next(ctx, projectID, topic, batch)
			if err != nil && errors.Is(context.Cause(ctx), ErrSendTimeout) {
				return fmt.Errorf("%w after %v: %w", ErrSendTimeout, d, err)
			}
			return err
		}
	}
}
