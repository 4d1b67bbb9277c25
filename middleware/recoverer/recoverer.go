// Package recoverer 提供 panic 恢复中间件。
//
// 捕获 Sink 内的 panic 并转化为 *core.PanicError 返回，
// 使外层中间件（logging、tracing）也能看到该失败。
//
//	sink = core.Wrap(sink, logging.New(l), recoverer.New())
package recoverer

import (
	"context"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// New 创建 panic 恢复中间件。
func New() core.Middleware {
	return func(next core.SendFunc) core.SendFunc {
		return func(ctx context.Context, projectID, topic string, batch core.Batch) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &core.PanicError{Value: r}
				}
			}()
			return next(ctx, projectID, topic, batch)
		}
	}
}
