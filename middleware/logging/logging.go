// Package logging 提供批次投递日志中间件。
//
// 记录每个批次的投递耗时、消息数、字节数和错误信息。
//
//	sink = core.Wrap(sink, logging.New(logger))
package logging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// New 创建日志中间件。logger 为 nil 时使用 zap 全局 logger。
func New(logger *zap.Logger) core.Middleware {
	if logger == nil {
		logger = zap.L()
	}

	return func(next core.SendFunc) core.SendFunc {
		return func(ctx context.Context, projectID, topic string, batch core.Batch) error {
			start := time.Now()

			err := next(ctx, projectID, topic, batch)

			fields := []zap.Field{
				zap.String("project", projectID),
				zap.String("topic", topic),
				zap.Int("messages", len(batch)),
				zap.Int("bytes", batch.Size()),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Error("batch send failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("batch sent", fields...)
			}
			return err
		}
	}
}
