// Package correlation 提供批次关联 ID 中间件。
//
// 为同一批次的所有消息打上相同的 correlation_id 属性，便于在订阅端按批次关联：
//
//   - 消息已有 correlation_id → 保留
//
//   - 否则 → 使用本批次生成的 ID
//
//     sink = core.Wrap(sink, correlation.New())
//
// 已提交的消息不可变，带新属性的消息为副本。
package correlation

import (
	"context"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/message"
)

const (
	// HeaderCorrelationID 属性中的 correlation ID key
	HeaderCorrelationID = "correlation_id"
)

// New 创建 correlation ID 中间件。
func New() core.Middleware {
	return func(next core.SendFunc) core.SendFunc {
		return func(ctx context.Context, projectID, topic string, batch core.Batch) error {
			id := message.NewID()
			stamped := make(core.Batch, len(batch))
			for i, m := range batch {
				if m.Attributes.Has(HeaderCorrelationID) {
					stamped[i] = m
					continue
				}
				cp := *m
				cp.Attributes = m.Attributes.Copy()
				if cp.Attributes == nil {
					cp.Attributes = make(message.Attributes, 1)
				}
				cp.Attributes[HeaderCorrelationID] = id
				stamped[i] = &cp
			}
			return next(ctx, projectID, topic, stamped)
		}
	}
}
