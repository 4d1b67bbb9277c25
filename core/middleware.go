package core

import (
	"context"
)

// SendFunc 批次投递函数（Sink.Send 的函数形式）
type SendFunc func(ctx context.Context, projectID, topic string, batch Batch) error

// Middleware 投递中间件
//
// 包装 SendFunc，在投递前后添加逻辑（重试、超时、日志、追踪等），类似 HTTP 中间件。
//
//	func myMiddleware(next core.SendFunc) core.SendFunc {
//	    return func(ctx context.Context, projectID, topic string, batch core.Batch) error {
//	        // 前置逻辑
//	        err := next(ctx, projectID, topic, batch)
//	        // 后置逻辑
//	        return err
//	    }
//	}
type Middleware func(next SendFunc) SendFunc

// Wrap 用中间件链包装 Sink。mws[0] 为最外层。
// 返回的 Sink 保留原 Sink 的 Close 以及 SizeLimiter/ProjectValidator 能力。
func Wrap(sink Sink, mws ...Middleware) Sink {
	if len(mws) == 0 {
		return sink
	}
	fn := SendFunc(sink.Send)
	for i := len(mws) - 1; i >= 0; i-- {
		fn = mws[i](fn)
	}
	return &wrapped{inner: sink, send: fn}
}

type wrapped struct {
	inner Sink
	send  SendFunc
}

func (w *wrapped) Send(ctx context.Context, projectID, topic string, batch Batch) error {
	return w.send(ctx, projectID, topic, batch)
}

func (w *wrapped) Close() error { return w.inner.Close() }

func (w *wrapped) MaxMessageBytes() int {
	if l, ok := w.inner.(SizeLimiter); ok {
		return l.MaxMessageBytes()
	}
	return 0
}

func (w *wrapped) ValidateProject(projectID string) error {
	if v, ok := w.inner.(ProjectValidator); ok {
		return v.ValidateProject(projectID)
	}
	return nil
}
