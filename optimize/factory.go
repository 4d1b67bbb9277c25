// Package optimize factory工厂
package optimize

import (
	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/internal/impl/publisher"
)

// Build 根据推荐配置构建客户端。base 中的 ProjectID、日志、调试开关与 OnError 保留。
func Build(advised *Advised, base publisher.Config, sink core.Sink) (*publisher.Client, error) {
	cfg := advised.Config
	cfg.ProjectID = base.ProjectID
	cfg.Debug = base.Debug
	cfg.Trace = base.Trace
	cfg.Logger = base.Logger
	cfg.OnError = base.OnError
	if base.PublishTimeout != 0 {
		cfg.PublishTimeout = base.PublishTimeout
	}
	if base.MaxMessageBytes != 0 {
		cfg.MaxMessageBytes = base.MaxMessageBytes
	}
	return publisher.New(cfg, sink)
}
