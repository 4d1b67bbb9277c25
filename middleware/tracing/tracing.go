// Package tracing 提供 OpenTelemetry 投递追踪中间件。
//
// 每次 Send 创建一个 producer span（messaging 语义属性），失败时记录错误并设置状态。
// WithPropagation 将 span context 注入每条消息的属性（W3C traceparent），供订阅端延续链路。
//
//	sink = core.Wrap(sink, tracing.New(tracing.WithTracerProvider(tp)))
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/uniyakcom/xk6-pubsub/core"
)

const instrumentationName = "github.com/uniyakcom/xk6-pubsub"

type config struct {
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
	system     string
}

// Option 配置选项
type Option func(*config)

// WithTracerProvider 指定 TracerProvider（默认 otel 全局）
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.provider = tp }
}

// WithPropagation 将 trace context 注入消息属性
func WithPropagation(p propagation.TextMapPropagator) Option {
	return func(c *config) { c.propagator = p }
}

// WithSystem messaging.system 属性值（如 "gcp_pubsub"、"kafka"）
func WithSystem(system string) Option {
	return func(c *config) { c.system = system }
}

// New 创建追踪中间件。
func New(opts ...Option) core.Middleware {
	cfg := config{system: "pubsub"}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		cfg.provider = otel.GetTracerProvider()
	}
	tracer := cfg.provider.Tracer(instrumentationName)

	return func(next core.SendFunc) core.SendFunc {
		return func(ctx context.Context, projectID, topic string, batch core.Batch) error {
			ctx, span := tracer.Start(ctx, "publish "+topic,
				trace.WithSpanKind(trace.SpanKindProducer),
				trace.WithAttributes(
					attribute.String("messaging.system", cfg.system),
					attribute.String("messaging.operation.type", "publish"),
					attribute.String("messaging.destination.name", topic),
					attribute.Int("messaging.batch.message_count", len(batch)),
					attribute.String("gcp.project_id", projectID),
				))
			defer span.End()

			if cfg.propagator != nil {
				batch = inject(ctx, cfg.propagator, batch)
			}

			err := next(ctx, projectID, topic, batch)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// inject 返回带 trace context 属性的消息副本
func inject(ctx context.Context, p propagation.TextMapPropagator, batch core.Batch) core.Batch {
	out := make(core.Batch, len(batch))
	for i, m := range batch {
		cp := *m
		attrs := m.Attributes.Copy()
		if attrs == nil {
			attrs = make(map[string]string, 2)
		}
		p.Inject(ctx, propagation.MapCarrier(attrs))
		cp.Attributes = attrs
		out[i] = &cp
	}
	return out
}
