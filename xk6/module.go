// Package xk6 将发布客户端注册为 k6 扩展模块 "k6/x/pubsub"。
//
//	import pubsub from 'k6/x/pubsub';
//
//	const client = pubsub.publisher({ projectID: __ENV.PUBSUB_PROJECT_ID || "" });
//	const err = pubsub.publish(client, 'topic', 'payload', { key: 'value' });
//	client.close();
package xk6

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.k6.io/k6/js/modules"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/internal/impl/publisher"
	"github.com/uniyakcom/xk6-pubsub/middleware/recoverer"
	"github.com/uniyakcom/xk6-pubsub/middleware/retry"
	"github.com/uniyakcom/xk6-pubsub/optimize"
	"github.com/uniyakcom/xk6-pubsub/sink"
)

// ImportPath 脚本中的导入路径
const ImportPath = "k6/x/pubsub"

func init() {
	modules.Register(ImportPath, New())
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// RootModule 全局模块，每个 VU 创建一个 ModuleInstance
	RootModule struct{}

	// ModuleInstance 单个 VU 的模块实例
	ModuleInstance struct {
		vu modules.VU
	}
)

var (
	_ modules.Module   = &RootModule{}
	_ modules.Instance = &ModuleInstance{}
)

// New 创建 RootModule
func New() *RootModule {
	return &RootModule{}
}

// NewModuleInstance 实现 modules.Module
func (*RootModule) NewModuleInstance(vu modules.VU) modules.Instance {
	return &ModuleInstance{vu: vu}
}

// Exports 实现 modules.Instance
func (mi *ModuleInstance) Exports() modules.Exports {
	return modules.Exports{Default: mi}
}

func (mi *ModuleInstance) context() context.Context {
	if mi.vu != nil {
		if ctx := mi.vu.Context(); ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// Client 脚本持有的发布客户端句柄
type Client struct {
	c   *publisher.Client
	ctx func() context.Context
}

// Close 排空全部 topic 并关闭；失败时抛出异常
func (c *Client) Close() error {
	return c.c.CloseContext(c.ctx())
}

// Flush 排空但不关闭
func (c *Client) Flush() error {
	return c.c.Flush(c.ctx())
}

// Stats 当前统计
func (c *Client) Stats() core.Stats {
	return c.c.Stats()
}

// Error publish 返回给脚本的错误值
type Error struct {
	Name    string `js:"name"`
	Message string `js:"message"`
	err     error
}

// Unwrap 原始错误
func (e *Error) Unwrap() error { return e.err }

func newError(err error) *Error {
	name := "PublishError"
	switch {
	case errors.Is(err, core.ErrClosed):
		name = "ClosedClientError"
	case errors.Is(err, core.ErrTimeout):
		name = "TimeoutError"
	case errors.Is(err, core.ErrInvalidArgument):
		name = "InvalidArgumentError"
	case errors.Is(err, core.ErrDelivery):
		name = "DeliveryError"
	}
	return &Error{Name: name, Message: err.Error(), err: err}
}

// Publisher 按配置创建客户端。配置非法或后端不可用时抛出异常。
func (mi *ModuleInstance) Publisher(config map[string]any) (*Client, error) {
	opts, err := decodeOptions(config)
	if err != nil {
		return nil, err
	}

	ctx := mi.context()
	s, err := sink.Open(ctx, opts.ProjectID, sink.Config{
		Backend: backendName(opts.Backend),
		URL:     opts.URL,
		Options: opts.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("xk6-pubsub: open %s sink: %w", backendName(opts.Backend), err)
	}

	mws := []core.Middleware{recoverer.New()}
	if opts.Retries > 0 {
		mws = append([]core.Middleware{retry.New(retry.Config{MaxRetries: opts.Retries})}, mws...)
	}

	c, err := publisher.New(publisherConfig(opts), core.Wrap(s, mws...))
	if err != nil {
		s.Close()
		return nil, err
	}
	return &Client{c: c, ctx: mi.context}, nil
}

// Publish 发布一条消息。成功返回 null，失败返回 {name, message}。
// 非字符串 payload 按 JSON 编码。
func (mi *ModuleInstance) Publish(client *Client, topic string, msg any, attrs map[string]any) any {
	if client == nil {
		return newError(&core.InvalidArgumentError{Arg: "client", Reason: "must not be null"})
	}
	data, err := payload(msg)
	if err != nil {
		return newError(err)
	}
	if err := client.c.Publish(mi.context(), topic, data, attributes(attrs)); err != nil {
		return newError(err)
	}
	return nil
}

func payload(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, &core.InvalidArgumentError{Arg: "msg", Reason: err.Error()}
	}
	return b, nil
}

func attributes(attrs map[string]any) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func publisherConfig(opts *options) publisher.Config {
	var p *optimize.Profile
	if opts.Preset == "auto" {
		p = optimize.AutoDetect()
	} else {
		p = optimize.Preset(opts.Preset)
	}
	cfg := optimize.NewAdvisor().Advise(p).Config
	cfg.ProjectID = opts.ProjectID
	cfg.Debug = opts.Debug
	cfg.Trace = opts.Trace

	override := optimize.Profile{
		MaxMessages: opts.MaxMessages,
		MaxBytes:    opts.MaxBytes,
		SendWorkers: opts.SendWorkers,
	}
	if opts.PublishTimeout != nil {
		override.PublishTimeout = *opts.PublishTimeout
	}
	if opts.Linger != nil {
		override.Linger = *opts.Linger
	}
	override.Apply(&cfg)
	if opts.Linger != nil && *opts.Linger == 0 {
		cfg.Linger = -1
	}
	return cfg
}

// backendName 未指定后端时发往 Google Cloud Pub/Sub
func backendName(b string) string {
	if b == "" {
		return sink.BackendGCP
	}
	return b
}
