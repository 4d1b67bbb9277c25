// Package sink 按后端名称创建 core.Sink。
//
// 支持的后端：local（默认）、gcp、nats、zmq、kafka、redis、gocloud。
package sink

import (
	"context"
	"fmt"
	"strconv"

	confluent "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	natsgo "github.com/nats-io/nats.go"
	"google.golang.org/api/option"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/sink/gcp"
	"github.com/uniyakcom/xk6-pubsub/sink/gocloud"
	"github.com/uniyakcom/xk6-pubsub/sink/kafka"
	"github.com/uniyakcom/xk6-pubsub/sink/local"
	"github.com/uniyakcom/xk6-pubsub/sink/nats"
	"github.com/uniyakcom/xk6-pubsub/sink/redis"
	"github.com/uniyakcom/xk6-pubsub/sink/zmq"
)

// 后端名称
const (
	BackendLocal   = "local"
	BackendGCP     = "gcp"
	BackendNATS    = "nats"
	BackendZMQ     = "zmq"
	BackendKafka   = "kafka"
	BackendRedis   = "redis"
	BackendGoCloud = "gocloud"
)

// Config 后端配置
type Config struct {
	Backend string            `yaml:"backend" mapstructure:"backend"`
	URL     string            `yaml:"url" mapstructure:"url"`
	Options map[string]string `yaml:"options" mapstructure:"options"`
}

// Open 按配置创建 Sink。projectID 仅 gcp 后端在构造时使用，其余后端在 Send 时接收。
func Open(ctx context.Context, projectID string, cfg Config) (core.Sink, error) {
	opt := func(key string) string { return cfg.Options[key] }

	switch cfg.Backend {
	case "", BackendLocal:
		var opts []local.Option
		if v := opt("max_message_bytes"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, &core.ConfigError{Field: "options.max_message_bytes", Reason: err.Error()}
			}
			opts = append(opts, local.WithMaxMessageBytes(n))
		}
		return local.New(opts...), nil

	case BackendGCP:
		var opts []option.ClientOption
		if cfg.URL != "" {
			opts = append(opts, option.WithEndpoint(cfg.URL))
		}
		if opt("insecure") == "true" {
			opts = append(opts, option.WithoutAuthentication())
		}
		return gcp.New(ctx, projectID, opts)

	case BackendNATS:
		url := cfg.URL
		if url == "" {
			url = natsgo.DefaultURL
		}
		return nats.New(url, []natsgo.Option{natsgo.Name("xk6-pubsub")},
			nats.WithSubjectPrefix(opt("subject_prefix")))

	case BackendZMQ:
		if cfg.URL == "" {
			return nil, &core.ConfigError{Field: "url", Reason: "zmq endpoint required"}
		}
		return zmq.New(ctx, cfg.URL)

	case BackendKafka:
		if cfg.URL == "" {
			return nil, &core.ConfigError{Field: "url", Reason: "kafka bootstrap servers required"}
		}
		cm := confluent.ConfigMap{"bootstrap.servers": cfg.URL}
		for k, v := range cfg.Options {
			cm[k] = v
		}
		return kafka.New(cm)

	case BackendRedis:
		url := cfg.URL
		if url == "" {
			url = "redis://localhost:6379/0"
		}
		opts := []redis.Option{redis.WithKeyPrefix(opt("key_prefix"))}
		if m := opt("mode"); m != "" {
			opts = append(opts, redis.WithMode(redis.Mode(m)))
		}
		if v := opt("stream_max_len"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, &core.ConfigError{Field: "options.stream_max_len", Reason: err.Error()}
			}
			opts = append(opts, redis.WithStreamMaxLen(n))
		}
		return redis.New(url, opts...)

	case BackendGoCloud:
		return gocloud.New(cfg.URL)

	default:
		return nil, &core.ConfigError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}
