// Package config 加载 CLI 的 YAML 配置，并应用环境变量覆盖。
//
//	project_id: my-project
//	preset: balanced
//	publisher:
//	  publish_timeout: 5s
//	  max_messages: 100
//	sink:
//	  backend: gcp
//	middleware:
//	  retries: 3
//	metrics:
//	  addr: ":9100"
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/internal/impl/publisher"
	"github.com/uniyakcom/xk6-pubsub/middleware/correlation"
	"github.com/uniyakcom/xk6-pubsub/middleware/logging"
	"github.com/uniyakcom/xk6-pubsub/middleware/recoverer"
	"github.com/uniyakcom/xk6-pubsub/middleware/retry"
	"github.com/uniyakcom/xk6-pubsub/middleware/timeout"
	"github.com/uniyakcom/xk6-pubsub/middleware/tracing"
	"github.com/uniyakcom/xk6-pubsub/optimize"
	"github.com/uniyakcom/xk6-pubsub/sink"
)

// 环境变量
const (
	EnvProjectID      = "PUBSUB_PROJECT_ID"
	EnvBackend        = "PUBSUB_BACKEND"
	EnvURL            = "PUBSUB_URL"
	EnvPublishTimeout = "PUBSUB_PUBLISH_TIMEOUT"
)

// Config 完整配置
type Config struct {
	ProjectID string `yaml:"project_id"`
	Preset    string `yaml:"preset"` // latency / balanced / throughput / auto

	Publisher struct {
		PublishTimeout  time.Duration `yaml:"publish_timeout"`
		MaxMessages     int           `yaml:"max_messages"`
		MaxBytes        int           `yaml:"max_bytes"`
		Linger          time.Duration `yaml:"linger"`
		MaxMessageBytes int           `yaml:"max_message_bytes"`
		SendWorkers     int           `yaml:"send_workers"`
		Debug           bool          `yaml:"debug"`
		Trace           bool          `yaml:"trace"`
	} `yaml:"publisher"`

	Sink sink.Config `yaml:"sink"`

	Middleware struct {
		Retries     int           `yaml:"retries"`
		SendTimeout time.Duration `yaml:"send_timeout"`
		Logging     bool          `yaml:"logging"`
		Tracing     bool          `yaml:"tracing"`
		Correlation bool          `yaml:"correlation"`
	} `yaml:"middleware"`

	Metrics struct {
		Addr string `yaml:"addr"` // 空表示不启动 metrics 端点
	} `yaml:"metrics"`
}

// Load 读取 path（为空时仅使用默认值），再应用环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Sink.Backend == "" {
		cfg.Sink.Backend = sink.BackendLocal
	}
	if cfg.Preset == "" {
		cfg.Preset = "balanced"
	}
	return &cfg, nil
}

// ApplyEnv 环境变量覆盖文件配置
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvProjectID); ok {
		c.ProjectID = v
	}
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Sink.Backend = v
	}
	if v, ok := lookup(EnvURL); ok && v != "" {
		c.Sink.URL = v
	}
	if v, ok := lookup(EnvPublishTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &core.ConfigError{Field: EnvPublishTimeout, Reason: err.Error()}
		}
		if d <= 0 {
			return &core.ConfigError{Field: EnvPublishTimeout, Reason: "must be positive"}
		}
		c.Publisher.PublishTimeout = d
	}
	return nil
}

// PublisherConfig 预设 + 显式字段合成客户端配置。显式字段优先于预设。
func (c *Config) PublisherConfig(logger *zap.Logger) publisher.Config {
	var p *optimize.Profile
	if c.Preset == "auto" {
		p = optimize.AutoDetect()
	} else {
		p = optimize.Preset(c.Preset)
	}
	cfg := optimize.NewAdvisor().Advise(p).Config

	pc := c.Publisher
	cfg.ProjectID = c.ProjectID
	cfg.Debug = pc.Debug
	cfg.Trace = pc.Trace
	cfg.Logger = logger
	override := optimize.Profile{
		MaxMessages:    pc.MaxMessages,
		MaxBytes:       pc.MaxBytes,
		Linger:         pc.Linger,
		PublishTimeout: pc.PublishTimeout,
		SendWorkers:    pc.SendWorkers,
	}
	override.Apply(&cfg)
	if pc.MaxMessageBytes > 0 {
		cfg.MaxMessageBytes = pc.MaxMessageBytes
	}
	return cfg
}

// Middlewares 按配置组装投递中间件链（外层在前）
func (c *Config) Middlewares(logger *zap.Logger) []core.Middleware {
	mc := c.Middleware
	var mws []core.Middleware
	if mc.Tracing {
		mws = append(mws, tracing.New(tracing.WithSystem(c.Sink.Backend)))
	}
	if mc.Logging {
		mws = append(mws, logging.New(logger))
	}
	if mc.Retries > 0 {
		mws = append(mws, retry.New(retry.Config{MaxRetries: mc.Retries}))
	}
	if mc.SendTimeout > 0 {
		mws = append(mws, timeout.New(mc.SendTimeout))
	}
	if mc.Correlation {
		mws = append(mws, correlation.New())
	}
	return append(mws, recoverer.New())
}

// Validate 基础校验
func (c *Config) Validate() error {
	var errs []error
	if c.Publisher.PublishTimeout < 0 {
		errs = append(errs, &core.ConfigError{Field: "publisher.publish_timeout", Reason: "must be positive"})
	}
	if c.Middleware.Retries < 0 {
		errs = append(errs, &core.ConfigError{Field: "middleware.retries", Reason: "must not be negative"})
	}
	return errors.Join(errs...)
}
