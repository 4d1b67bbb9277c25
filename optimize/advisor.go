// Package optimize advisor推荐引擎
package optimize

import (
	"time"

	"github.com/uniyakcom/xk6-pubsub/internal/impl/publisher"
)

// Advised 推荐配置
type Advised struct {
	Profile *Profile
	Config  publisher.Config
}

// Advisor 推荐引擎
type Advisor struct{}

// NewAdvisor 创建推荐引擎
func NewAdvisor() *Advisor {
	return &Advisor{}
}

// Advise 根据 Profile 推荐客户端配置
func (a *Advisor) Advise(p *Profile) *Advised {
	cfg := publisher.DefaultConfig()
	p.Apply(&cfg)

	// 目标速率下 linger 内能攒满的条数小于阈值时，缩小阈值避免总是等满 linger
	if p.Rate > 0 && p.Linger > 0 && p.Lat != "hi" {
		perLinger := int(float64(p.Rate) * p.Linger.Seconds())
		if perLinger > 0 && perLinger < cfg.MaxMessages {
			cfg.MaxMessages = perLinger
		}
	}

	// 高并发：每个 VU 的阻塞等待与发送 worker 数成比例
	if p.Conc > 5000 && cfg.SendWorkers > 0 && cfg.SendWorkers < p.Conc/100 {
		cfg.SendWorkers = p.Conc / 100
	}

	if cfg.PublishTimeout < cfg.Linger {
		cfg.PublishTimeout = cfg.Linger + time.Second
	}
	return &Advised{Profile: p, Config: cfg}
}

// Apply 将 Profile 的非零字段写入客户端配置
func (p *Profile) Apply(cfg *publisher.Config) {
	if p.MaxMessages > 0 {
		cfg.MaxMessages = p.MaxMessages
	}
	if p.MaxBytes > 0 {
		cfg.MaxBytes = p.MaxBytes
	}
	if p.Linger != 0 {
		cfg.Linger = p.Linger
	}
	if p.PublishTimeout > 0 {
		cfg.PublishTimeout = p.PublishTimeout
	}
	if p.SendWorkers > 0 {
		cfg.SendWorkers = p.SendWorkers
	}
}
