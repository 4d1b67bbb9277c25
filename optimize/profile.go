// Package optimize 提供批处理预设和推荐
package optimize

import (
	"runtime"
	"time"
)

// Profile 发布场景 Profile
type Profile struct {
	Name  string // 场景名称
	Conc  int    // 预期并发 publish 调用方（VU 数）
	Rate  int    // 目标速率（msg/s）
	Lat   string // "low"/"med"/"hi"
	Cores int    // CPU核心数

	MaxMessages    int           // 条数阈值
	MaxBytes       int           // 字节阈值
	Linger         time.Duration // 最长滞留时间
	PublishTimeout time.Duration // 0=默认5s
	SendWorkers    int           // 0=不限
}

// ═══════════════════════════════════════════════════════════════════
// 三大核心 Profile
// ═══════════════════════════════════════════════════════════════════

// Latency 低延迟场景
// 用途: 交互式压测、单条消息时延测量
// 特点: 小批次，10ms linger，几乎每条消息立即可见
func Latency() *Profile {
	return &Profile{
		Name:        "latency",
		Conc:        10,
		Rate:        1000,
		Lat:         "low",
		Cores:       runtime.NumCPU(),
		MaxMessages: 10,
		MaxBytes:    100 * 1000,
		Linger:      10 * time.Millisecond,
	}
}

// Balanced 默认场景，与客户端默认值一致
// 用途: 常规负载测试
// 特点: 100 条 / 1MB / 100ms
func Balanced() *Profile {
	return &Profile{
		Name:        "balanced",
		Conc:        100,
		Rate:        10000,
		Lat:         "med",
		Cores:       runtime.NumCPU(),
		MaxMessages: 100,
		MaxBytes:    1000 * 1000,
		Linger:      100 * time.Millisecond,
	}
}

// Throughput 高吞吐场景
// 用途: 灌数、容量测试
// 特点: 大批次，发送 worker 按核数限定，publish 超时放宽
func Throughput() *Profile {
	cores := runtime.NumCPU()
	return &Profile{
		Name:           "throughput",
		Conc:           1000,
		Rate:           200000,
		Lat:            "hi",
		Cores:          cores,
		MaxMessages:    1000,
		MaxBytes:       9 * 1000 * 1000,
		Linger:         250 * time.Millisecond,
		PublishTimeout: 30 * time.Second,
		SendWorkers:    cores * 4,
	}
}

// ═══════════════════════════════════════════════════════════════════
// Presets
// ═══════════════════════════════════════════════════════════════════

// Presets 所有预设场景
var Presets = map[string]func() *Profile{
	"latency":    Latency,
	"balanced":   Balanced,
	"throughput": Throughput,
}

// Preset 获取预设 Profile（每次返回新实例）。未知名称返回 Balanced。
func Preset(name string) *Profile {
	if fn, ok := Presets[name]; ok {
		return fn()
	}
	return Balanced()
}

// ═════════════════════════════════════════════════════════════════
// 自动检测
// ═════════════════════════════════════════════════════════════════

// AutoDetect 根据运行时环境选择预设
//   - 多核 (>= 8 cores) → Throughput
//   - 其余 → Balanced
//
// Latency 不会被自动选择，需显式指定。
func AutoDetect() *Profile {
	cores := runtime.NumCPU()
	var p *Profile
	if cores >= 8 {
		p = Throughput()
	} else {
		p = Balanced()
	}
	p.Name = "auto"
	p.Cores = cores
	return p
}
