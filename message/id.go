package message

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator 消息 ID 生成器接口（可替换为确定性生成器用于测试）。
type IDGenerator interface {
	NewID() string
}

// uuidGenerator 默认生成器，UUID v4。
type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

var current atomic.Pointer[IDGenerator]

func init() {
	var g IDGenerator = uuidGenerator{}
	current.Store(&g)
}

func generator() IDGenerator { return *current.Load() }

// NewID 使用当前生成器生成一个 ID。
func NewID() string { return generator().NewID() }

// SetIDGenerator 替换全局 ID 生成器，返回原生成器。g 为 nil 时恢复默认 UUID 生成器。
func SetIDGenerator(g IDGenerator) IDGenerator {
	if g == nil {
		g = uuidGenerator{}
	}
	old := current.Swap(&g)
	return *old
}
