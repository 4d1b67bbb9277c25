// Package util 发布客户端的通用工具
package util

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

const maxShards = 256

// Counter 分片计数器：多个 VU 同时累加时分散到不同 cache line。
// 读取为各分片之和，不保证与并发写入的瞬时一致。
type Counter struct {
	shards [maxShards]shard
	mask   int
}

type shard struct {
	n atomic.Int64
	_ [56]byte
}

// NewCounter 分片数为 GOMAXPROCS 向上取 2 的幂，至少 8
func NewCounter() *Counter {
	n := runtime.GOMAXPROCS(0)
	size := 8
	for size < n && size < maxShards {
		size <<= 1
	}
	return &Counter{mask: size - 1}
}

// Add 按调用方栈地址选择分片
//
//go:nosplit
func (c *Counter) Add(delta int64) {
	var x uintptr
	// goroutine 最小栈 8KB，右移 13 位使不同 goroutine 落到不同分片
	i := int(uintptr(unsafe.Pointer(&x)) >> 13)
	c.shards[i&c.mask].n.Add(delta)
}

// Inc 加一
func (c *Counter) Inc() { c.Add(1) }

// Load 所有分片之和
func (c *Counter) Load() int64 {
	var sum int64
	for i := 0; i <= c.mask; i++ {
		sum += c.shards[i].n.Load()
	}
	return sum
}
