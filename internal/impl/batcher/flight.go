package batcher

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// 等待状态（CAS 决定由谁负责上报结果）
const (
	flightWaiting  uint32 = 0 // 有等待者，结果交给等待者
	flightDetached uint32 = 1 // 无等待者（linger 切批或等待者已超时）
	flightDone     uint32 = 2 // 发送完成且结果已交给等待者
)

// Flight 一个已切出的批次的投递过程
//
// 同一 batcher 的 Flight 串成链：后一个在前一个完成后才开始发送，
// 保证每个 batcher 同时最多一个在途发送，且切批顺序即投递顺序。
type Flight struct {
	topic    string
	messages int
	done     chan struct{}
	err      error
	state    atomic.Uint32
	orphan   func(error) // 无人接收的失败

	// first 同一次入队先切出的批次（放不下新消息的旧批次），结果归同一等待者。
	// 它是本 Flight 在链上的前驱，本 Flight 完成时它必已完成。
	first *Flight
}

func newFlight(topic string, messages int, detached bool, orphan func(error)) *Flight {
	f := &Flight{
		topic:    topic,
		messages: messages,
		done:     make(chan struct{}),
		orphan:   orphan,
	}
	if detached {
		f.state.Store(flightDetached)
	}
	return f
}

// complete 记录结果并唤醒等待者。只调用一次。
func (f *Flight) complete(err error) {
	f.err = err
	if !f.state.CompareAndSwap(flightWaiting, flightDone) && err != nil && f.orphan != nil {
		f.orphan(err)
	}
	close(f.done)
}

// Messages 等待者负责的消息数
func (f *Flight) Messages() int {
	if f.first != nil {
		return f.first.messages + f.messages
	}
	return f.messages
}

// result 调用方在 done 关闭后读取
func (f *Flight) result() error {
	if f.first == nil {
		return f.err
	}
	return multierr.Combine(f.first.err, f.err)
}

// Done 发送完成后关闭
func (f *Flight) Done() <-chan struct{} { return f.done }

// Wait 等待投递结果，最多等待 timeout（<=0 时仅受 ctx 约束）。
//
// 超时返回 *core.TimeoutError，发送继续在后台进行；之后若失败，
// 错误作为未观察失败记录在 batcher 上，由 Close 汇总。
func (f *Flight) Wait(ctx context.Context, timeout time.Duration) error {
	return f.wait(ctx, timeout, "publish")
}

func (f *Flight) wait(ctx context.Context, timeout time.Duration, op string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-f.done:
		return f.result()
	case <-expired:
		if f.abandon() {
			return &core.TimeoutError{Op: op, Topic: f.topic, After: timeout}
		}
	case <-ctx.Done():
		if f.abandon() {
			return ctx.Err()
		}
	}
	// 发送方已抢先完成
	<-f.done
	return f.result()
}

// abandon 等待者放弃等待。返回 false 表示发送已完成，结果仍归等待者。
// 放弃成功时一并放弃 first；first 已完成的失败转为未观察失败。
func (f *Flight) abandon() bool {
	if !f.state.CompareAndSwap(flightWaiting, flightDetached) {
		return false
	}
	if p := f.first; p != nil && !p.abandon() && p.err != nil && p.orphan != nil {
		p.orphan(p.err)
	}
	return true
}

// settle 仅等待完成，不接管结果（用于 flush 等待更早的在途批次）。
func (f *Flight) settle(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-f.done:
		return nil
	case <-expired:
		return &core.TimeoutError{Op: "flush", Topic: f.topic, After: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}
