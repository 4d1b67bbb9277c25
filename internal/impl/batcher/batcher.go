// Package batcher 提供单 topic 的消息批处理器（TopicBatcher）
//
// 设计：
//   - 入队在 batcher 互斥锁内完成，不同 topic 的 batcher 互不阻塞
//   - 条数或字节数达到阈值时切批：满批交给 Sink，后续消息进入新批次
//   - 触发切批的调用方拿到 Flight 并等待结果（受 Timeout 约束），其余调用方立即返回
//   - Flight 串链：同时最多一个在途发送，切批顺序即投递顺序
//   - Linger：空批次收到第一条消息时设置截止时间，到期后无论是否满批都切批发送
package batcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/message"
)

// 默认阈值
const (
	DefaultMaxMessages = 100
	DefaultMaxBytes    = 1000000
	DefaultLinger      = 100 * time.Millisecond
)

// Config batcher 配置
type Config struct {
	ProjectID string
	Topic     string

	MaxMessages int           // 条数阈值（<=0 使用默认值）
	MaxBytes    int           // 字节阈值（<=0 使用默认值）
	Linger      time.Duration // 最长滞留时间（<=0 关闭定时切批）
	Timeout     time.Duration // 等待投递结果的上限

	// Submit 把发送任务交给 worker pool。为 nil 或返回 error 时退化为新 goroutine。
	Submit func(task func()) error

	// OnError 接收无人等待的投递失败（linger 批次、等待者已超时的批次）。
	OnError func(topic string, err error)

	// Ctx 发送使用的 context（通常由客户端持有，Close 后取消）。
	Ctx context.Context

	Logger *zap.Logger
	Trace  bool
}

// Batcher 单 topic 批处理器
type Batcher struct {
	cfg  Config
	send core.SendFunc
	log  *zap.Logger

	mu           sync.Mutex
	pending      core.Batch
	pendingBytes int
	gen          uint64 // 每次切批 +1，使过期的 linger 定时器失效
	timer        *time.Timer
	last         *Flight
	closed       bool
	unobserved   []error

	inflight sync.WaitGroup

	published atomic.Int64
	batches   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	timeouts  atomic.Int64
}

// New 创建 batcher。send 为批次投递函数（通常是包装后的 Sink.Send）。
func New(cfg Config, send core.SendFunc) *Batcher {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Ctx == nil {
		cfg.Ctx = context.Background()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Batcher{
		cfg:  cfg,
		send: send,
		log:  log.With(zap.String("topic", cfg.Topic)),
	}
}

// Topic 返回 batcher 负责的 topic
func (b *Batcher) Topic() string { return b.cfg.Topic }

// Enqueue 追加消息到当前批次。
//
// 未触发阈值时返回 (nil, nil)，消息已在内存中排队。
// 触发阈值时返回被切出批次的 Flight，调用方应 Wait 获取投递结果。
// 当前批次放不下这条消息（字节数将超过 MaxBytes）时先切出当前批次，
// 再让消息进入新批次；单条消息超过 MaxBytes 时单独成批。
// batcher 已关闭时返回 *core.ClosedClientError。
func (b *Batcher) Enqueue(msg *message.Message) (*Flight, error) {
	size := msg.Size()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, &core.ClosedClientError{Op: "publish"}
	}

	var (
		first     *Flight
		firstTask func()
	)
	if len(b.pending) > 0 && b.pendingBytes+size > b.cfg.MaxBytes {
		first, firstTask = b.cutLocked(false)
	}

	b.pending = append(b.pending, msg)
	b.pendingBytes += size
	b.published.Add(1)

	if len(b.pending) == 1 {
		b.armLinger()
	}

	if len(b.pending) < b.cfg.MaxMessages && b.pendingBytes < b.cfg.MaxBytes {
		b.mu.Unlock()
		if b.cfg.Trace {
			b.log.Debug("message queued", zap.String("id", msg.ID), zap.Int("bytes", size))
		}
		if first != nil {
			b.log.Debug("batch full by bytes", zap.Int("messages", first.messages))
			b.submit(firstTask)
		}
		return first, nil
	}

	f, task := b.cutLocked(false)
	f.first = first
	b.mu.Unlock()

	if first != nil {
		b.submit(firstTask)
	}
	b.log.Debug("batch threshold reached", zap.Int("messages", f.messages))
	b.submit(task)
	return f, nil
}

// Flush 立即发送当前批次（即使未满），并等待它及所有更早的在途批次完成。
// 空批次且无在途批次时直接返回 nil。
func (b *Batcher) Flush(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	var (
		own  *Flight
		task func()
	)
	if len(b.pending) > 0 {
		own, task = b.cutLocked(false)
	}
	last := b.last
	b.mu.Unlock()

	if task != nil {
		b.submit(task)
	}

	var err error
	switch {
	case own != nil:
		err = own.wait(ctx, b.cfg.Timeout, "flush")
	case last != nil:
		err = last.settle(ctx, b.cfg.Timeout)
	}
	if err != nil && isTimeout(err) {
		b.timeouts.Add(1)
	}
	return err
}

// Close 拒绝后续入队，停止 linger 定时器，排空当前批次并等待在途发送。
// 返回 flush 错误与所有未观察失败的合并结果；重复调用返回 nil。
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopLinger()
	b.mu.Unlock()

	err := b.Flush(ctx)

	b.mu.Lock()
	unobserved := b.unobserved
	b.unobserved = nil
	b.mu.Unlock()

	return core.Combine(append([]error{err}, unobserved...)...)
}

// Wait 等待所有在途发送结束（不受 Timeout 约束，用于测试和资源回收）。
func (b *Batcher) Wait() {
	b.inflight.Wait()
}

// Stats 当前统计快照
func (b *Batcher) Stats() core.Stats {
	b.mu.Lock()
	pending := int64(len(b.pending))
	b.mu.Unlock()
	return core.Stats{
		Published: b.published.Load(),
		Batches:   b.batches.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Timeouts:  b.timeouts.Load(),
		Pending:   pending,
		Topics:    1,
	}
}

// RecordTimeout 记录一次等待超时（由等待 Flight 的调用方上报）。
func (b *Batcher) RecordTimeout() { b.timeouts.Add(1) }

// cutLocked 切出当前批次并串到 Flight 链尾。调用方持有 b.mu，并在解锁后 submit(task)。
func (b *Batcher) cutLocked(detached bool) (*Flight, func()) {
	batch := b.pending
	b.pending = make(core.Batch, 0, min(b.cfg.MaxMessages, 1024))
	b.pendingBytes = 0
	b.gen++
	b.stopLinger()

	f := newFlight(b.cfg.Topic, len(batch), detached, b.recordUnobserved)
	prev := b.last
	b.last = f
	b.inflight.Add(1)
	b.batches.Add(1)

	task := func() {
		defer b.inflight.Done()
		if prev != nil {
			<-prev.done
		}
		f.complete(b.deliver(batch))
	}
	return f, task
}

// deliver 调用 Sink 发送一个批次，捕获 panic，防止 Flight 链永久阻塞。
func (b *Batcher) deliver(batch core.Batch) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &core.PanicError{Value: r}
		}
		if err != nil {
			b.failed.Add(int64(len(batch)))
			err = &core.DeliveryError{Topic: b.cfg.Topic, Messages: len(batch), Err: err}
			b.log.Debug("batch delivery failed", zap.Int("messages", len(batch)), zap.Error(err))
			return
		}
		b.delivered.Add(int64(len(batch)))
		b.log.Debug("batch delivered",
			zap.Int("messages", len(batch)),
			zap.Duration("duration", time.Since(start)))
	}()
	return b.send(b.cfg.Ctx, b.cfg.ProjectID, b.cfg.Topic, batch)
}

func (b *Batcher) submit(task func()) {
	if b.cfg.Submit != nil {
		if err := b.cfg.Submit(task); err == nil {
			return
		}
	}
	go task()
}

// recordUnobserved 保存无人接收的失败，Close 时汇总返回。
func (b *Batcher) recordUnobserved(err error) {
	b.mu.Lock()
	b.unobserved = append(b.unobserved, err)
	b.mu.Unlock()

	b.log.Error("unobserved batch failure", zap.Error(err))
	if b.cfg.OnError != nil {
		b.cfg.OnError(b.cfg.Topic, err)
	}
}

// armLinger 为新批次的第一条消息设置截止时间。调用方持有 b.mu。
func (b *Batcher) armLinger() {
	if b.cfg.Linger <= 0 {
		return
	}
	gen := b.gen
	b.timer = time.AfterFunc(b.cfg.Linger, func() { b.lingerFlush(gen) })
}

func (b *Batcher) stopLinger() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// lingerFlush 截止时间到达：切出批次作为无等待者的 Flight 发送。
func (b *Batcher) lingerFlush(gen uint64) {
	b.mu.Lock()
	if b.gen != gen || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	f, task := b.cutLocked(true)
	b.mu.Unlock()

	b.log.Debug("linger expired", zap.Int("messages", f.messages))
	b.submit(task)
}

func isTimeout(err error) bool {
	var te *core.TimeoutError
	return errors.As(err, &te)
}
