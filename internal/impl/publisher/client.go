package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/internal/impl/batcher"
	"github.com/uniyakcom/xk6-pubsub/message"
	"github.com/uniyakcom/xk6-pubsub/util"
)

// Client 批处理发布客户端
//
// 并发模型：
//   - publish 持读锁完成「关闭检查 + 入队」，Close 持写锁翻转状态，
//     因此排空开始后不会再有消息进入任何 batcher
//   - topic → batcher 映射为 xsync.MapOf，LoadOrCompute 保证每个 topic 只创建一个 batcher
//   - 等待 flush 结果在释放读锁之后进行，不阻塞 Close
type Client struct {
	cfg  Config
	sink core.Sink
	log  *zap.Logger
	pool *ants.Pool

	ctx    context.Context // 发送 context，Close 结束时取消
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	final  core.Stats // 关闭时的统计快照

	batchers *xsync.MapOf[string, *batcher.Batcher]
	rejected *util.Counter
}

// New 创建客户端。配置非法时返回 *core.ConfigError，不产生客户端。
func New(cfg Config, sink core.Sink) (*Client, error) {
	if sink == nil {
		return nil, &core.ConfigError{Field: "sink", Reason: "must not be nil"}
	}

	limit := 0
	if l, ok := sink.(core.SizeLimiter); ok {
		limit = l.MaxMessageBytes()
	}
	if err := cfg.normalize(limit); err != nil {
		return nil, err
	}
	if v, ok := sink.(core.ProjectValidator); ok {
		if err := v.ValidateProject(cfg.ProjectID); err != nil {
			var ce *core.ConfigError
			if errors.As(err, &ce) {
				return nil, err
			}
			return nil, &core.ConfigError{Field: "projectID", Reason: err.Error()}
		}
	}

	log := cfg.Logger
	if log == nil {
		log = newLogger(cfg.Debug, cfg.Trace)
	}

	// 非阻塞：池满时 Submit 立即失败，batcher 退化为新 goroutine。
	// 阻塞模式下后切的批次可能先占住 worker 等待前驱，而前驱拿不到 worker。
	size := cfg.SendWorkers
	if size == 0 {
		size = -1
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			log.Error("send worker panic", zap.Any("value", v))
		}),
	)
	if err != nil {
		return nil, &core.ConfigError{Field: "sendWorkers", Reason: err.Error()}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		sink:     sink,
		log:      log,
		pool:     pool,
		ctx:      ctx,
		cancel:   cancel,
		batchers: xsync.NewMapOf[string, *batcher.Batcher](),
		rejected: util.NewCounter(),
	}

	log.Debug("publisher created",
		zap.String("project", cfg.ProjectID),
		zap.Duration("publishTimeout", cfg.PublishTimeout),
		zap.Int("maxMessages", cfg.MaxMessages),
		zap.Int("maxBytes", cfg.MaxBytes),
		zap.Duration("linger", cfg.Linger),
		zap.Int("maxMessageBytes", cfg.MaxMessageBytes))
	return c, nil
}

// Publish 发布一条消息到 topic。
//
// 消息进入内存批次后即返回；仅当本次入队触发阈值切批时，
// 等待该批次的投递结果（最多 PublishTimeout），返回 *core.TimeoutError 或 *core.DeliveryError。
func (c *Client) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.rejected.Inc()
		return &core.ClosedClientError{Op: "publish"}
	}
	if topic == "" {
		c.mu.RUnlock()
		c.rejected.Inc()
		return &core.InvalidArgumentError{Arg: "topic", Reason: "must not be empty"}
	}

	// 先按原始输入计算大小，超限的 payload 不做拷贝
	if size := len(data) + message.Attributes(attrs).Size(); size > c.cfg.MaxMessageBytes {
		c.mu.RUnlock()
		c.rejected.Inc()
		return &core.InvalidArgumentError{
			Arg:    "payload",
			Reason: fmt.Sprintf("message size %d exceeds limit %d", size, c.cfg.MaxMessageBytes),
		}
	}

	msg := message.New(data, attrs)
	b, _ := c.batchers.LoadOrCompute(topic, func() *batcher.Batcher {
		return c.newBatcher(topic)
	})
	f, err := b.Enqueue(msg)
	c.mu.RUnlock()

	if err != nil || f == nil {
		return err
	}

	err = f.Wait(ctx, c.cfg.PublishTimeout)
	var te *core.TimeoutError
	if errors.As(err, &te) {
		b.RecordTimeout()
		c.log.Warn("publish timed out waiting for flush",
			zap.String("topic", topic),
			zap.Int("messages", f.Messages()),
			zap.Duration("after", te.After))
	}
	return err
}

// Flush 发送所有 topic 的待发批次并等待结果，不关闭客户端。
func (c *Client) Flush(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return &core.ClosedClientError{Op: "flush"}
	}
	return c.fanOut("flush", func(b *batcher.Batcher) error { return b.Flush(ctx) })
}

// Close 关闭客户端：拒绝后续 publish，排空所有 batcher，释放资源。
// 第二次调用返回 *core.AlreadyClosedError。
func (c *Client) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext 同 Close，ctx 可提前终止排空等待。
// 排空与释放发送 worker 共用一个 PublishTimeout 截止时间。
func (c *Client) CloseContext(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &core.AlreadyClosedError{}
	}
	c.closed = true
	c.mu.Unlock()

	c.log.Debug("closing publisher", zap.Int("topics", c.batchers.Size()))

	deadline := time.Now().Add(c.cfg.PublishTimeout)
	err := c.fanOut("close", func(b *batcher.Batcher) error { return b.Close(ctx) })

	// 调用方放弃等待或截止时间已过：取消在途发送，不再等待 worker
	if remaining := time.Until(deadline); ctx.Err() != nil || remaining <= 0 {
		c.cancel()
		c.pool.Release()
	} else if perr := c.pool.ReleaseTimeout(remaining); perr != nil {
		c.log.Warn("send workers still busy after close", zap.Error(perr))
	}
	c.cancel()

	final := c.Stats()
	c.mu.Lock()
	c.final = final
	c.mu.Unlock()
	c.batchers.Clear()

	if serr := c.sink.Close(); serr != nil {
		err = core.Combine(err, fmt.Errorf("close sink: %w", serr))
	}
	if err != nil {
		c.log.Error("publisher closed with errors", zap.Error(err))
	}
	return err
}

// fanOut 并发对每个 batcher 执行 fn，收集全部失败（不因单个失败提前终止）。
// op 标注聚合错误的来源（flush / close）。
func (c *Client) fanOut(op string, fn func(*batcher.Batcher) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	c.batchers.Range(func(_ string, b *batcher.Batcher) bool {
		g.Go(func() error {
			if err := fn(b); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
		return true
	})
	_ = g.Wait()
	return core.CombineOp(op, errs...)
}

func (c *Client) newBatcher(topic string) *batcher.Batcher {
	c.log.Debug("creating batcher", zap.String("topic", topic))
	return batcher.New(batcher.Config{
		ProjectID:   c.cfg.ProjectID,
		Topic:       topic,
		MaxMessages: c.cfg.MaxMessages,
		MaxBytes:    c.cfg.MaxBytes,
		Linger:      c.cfg.Linger,
		Timeout:     c.cfg.PublishTimeout,
		Submit:      c.pool.Submit,
		OnError:     c.cfg.OnError,
		Ctx:         c.ctx,
		Logger:      c.log,
		Trace:       c.cfg.Trace,
	}, c.sink.Send)
}

// Stats 汇总所有 batcher 的统计。关闭后返回关闭时的快照（Rejected 持续累计）。
func (c *Client) Stats() core.Stats {
	c.mu.RLock()
	if c.closed && c.batchers.Size() == 0 {
		st := c.final
		c.mu.RUnlock()
		st.Rejected = c.rejected.Load()
		return st
	}
	c.mu.RUnlock()

	var st core.Stats
	c.batchers.Range(func(_ string, b *batcher.Batcher) bool {
		st.Add(b.Stats())
		return true
	})
	st.Rejected = c.rejected.Load()
	return st
}

// Topics 已创建 batcher 的 topic（排序）
func (c *Client) Topics() []string {
	topics := make([]string, 0, c.batchers.Size())
	c.batchers.Range(func(topic string, _ *batcher.Batcher) bool {
		topics = append(topics, topic)
		return true
	})
	slices.Sort(topics)
	return topics
}

// ProjectID 返回项目标识
func (c *Client) ProjectID() string { return c.cfg.ProjectID }

// Config 返回规范化后的配置
func (c *Client) Config() Config { return c.cfg }

// Closed 是否已关闭
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
