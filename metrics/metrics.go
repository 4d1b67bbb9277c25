// Package metrics 将客户端统计导出为 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uniyakcom/xk6-pubsub/core"
)

const namespace = "pubsub_publisher"

// StatsSource 统计来源（*publisher.Client 满足）
type StatsSource interface {
	Stats() core.Stats
}

// Collector 按需读取 Stats 的 prometheus.Collector
type Collector struct {
	src StatsSource

	published *prometheus.Desc
	batches   *prometheus.Desc
	delivered *prometheus.Desc
	failed    *prometheus.Desc
	timeouts  *prometheus.Desc
	pending   *prometheus.Desc
	topics    *prometheus.Desc
	rejected  *prometheus.Desc
}

// NewCollector 创建 Collector。labels 作为常量标签附加到所有指标（如 project、backend）。
func NewCollector(src StatsSource, labels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}
	return &Collector{
		src:       src,
		published: desc("messages_published_total", "Messages accepted by Publish."),
		batches:   desc("batches_sent_total", "Batches handed to the sink."),
		delivered: desc("messages_delivered_total", "Messages acknowledged by the sink."),
		failed:    desc("messages_failed_total", "Messages in batches the sink rejected."),
		timeouts:  desc("publish_timeouts_total", "Publish calls that gave up waiting for a flush."),
		pending:   desc("messages_pending", "Messages buffered and not yet cut into a batch."),
		topics:    desc("topics", "Topics with an active batcher."),
		rejected:  desc("publish_rejected_total", "Publish calls rejected before enqueue."),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.published
	ch <- c.batches
	ch <- c.delivered
	ch <- c.failed
	ch <- c.timeouts
	ch <- c.pending
	ch <- c.topics
	ch <- c.rejected
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	counter(c.published, st.Published)
	counter(c.batches, st.Batches)
	counter(c.delivered, st.Delivered)
	counter(c.failed, st.Failed)
	counter(c.timeouts, st.Timeouts)
	counter(c.rejected, st.Rejected)
	gauge(c.pending, st.Pending)
	gauge(c.topics, st.Topics)
}

// Register 注册到 reg（nil 时使用默认注册表）
func Register(reg prometheus.Registerer, src StatsSource, labels prometheus.Labels) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := NewCollector(src, labels)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
