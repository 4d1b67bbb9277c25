package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/uniyakcom/xk6-pubsub/core"
)

type fixedStats core.Stats

func (f *fixedStats) Stats() core.Stats { return core.Stats(*f) }

func TestCollect(t *testing.T) {
	src := &fixedStats{Published: 10, Batches: 2, Delivered: 8, Failed: 2, Timeouts: 1, Pending: 0, Topics: 2, Rejected: 4}
	c := NewCollector(src, prometheus.Labels{"project": "p"})

	if n := testutil.CollectAndCount(c); n != 8 {
		t.Errorf("collected %d metrics, want 8", n)
	}

	want := `
# HELP pubsub_publisher_messages_delivered_total Messages acknowledged by the sink.
# TYPE pubsub_publisher_messages_delivered_total counter
pubsub_publisher_messages_delivered_total{project="p"} 8
# HELP pubsub_publisher_topics Topics with an active batcher.
# TYPE pubsub_publisher_topics gauge
pubsub_publisher_topics{project="p"} 2
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"pubsub_publisher_messages_delivered_total", "pubsub_publisher_topics"); err != nil {
		t.Error(err)
	}
}

func TestCollectReadsLiveStats(t *testing.T) {
	src := &fixedStats{}
	c := NewCollector(src, nil)

	src.Pending = 3
	if err := testutil.CollectAndCompare(c, strings.NewReader(`
# HELP pubsub_publisher_messages_pending Messages buffered and not yet cut into a batch.
# TYPE pubsub_publisher_messages_pending gauge
pubsub_publisher_messages_pending 3
`), "pubsub_publisher_messages_pending"); err != nil {
		t.Error(err)
	}
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := Register(reg, &fixedStats{}, prometheus.Labels{"project": "p"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Register(reg, &fixedStats{}, prometheus.Labels{"project": "p"}); err == nil {
		t.Error("duplicate registration should fail")
	}
	if _, err := Register(reg, &fixedStats{}, prometheus.Labels{"project": "q"}); err != nil {
		t.Errorf("different labels: %v", err)
	}
}
