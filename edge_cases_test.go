package pubsub

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/uniyakcom/xk6-pubsub/sink/local"
)

// TestEdgeEmptyTopic 空 topic 为参数错误，不影响客户端状态
func TestEdgeEmptyTopic(t *testing.T) {
	client := newTestClient(t, local.New())
	defer client.Close()

	var iae *InvalidArgumentError
	if err := client.Publish(context.Background(), "", []byte("x"), nil); !errors.As(err, &iae) || iae.Arg != "topic" {
		t.Errorf("empty topic = %v", err)
	}
	if len(client.Topics()) != 0 {
		t.Error("rejected publish created a batcher")
	}
	if err := client.Publish(context.Background(), "t", []byte("x"), nil); err != nil {
		t.Errorf("client unusable after invalid argument: %v", err)
	}
	if st := client.Stats(); st.Rejected != 1 || st.Published != 1 {
		t.Errorf("stats = %+v", st)
	}
}

// TestEdgeOversizedMessage 单条消息上限取配置与 Sink 声明的较小值
func TestEdgeOversizedMessage(t *testing.T) {
	client := newTestClient(t, local.New(local.WithMaxMessageBytes(64)))
	defer client.Close()

	if got := client.Config().MaxMessageBytes; got != 64 {
		t.Fatalf("MaxMessageBytes = %d, want sink limit 64", got)
	}
	err := client.Publish(context.Background(), "t", bytes.Repeat([]byte("x"), 65), nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("oversized payload = %v", err)
	}

	// 属性计入消息大小
	err = client.Publish(context.Background(), "t", []byte("x"), map[string]string{"k": strings.Repeat("v", 64)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("oversized attributes = %v", err)
	}
}

// TestEdgeEmptyPayload 空 payload 合法
func TestEdgeEmptyPayload(t *testing.T) {
	s := local.New()
	client := newTestClient(t, s)
	if err := client.Publish(context.Background(), "t", nil, nil); err != nil {
		t.Fatal(err)
	}
	client.Close()
	if n := len(s.Messages("t")); n != 1 {
		t.Errorf("delivered %d", n)
	}
}

// TestEdgeEmptyProject 空项目默认接受，除非 Sink 拒绝
func TestEdgeEmptyProject(t *testing.T) {
	client, err := NewClient(Config{}, local.New())
	if err != nil {
		t.Fatalf("empty project rejected: %v", err)
	}
	client.Close()

	if _, err := NewClient(Config{}, local.New(local.WithRequireProject())); !errors.Is(err, ErrConfig) {
		t.Errorf("sink requiring project = %v, want ErrConfig", err)
	}
}

// TestEdgeByteThreshold 放不下下一条消息时按字节切批，批次不超过 MaxBytes
func TestEdgeByteThreshold(t *testing.T) {
	s := local.New()
	client := newTestClient(t, s, func(c *Config) {
		c.MaxMessages = 1000
		c.MaxBytes = 1000
	})
	defer client.Close()

	payload := bytes.Repeat([]byte("x"), 300)
	for i := 0; i < 3; i++ {
		client.Publish(context.Background(), "bytes", payload, nil)
	}
	if len(s.Batches("bytes")) != 0 {
		t.Fatal("flushed below byte threshold")
	}
	if err := client.Publish(context.Background(), "bytes", payload, nil); err != nil {
		t.Fatal(err)
	}
	b := s.Batches("bytes")
	if len(b) != 1 || len(b[0]) != 3 {
		t.Fatalf("batches = %d, want one batch of 3", len(b))
	}
	if b[0].Size() > 1000 {
		t.Errorf("batch size %d exceeds MaxBytes", b[0].Size())
	}
	if st := client.Stats(); st.Pending != 1 {
		t.Errorf("Pending = %d, want the fourth message queued", st.Pending)
	}
}

// TestEdgeCloseEmpty 没有任何 topic 时关闭
func TestEdgeCloseEmpty(t *testing.T) {
	s := local.New()
	client := newTestClient(t, s)
	if err := client.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
	if s.Sends() != 0 {
		t.Error("empty close sent a batch")
	}
	if !client.Closed() {
		t.Error("Closed() = false")
	}
}

// TestEdgeFlushAfterClose Flush 在关闭后返回 ErrClosed
func TestEdgeFlushAfterClose(t *testing.T) {
	client := newTestClient(t, local.New())
	client.Close()
	if err := client.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after close = %v", err)
	}
}

// TestEdgeStatsAfterClose 关闭后保留最终统计
func TestEdgeStatsAfterClose(t *testing.T) {
	client := newTestClient(t, local.New())
	for i := 0; i < 5; i++ {
		client.Publish(context.Background(), "s", []byte("x"), nil)
	}
	client.Close()

	st := client.Stats()
	if st.Published != 5 || st.Delivered != 5 || st.Pending != 0 || st.Batches != 1 {
		t.Errorf("final stats = %+v", st)
	}
	if len(client.Topics()) != 0 {
		t.Error("topics should be released after close")
	}

	client.Publish(context.Background(), "s", []byte("late"), nil)
	if st := client.Stats(); st.Rejected != 1 || st.Published != 5 {
		t.Errorf("stats after late publish = %+v", st)
	}
}

// TestEdgeCloseContextCanceled ctx 取消时 Close 不再等待
func TestEdgeCloseContextCanceled(t *testing.T) {
	s := local.New(local.WithLatency(time.Second))
	client := newTestClient(t, s)
	client.Publish(context.Background(), "t", []byte("x"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.CloseContext(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("CloseContext = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("CloseContext waited %v", elapsed)
	}
}
