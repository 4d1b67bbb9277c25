package zmq

import (
	"context"
	"testing"
	"time"

	zmq "github.com/go-zeromq/zmq4"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/marshal"
	"github.com/uniyakcom/xk6-pubsub/message"
)

func TestSendReceive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping socket test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, "tcp://127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sub := zmq.NewSub(ctx)
	defer sub.Close()
	if err := sub.Dial("tcp://" + s.Addr().String()); err != nil {
		t.Fatal(err)
	}
	if err := sub.SetOption(zmq.OptionSubscribe, "orders"); err != nil {
		t.Fatal(err)
	}

	received := make(chan zmq.Msg, 1)
	go func() {
		msg, err := sub.Recv()
		if err == nil {
			received <- msg
		}
	}()

	want := message.New([]byte(`{"id":1}`), map[string]string{"k": "v"})
	batch := core.Batch{want}

	// PUB/SUB 订阅建立前发送的消息会被丢弃，重复发送直到收到
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	var got zmq.Msg
loop:
	for {
		if err := s.Send(ctx, "", "orders", batch); err != nil {
			t.Fatal(err)
		}
		select {
		case got = <-received:
			break loop
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("no message received")
		}
	}

	if len(got.Frames) != 2 || string(got.Frames[0]) != "orders" {
		t.Fatalf("frames = %q", got.Frames)
	}
	m, err := marshal.JSON{}.Unmarshal("orders", got.Frames[1])
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != want.ID || string(m.Data) != string(want.Data) || m.Attributes.Get("k") != "v" {
		t.Errorf("decoded = %+v", m)
	}
}

func TestSendCanceled(t *testing.T) {
	s, err := New(context.Background(), "tcp://127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, "", "t", core.Batch{message.New(nil, nil)}); err == nil {
		t.Error("Send with canceled ctx should fail")
	}
}
