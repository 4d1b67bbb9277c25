package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/marshal"
	"github.com/uniyakcom/xk6-pubsub/message"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestSendPubSub(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := client.Subscribe(ctx, "k6:orders")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatal(err)
	}
	ch := ps.Channel()

	s := NewFromClient(client, WithKeyPrefix("k6:"))
	batch := core.Batch{
		message.New([]byte("first"), map[string]string{"k": "v"}),
		message.New([]byte("second"), nil),
	}
	if err := s.Send(ctx, "", "orders", batch); err != nil {
		t.Fatal(err)
	}

	for i, want := range batch {
		select {
		case msg := <-ch:
			got, err := marshal.JSON{}.Unmarshal("orders", []byte(msg.Payload))
			if err != nil {
				t.Fatal(err)
			}
			if got.ID != want.ID || string(got.Data) != string(want.Data) {
				t.Errorf("message %d = %s %s, want %s %s", i, got.ID, got.Data, want.ID, want.Data)
			}
		case <-ctx.Done():
			t.Fatalf("message %d not received", i)
		}
	}
}

func TestSendStream(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewFromClient(client, WithMode(ModeStream))

	batch := core.Batch{
		message.New([]byte("a"), map[string]string{"k": "v"}),
		message.New([]byte("b"), nil),
	}
	if err := s.Send(context.Background(), "", "events", batch); err != nil {
		t.Fatal(err)
	}

	entries, err := client.XRange(context.Background(), "events", "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("stream has %d entries, want 2", len(entries))
	}
	if entries[0].Values["data"] != "a" || entries[0].Values["attr:k"] != "v" || entries[0].Values["id"] != batch[0].ID {
		t.Errorf("entry = %v", entries[0].Values)
	}
	if entries[1].Values["data"] != "b" {
		t.Errorf("order not preserved: %v", entries[1].Values)
	}
}

func TestSendServerDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()
	s := NewFromClient(client)

	if err := s.Send(context.Background(), "", "t", core.Batch{message.New([]byte("x"), nil)}); err == nil {
		t.Error("Send to a stopped server should fail")
	}
}

func TestNewFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), "", "t", core.Batch{message.New([]byte("x"), nil)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}

	if _, err := New("not a url"); err == nil {
		t.Error("invalid url should fail")
	}
}
