package marshal_test

import (
	"testing"

	"github.com/uniyakcom/xk6-pubsub/marshal"
	"github.com/uniyakcom/xk6-pubsub/message"
)

func TestJSONMarshalRoundTrip(t *testing.T) {
	m := marshal.JSON{}

	orig := message.New([]byte(`{"order_id":42}`), map[string]string{
		"source":   "test",
		"priority": "high",
	})

	data, err := m.Marshal("test.topic", orig)
	if err != nil {
		t.Fatal(err)
	}

	restored, err := m.Unmarshal("test.topic", data)
	if err != nil {
		t.Fatal(err)
	}

	if restored.ID != orig.ID {
		t.Errorf("ID = %q, want %q", restored.ID, orig.ID)
	}
	if string(restored.Data) != string(orig.Data) {
		t.Errorf("Data = %q, want %q", restored.Data, orig.Data)
	}
	if restored.Attributes.Get("source") != "test" {
		t.Errorf("attribute source = %q, want %q", restored.Attributes.Get("source"), "test")
	}
	if restored.Attributes.Get("priority") != "high" {
		t.Errorf("attribute priority = %q, want %q", restored.Attributes.Get("priority"), "high")
	}
	if !restored.PublishTime.Equal(orig.PublishTime) {
		t.Errorf("PublishTime = %v, want %v", restored.PublishTime, orig.PublishTime)
	}
}

func TestJSONMarshalBinaryPayload(t *testing.T) {
	m := marshal.JSON{}

	orig := message.New([]byte{0x00, 0xff, 0x10}, nil)
	data, err := m.Marshal("topic", orig)
	if err != nil {
		t.Fatal(err)
	}

	restored, err := m.Unmarshal("topic", data)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored.Data) != string(orig.Data) {
		t.Errorf("binary payload not preserved: %v", restored.Data)
	}
	if restored.ID == "" {
		t.Error("ID should not be empty")
	}
}

func TestJSONUnmarshalInvalid(t *testing.T) {
	m := marshal.JSON{}
	_, err := m.Unmarshal("topic", []byte("not-json"))
	if err == nil {
		t.Error("should return error for invalid JSON")
	}
}

func BenchmarkJSONMarshal(b *testing.B) {
	m := marshal.JSON{}
	msg := message.New([]byte(`{"data":"benchmark"}`), map[string]string{"key": "value"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Marshal("topic", msg)
	}
}

func BenchmarkJSONUnmarshal(b *testing.B) {
	m := marshal.JSON{}
	msg := message.New([]byte(`{"data":"benchmark"}`), map[string]string{"key": "value"})
	data, _ := m.Marshal("topic", msg)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Unmarshal("topic", data)
	}
}
