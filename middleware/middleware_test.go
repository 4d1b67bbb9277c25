package middleware_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/message"
	"github.com/uniyakcom/xk6-pubsub/middleware/correlation"
	"github.com/uniyakcom/xk6-pubsub/middleware/logging"
	"github.com/uniyakcom/xk6-pubsub/middleware/recoverer"
	"github.com/uniyakcom/xk6-pubsub/middleware/retry"
	"github.com/uniyakcom/xk6-pubsub/middleware/timeout"
	"github.com/uniyakcom/xk6-pubsub/middleware/tracing"
	"github.com/uniyakcom/xk6-pubsub/sink/local"
)

func testBatch(n int) core.Batch {
	b := make(core.Batch, n)
	for i := range b {
		b[i] = message.New([]byte("test"), nil)
	}
	return b
}

func send(fn core.SendFunc) error {
	return fn(context.Background(), "proj", "topic", testBatch(2))
}

func TestRetryMiddleware(t *testing.T) {
	var attempts int

	mw := retry.New(retry.Config{
		MaxRetries:      2,
		InitialInterval: 10 * time.Millisecond,
	})

	err := send(mw(func(context.Context, string, string, core.Batch) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}))

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	mw := retry.New(retry.Config{
		MaxRetries:      2,
		InitialInterval: 10 * time.Millisecond,
	})

	errPersistent := errors.New("persistent error")
	var attempts int
	err := send(mw(func(context.Context, string, string, core.Batch) error {
		attempts++
		return errPersistent
	}))

	if !errors.Is(err, errPersistent) {
		t.Errorf("expected last error after retry exhaustion, got %v", err)
	}
	if attempts != 3 { // 1 initial + 2 retries
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryShouldRetry(t *testing.T) {
	var errNoRetry = errors.New("no retry")

	mw := retry.New(retry.Config{
		MaxRetries:      3,
		InitialInterval: 10 * time.Millisecond,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, errNoRetry)
		},
	})

	var attempts int
	err := send(mw(func(context.Context, string, string, core.Batch) error {
		attempts++
		return errNoRetry
	}))

	if !errors.Is(err, errNoRetry) {
		t.Errorf("expected errNoRetry, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (should not retry)", attempts)
	}
}

func TestRetrySkipsPanics(t *testing.T) {
	mw := retry.New(retry.Config{MaxRetries: 3, InitialInterval: time.Millisecond})

	var attempts int
	err := send(mw(func(context.Context, string, string, core.Batch) error {
		attempts++
		return &core.PanicError{Value: "boom"}
	}))
	var pe *core.PanicError
	if !errors.As(err, &pe) || attempts != 1 {
		t.Errorf("panic should not be retried: attempts=%d err=%v", attempts, err)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	mw := timeout.New(50 * time.Millisecond)

	err := send(mw(func(ctx context.Context, _, _ string, _ core.Batch) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return nil
		}
	}))

	if !errors.Is(err, timeout.ErrSendTimeout) {
		t.Errorf("expected ErrSendTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", err)
	}
}

func TestTimeoutPassThrough(t *testing.T) {
	errOther := errors.New("other")
	err := send(timeout.New(time.Second)(func(context.Context, string, string, core.Batch) error {
		return errOther
	}))
	if err != errOther {
		t.Errorf("non-timeout error should pass through unchanged, got %v", err)
	}

	var hasDeadline bool
	send(timeout.New(0)(func(ctx context.Context, _, _ string, _ core.Batch) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}))
	if hasDeadline {
		t.Error("zero timeout should not set a deadline")
	}
}

func TestRecovererMiddleware(t *testing.T) {
	mw := recoverer.New()

	err := send(mw(func(context.Context, string, string, core.Batch) error {
		panic("test panic")
	}))

	if err == nil {
		t.Fatal("expected error from panic recovery")
	}

	var pe *core.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %T", err)
	}
	if pe.Value != "test panic" {
		t.Errorf("panic value = %v, want 'test panic'", pe.Value)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	zc, logs := observer.New(zapcore.DebugLevel)
	mw := logging.New(zap.New(zc))

	send(mw(func(context.Context, string, string, core.Batch) error { return nil }))
	send(mw(func(context.Context, string, string, core.Batch) error { return errors.New("fail") }))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("logged %d entries, want 2", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].Message != "batch sent" {
		t.Errorf("first entry = %v %q", entries[0].Level, entries[0].Message)
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("failure should log at Error, got %v", entries[1].Level)
	}
	if got := entries[0].ContextMap()["messages"]; got != int64(2) {
		t.Errorf("messages field = %v, want 2", got)
	}
	if got := entries[0].ContextMap()["topic"]; got != "topic" {
		t.Errorf("topic field = %v", got)
	}
}

func TestCorrelationMiddleware(t *testing.T) {
	mw := correlation.New()

	t.Run("stamps one ID per batch", func(t *testing.T) {
		batch := testBatch(3)
		var seen core.Batch
		mw(func(_ context.Context, _, _ string, b core.Batch) error {
			seen = b
			return nil
		})(context.Background(), "", "t", batch)

		id := seen[0].Attributes.Get(correlation.HeaderCorrelationID)
		if id == "" {
			t.Fatal("correlation_id should be generated")
		}
		for _, m := range seen {
			if m.Attributes.Get(correlation.HeaderCorrelationID) != id {
				t.Error("all messages in a batch should share the correlation_id")
			}
		}
		if batch[0].Attributes.Has(correlation.HeaderCorrelationID) {
			t.Error("submitted messages must not be mutated")
		}
	})

	t.Run("preserves existing ID", func(t *testing.T) {
		m := message.New(nil, map[string]string{correlation.HeaderCorrelationID: "existing-id"})
		var seen core.Batch
		mw(func(_ context.Context, _, _ string, b core.Batch) error {
			seen = b
			return nil
		})(context.Background(), "", "t", core.Batch{m})

		if seen[0].Attributes.Get(correlation.HeaderCorrelationID) != "existing-id" {
			t.Error("existing correlation_id should be preserved")
		}
	})
}

func TestTracingMiddleware(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	mw := tracing.New(
		tracing.WithTracerProvider(tp),
		tracing.WithPropagation(propagation.TraceContext{}),
		tracing.WithSystem("gcp_pubsub"),
	)

	var seen core.Batch
	ok := mw(func(_ context.Context, _, _ string, b core.Batch) error {
		seen = b
		return nil
	})
	if err := ok(context.Background(), "proj", "orders", testBatch(2)); err != nil {
		t.Fatal(err)
	}
	fail := mw(func(context.Context, string, string, core.Batch) error { return errors.New("rejected") })
	if err := fail(context.Background(), "proj", "orders", testBatch(1)); err == nil {
		t.Fatal("error should pass through")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended %d spans, want 2", len(spans))
	}
	if spans[0].Name() != "publish orders" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("failed send status = %v, want Error", spans[1].Status().Code)
	}
	for _, m := range seen {
		if m.Attributes.Get("traceparent") == "" {
			t.Error("traceparent should be injected into message attributes")
		}
	}
}

func TestMiddlewareChaining(t *testing.T) {
	var order []string

	mw1 := func(next core.SendFunc) core.SendFunc {
		return func(ctx context.Context, p, topic string, b core.Batch) error {
			order = append(order, "mw1-before")
			err := next(ctx, p, topic, b)
			order = append(order, "mw1-after")
			return err
		}
	}

	mw2 := func(next core.SendFunc) core.SendFunc {
		return func(ctx context.Context, p, topic string, b core.Batch) error {
			order = append(order, "mw2-before")
			err := next(ctx, p, topic, b)
			order = append(order, "mw2-after")
			return err
		}
	}

	s := local.New()
	wrapped := core.Wrap(s, mw1, mw2)
	if err := wrapped.Send(context.Background(), "", "t", testBatch(1)); err != nil {
		t.Fatal(err)
	}

	expected := []string{"mw1-before", "mw2-before", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("order = %v, want %v", order, expected)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], expected[i])
		}
	}
	if len(s.Sent()) != 1 {
		t.Error("inner sink should receive the batch")
	}
}

func TestRetryAroundFlakySink(t *testing.T) {
	var calls atomic.Int32
	s := local.New(local.WithFailFunc(func(string, core.Batch) error {
		if calls.Add(1) < 3 {
			return errors.New("unavailable")
		}
		return nil
	}))
	wrapped := core.Wrap(s, recoverer.New(), retry.New(retry.Config{MaxRetries: 5, InitialInterval: time.Millisecond}))

	if err := wrapped.Send(context.Background(), "", "t", testBatch(1)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(s.Sent()) != 1 {
		t.Errorf("recorded %d batches, want 1", len(s.Sent()))
	}
}
