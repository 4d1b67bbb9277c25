package core

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// 哨兵错误，配合 errors.Is 使用
var (
	// ErrConfig 客户端配置非法
	ErrConfig = errors.New("pubsub: invalid config")

	// ErrInvalidArgument publish 参数非法（空 topic、超大消息）
	ErrInvalidArgument = errors.New("pubsub: invalid argument")

	// ErrClosed 客户端已关闭
	ErrClosed = errors.New("pubsub: client is closed")

	// ErrAlreadyClosed 重复调用 Close
	ErrAlreadyClosed = errors.New("pubsub: client already closed")

	// ErrTimeout 阻塞等待超过 publishTimeout
	ErrTimeout = errors.New("pubsub: timed out")

	// ErrDelivery Sink 拒绝或未能投递批次
	ErrDelivery = errors.New("pubsub: delivery failed")
)

// ConfigError 配置错误。构造失败，不产出客户端。
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pubsub: invalid config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// InvalidArgumentError publish 参数错误。仅影响本次调用。
type InvalidArgumentError struct {
	Arg    string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("pubsub: invalid argument %s: %s", e.Arg, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// ClosedClientError 客户端关闭后调用 publish。
type ClosedClientError struct {
	Op string
}

func (e *ClosedClientError) Error() string {
	if e.Op == "" {
		return ErrClosed.Error()
	}
	return fmt.Sprintf("pubsub: %s on closed client", e.Op)
}

func (e *ClosedClientError) Is(target error) bool { return target == ErrClosed }

// AlreadyClosedError 第二次调用 Close。同时满足 errors.Is(err, ErrClosed)。
type AlreadyClosedError struct{}

func (e *AlreadyClosedError) Error() string { return ErrAlreadyClosed.Error() }

func (e *AlreadyClosedError) Is(target error) bool {
	return target == ErrAlreadyClosed || target == ErrClosed
}

// TimeoutError 阻塞的 flush/drain 超时。底层发送可能仍在后台完成，结果对调用方未知。
type TimeoutError struct {
	Op    string
	Topic string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pubsub: %s topic %q timed out after %v", e.Op, e.Topic, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Timeout 实现 net.Error 风格的超时判断。
func (e *TimeoutError) Timeout() bool { return true }

// DeliveryError Sink 投递失败。Unwrap 返回 Sink 的原始错误。
type DeliveryError struct {
	Topic    string
	Messages int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("pubsub: deliver %d message(s) to topic %q: %v", e.Messages, e.Topic, e.Err)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

func (e *DeliveryError) Unwrap() error { return e.Err }

// CloseError close/flush 期间收集的全部失败。
type CloseError struct {
	Op   string // "close"（默认）或 "flush"
	Errs []error
}

func (e *CloseError) Error() string {
	op := e.Op
	if op == "" {
		op = "close"
	}
	return "pubsub: " + op + ": " + multierr.Combine(e.Errs...).Error()
}

// Unwrap 暴露所有成员，errors.Is/As 可逐个匹配。
func (e *CloseError) Unwrap() []error { return e.Errs }

// PanicError Sink panic 转换后的错误
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pubsub: sink panic: %v", e.Value)
}

// Combine 合并错误列表：全部为 nil 返回 nil，否则返回 *CloseError。
func Combine(errs ...error) error {
	return CombineOp("", errs...)
}

// CombineOp 同 Combine，结果的 Op 为 op。
func CombineOp(op string, errs ...error) error {
	var out []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ce *CloseError
		if errors.As(err, &ce) {
			out = append(out, ce.Errs...)
			continue
		}
		out = append(out, err)
	}
	if len(out) == 0 {
		return nil
	}
	return &CloseError{Op: op, Errs: out}
}
