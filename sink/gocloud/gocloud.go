// Package gocloud 提供基于 Go CDK（gocloud.dev/pubsub）的可移植 Sink。
//
// topic 通过 URL 模板打开，"{topic}" 与 "{project}" 被替换，例如：
//
//	mem://{topic}
//	gcppubsub://projects/{project}/topics/{topic}
//
// 驱动通过空导入注册；本包注册 mempubsub，其他驱动由调用方导入。
package gocloud

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// Sink Go CDK 投递端
type Sink struct {
	template string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New 创建 Sink。template 必须包含 "{topic}"。
func New(template string) (*Sink, error) {
	if !strings.Contains(template, "{topic}") {
		return nil, &core.ConfigError{Field: "url", Reason: "template must contain {topic}"}
	}
	return &Sink{template: template, topics: make(map[string]*pubsub.Topic)}, nil
}

// URL 返回 topic 对应的 URL
func (s *Sink) URL(projectID, topic string) string {
	return strings.NewReplacer("{topic}", topic, "{project}", projectID).Replace(s.template)
}

// Send 按批内顺序逐条发送（驱动内部再做批量），任一失败则整批失败。
func (s *Sink) Send(ctx context.Context, projectID, topic string, batch core.Batch) error {
	t, err := s.topic(ctx, projectID, topic)
	if err != nil {
		return err
	}

	for _, m := range batch {
		err := t.Send(ctx, &pubsub.Message{
			Body:       m.Data,
			Metadata:   m.Attributes.Copy(),
			LoggableID: m.ID,
		})
		if err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
	}
	return nil
}

// Close 关闭所有已打开的 topic
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for url, t := range s.topics {
		err = multierr.Append(err, t.Shutdown(context.Background()))
		delete(s.topics, url)
	}
	return err
}

func (s *Sink) topic(ctx context.Context, projectID, topic string) (*pubsub.Topic, error) {
	url := s.URL(projectID, topic)

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.topics[url]; ok {
		return t, nil
	}
	t, err := pubsub.OpenTopic(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open topic %s: %w", url, err)
	}
	s.topics[url] = t
	return t, nil
}
