// Package gcp 提供 Google Cloud Pub/Sub Sink。
//
// 每个 topic 一个 *pubsub.Publisher（懒创建并缓存），Send 发布整批消息后逐条等待 PublishResult。
// 设置 PUBSUB_EMULATOR_HOST 时连接模拟器，此时允许空 projectID。
package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
	"google.golang.org/api/option"

	"github.com/uniyakcom/xk6-pubsub/core"
)

const (
	// EmulatorHostEnv 模拟器地址环境变量
	EmulatorHostEnv = "PUBSUB_EMULATOR_HOST"

	// EmulatorProject 模拟器模式下空 projectID 使用的占位项目
	EmulatorProject = "emulator-project"

	// MaxMessageBytes Pub/Sub 单条消息上限
	MaxMessageBytes = 10 * 1000 * 1000
)

// Sink Google Cloud Pub/Sub 投递端
type Sink struct {
	client     *pubsub.Client
	project    string
	publishers *xsync.MapOf[string, *pubsub.Publisher]
	settings   func(*pubsub.PublishSettings)
}

// Option 配置选项
type Option func(*Sink)

// WithPublishSettings 调整每个 Publisher 的 PublishSettings
func WithPublishSettings(fn func(*pubsub.PublishSettings)) Option {
	return func(s *Sink) { s.settings = fn }
}

// New 创建 Sink。opts 为 google api client 选项（凭证、endpoint、gRPC 连接等）。
func New(ctx context.Context, projectID string, opts []option.ClientOption, sinkOpts ...Option) (*Sink, error) {
	if err := validateProject(projectID); err != nil {
		return nil, err
	}
	project := projectID
	if project == "" {
		project = EmulatorProject
	}

	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	s := &Sink{
		client:     client,
		project:    project,
		publishers: xsync.NewMapOf[string, *pubsub.Publisher](),
	}
	for _, o := range sinkOpts {
		o(s)
	}
	return s, nil
}

// Send 发布整批消息并等待全部结果。任一消息失败则整批视为失败，错误合并返回。
func (s *Sink) Send(ctx context.Context, projectID, topic string, batch core.Batch) error {
	p := s.publisher(s.topicName(projectID, topic))

	results := make([]*pubsub.PublishResult, len(batch))
	for i, m := range batch {
		results[i] = p.Publish(ctx, &pubsub.Message{
			Data:       m.Data,
			Attributes: m.Attributes,
		})
	}

	var err error
	for i, r := range results {
		if _, gerr := r.Get(ctx); gerr != nil {
			err = multierr.Append(err, fmt.Errorf("message %s: %w", batch[i].ID, gerr))
		}
	}
	return err
}

// Close 停止所有 Publisher 并关闭客户端
func (s *Sink) Close() error {
	s.publishers.Range(func(_ string, p *pubsub.Publisher) bool {
		p.Stop()
		return true
	})
	s.publishers.Clear()
	return s.client.Close()
}

// MaxMessageBytes 实现 core.SizeLimiter
func (s *Sink) MaxMessageBytes() int { return MaxMessageBytes }

// ValidateProject 实现 core.ProjectValidator
func (s *Sink) ValidateProject(projectID string) error { return validateProject(projectID) }

func validateProject(projectID string) error {
	if projectID == "" && os.Getenv(EmulatorHostEnv) == "" {
		return &core.ConfigError{
			Field:  "projectID",
			Reason: "required unless " + EmulatorHostEnv + " is set",
		}
	}
	if strings.ContainsAny(projectID, "/ ") {
		return &core.ConfigError{Field: "projectID", Reason: fmt.Sprintf("invalid project %q", projectID)}
	}
	return nil
}

// topicName 返回完整资源名。已是完整名时原样返回。
func (s *Sink) topicName(projectID, topic string) string {
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	if projectID == "" {
		projectID = s.project
	}
	return "projects/" + projectID + "/topics/" + topic
}

func (s *Sink) publisher(name string) *pubsub.Publisher {
	p, _ := s.publishers.LoadOrCompute(name, func() *pubsub.Publisher {
		p := s.client.Publisher(name)
		if s.settings != nil {
			s.settings(&p.PublishSettings)
		}
		return p
	})
	return p
}
