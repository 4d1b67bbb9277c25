package marshal

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/uniyakcom/xk6-pubsub/message"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonEnvelope JSON 序列化信封。Data 按标准库规则编码为 base64。
type jsonEnvelope struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Data        []byte            `json:"data"`
	PublishTime time.Time         `json:"publish_time"`
}

// JSON JSON 信封编解码器
type JSON struct{}

// Marshal 将消息序列化为 JSON。
func (JSON) Marshal(topic string, msg *message.Message) ([]byte, error) {
	env := jsonEnvelope{
		ID:          msg.ID,
		Topic:       topic,
		Attributes:  msg.Attributes,
		Data:        msg.Data,
		PublishTime: msg.PublishTime,
	}
	return json.Marshal(env)
}

// Unmarshal 将 JSON 反序列化为消息。ID 保留信封中的值。
func (JSON) Unmarshal(topic string, data []byte) (*message.Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope for %s: %w", topic, err)
	}

	msg := message.New(env.Data, env.Attributes)
	if env.ID != "" {
		msg.ID = env.ID
	}
	if !env.PublishTime.IsZero() {
		msg.PublishTime = env.PublishTime
	}
	return msg, nil
}
