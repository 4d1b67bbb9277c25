// Package message 提供发布端消息类型定义。
//
// Message 是 publisher 客户端的基本投递单元：Publish 时创建，进入 TopicBatcher 的
// 待发批次，最终随 Batch 交给 Sink。提交后即不可变：New 会深拷贝 payload 与属性，
// 调用方之后修改自己的切片/map 不会影响已入队的消息。
package message

import (
	"time"
)

// Message 消息投递单元
type Message struct {
	// ID 消息唯一标识（UUID v4，由 IDGenerator 生成）
	ID string

	// Data 消息负载
	Data []byte

	// Attributes 消息属性（可选，string→string）
	Attributes Attributes

	// PublishTime 入队时间
	PublishTime time.Time
}

// New 创建消息。data 与 attrs 均被拷贝。
func New(data []byte, attrs map[string]string) *Message {
	payload := make([]byte, len(data))
	copy(payload, data)

	var a Attributes
	if len(attrs) > 0 {
		a = make(Attributes, len(attrs))
		for k, v := range attrs {
			a[k] = v
		}
	}

	return &Message{
		ID:          generator().NewID(),
		Data:        payload,
		Attributes:  a,
		PublishTime: time.Now(),
	}
}

// Size 返回消息计入批次字节阈值的大小：负载长度 + 属性键值长度之和。
func (m *Message) Size() int {
	if m == nil {
		return 0
	}
	return len(m.Data) + m.Attributes.Size()
}
