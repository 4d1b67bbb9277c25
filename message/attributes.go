package message

// Attributes 消息属性（键值对，投递到支持 header/attribute 的后端）
type Attributes map[string]string

// Get 获取属性值，key 不存在返回空字符串。
func (a Attributes) Get(key string) string {
	if a == nil {
		return ""
	}
	return a[key]
}

// Has 检查 key 是否存在。
func (a Attributes) Has(key string) bool {
	if a == nil {
		return false
	}
	_, ok := a[key]
	return ok
}

// Copy 深拷贝属性。nil 返回 nil。
func (a Attributes) Copy() Attributes {
	if a == nil {
		return nil
	}
	cp := make(Attributes, len(a))
	for k, v := range a {
		cp[k] = v
	}
	return cp
}

// Size 所有键值的字节长度之和。
func (a Attributes) Size() int {
	n := 0
	for k, v := range a {
		n += len(k) + len(v)
	}
	return n
}
