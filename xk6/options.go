package xk6

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/uniyakcom/xk6-pubsub/core"
)

// options publisher(config) 的配置对象
type options struct {
	ProjectID      string            `mapstructure:"projectID"`
	PublishTimeout *time.Duration    `mapstructure:"publishTimeout"`
	Debug          bool              `mapstructure:"debug"`
	Trace          bool              `mapstructure:"trace"`
	Preset         string            `mapstructure:"preset"`
	MaxMessages    int               `mapstructure:"maxMessages"`
	MaxBytes       int               `mapstructure:"maxBytes"`
	Linger         *time.Duration    `mapstructure:"linger"`
	SendWorkers    int               `mapstructure:"sendWorkers"`
	Retries        int               `mapstructure:"retries"`
	Backend        string            `mapstructure:"backend"`
	URL            string            `mapstructure:"url"`
	Options        map[string]string `mapstructure:"options"`
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook 字符串按 time.ParseDuration 解析，数字按毫秒
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return time.ParseDuration(data.(string))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Millisecond, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Millisecond, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Millisecond)), nil
	}
	return data, nil
}

func decodeOptions(config map[string]any) (*options, error) {
	var opts options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationHook,
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(config); err != nil {
		return nil, &core.ConfigError{Field: "config", Reason: err.Error()}
	}

	// 显式给出的超时必须为正；未给出时使用默认值
	if opts.PublishTimeout != nil && *opts.PublishTimeout <= 0 {
		return nil, &core.ConfigError{
			Field:  "publishTimeout",
			Reason: fmt.Sprintf("must be positive, got %v", *opts.PublishTimeout),
		}
	}
	return &opts, nil
}
