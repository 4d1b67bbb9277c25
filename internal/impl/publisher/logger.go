package publisher

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger 按调试开关构建日志器
//   - 默认: production，Warn 级别
//   - debug: development，Debug 级别，无堆栈
//   - trace: development，Debug 级别，错误带堆栈，逐条消息日志
func newLogger(debug, trace bool) *zap.Logger {
	var cfg zap.Config
	switch {
	case trace:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case debug:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.DisableStacktrace = true
	default:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		cfg.Sampling = nil
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("pubsub")
}
