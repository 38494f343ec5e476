package sysutil

import (
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log = zap.NewNop()
var LogSugar = Log.Sugar()

// InitLogger 控制台输出到 stdout，终端下带颜色
func InitLogger(level zapcore.Level) {
	Log = NewLogger(zapcore.AddSync(os.Stdout), level, isatty.IsTerminal(os.Stdout.Fd()))
	LogSugar = Log.Sugar()
}

func NewLogger(out zapcore.WriteSyncer, level zapcore.Level, color bool) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder // 格式化时间输出
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // 彩色级别
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(config.EncoderConfig),
		out,
		level,
	)
	return zap.New(core, zap.AddCaller())
}
