package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
	nop          = zap.NewNop()
)

// LogLevel is one of debug, info, warn or error.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Config 日志输出与轮转配置；OutputPath 为空时只写 stdout
type Config struct {
	Level      LogLevel
	OutputPath string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func (c Config) zapLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(string(c.Level))
	if err != nil || level > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return level
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

// InitLogger 初始化全局 logger，重复调用无效
func InitLogger(config Config) {
	once.Do(func() {
		level := config.zapLevel()
		sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}

		if config.OutputPath != "" {
			if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
				panic(err)
			}
			sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
				Filename:   config.OutputPath,
				MaxSize:    config.MaxSize,
				MaxBackups: config.MaxBackups,
				MaxAge:     config.MaxAge,
				Compress:   config.Compress,
			}))
		}

		cores := make([]zapcore.Core, 0, len(sinks))
		for _, sink := range sinks {
			cores = append(cores, zapcore.NewCore(jsonEncoder(), sink, level))
		}
		globalLogger = zap.New(zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddCallerSkip(1),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
	})
}

// L returns the global logger, or a no-op logger before InitLogger runs.
func L() *zap.Logger {
	if globalLogger == nil {
		return nop
	}
	return globalLogger
}

func Sync() {
	_ = L().Sync()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// 字段构造
func String(key string, val string) zap.Field { return zap.String(key, val) }
func Strings(key string, val []string) zap.Field { return zap.Strings(key, val) }
func Int(key string, val int) zap.Field { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }
func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }
func Time(key string, val time.Time) zap.Field { return zap.Time(key, val) }
func ErrorField(err error) zap.Field { return zap.Error(err) }
