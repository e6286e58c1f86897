// Package logging 创建 zap 日志, 可选滚动文件输出
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/getcharzp/sam2-td/internal/config"
)

// EncoderConfig 控制台与文件共用的字段配置
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New 按配置创建日志, 输出到 stdout, 配置了 File 时同时写入滚动文件
func New(cfg config.LogConfig) (*zap.Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LogConfig, stdout io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("日志级别无效: %w", err)
	}
	encoder, err := newEncoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stdout)), level),
	}
	if cfg.File != "" {
		rotate := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		// 文件统一使用 JSON, 便于检索
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(EncoderConfig()), zapcore.AddSync(rotate), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func newEncoder(encoding string) (zapcore.Encoder, error) {
	switch encoding {
	case "", "console":
		return zapcore.NewConsoleEncoder(EncoderConfig()), nil
	case "json":
		return zapcore.NewJSONEncoder(EncoderConfig()), nil
	}
	return nil, fmt.Errorf("不支持的日志格式: %q", encoding)
}
