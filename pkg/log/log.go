// Package log 封装了全局的 zap SugaredLogger。
package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init 之前是 no-op logger，测试和 omctl 可以直接调用。
var sugar = zap.NewNop().Sugar()

// Init 按级别和编码构建全局 logger。outputPath 非空时同时写入 <outputPath>/app.log。
func Init(level, format, outputPath string) {
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	_ = lvl.UnmarshalText([]byte(level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if outputPath != "" {
		if err := os.MkdirAll(outputPath, 0o755); err == nil {
			f, err := os.OpenFile(filepath.Join(outputPath, "app.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				sinks = append(sinks, zapcore.AddSync(f))
			}
		}
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), lvl)
	// 跳过本包的一层包装，caller 指向真正的调用方
	sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func Info(msg string) { sugar.Info(msg) }

func Infof(template string, args ...interface{}) { sugar.Infof(template, args...) }

// Infow 记录结构化日志，用于批次边界等需要按字段检索的场景。
func Infow(msg string, keysAndValues ...interface{}) { sugar.Infow(msg, keysAndValues...) }

func Debugf(template string, args ...interface{}) { sugar.Debugf(template, args...) }

func Warnf(template string, args ...interface{}) { sugar.Warnf(template, args...) }

func Warnw(msg string, keysAndValues ...interface{}) { sugar.Warnw(msg, keysAndValues...) }

// Error 记录一条错误日志，err 放在 "error" 字段。
func Error(msg string, err error) { sugar.Errorw(msg, "error", err) }

func Errorf(template string, args ...interface{}) { sugar.Errorf(template, args...) }

func Errorw(msg string, keysAndValues ...interface{}) { sugar.Errorw(msg, keysAndValues...) }

// Fatal 记录错误后退出进程，只在启动阶段使用。
func Fatal(msg string, err error) { sugar.Fatalw(msg, "error", err) }

func Fatalf(template string, args ...interface{}) { sugar.Fatalf(template, args...) }

// Sync 刷新缓冲区，程序退出前调用。
func Sync() { _ = sugar.Sync() }
