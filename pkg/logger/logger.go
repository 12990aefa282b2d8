// Package logger 提供进程内统一的日志记录器
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志核心的配置参数，由顶层配置文档映射而来
type Options struct {
	Level        string
	FileEnabled  bool
	FilePath     string
	FileSize     int
	FileCompress bool
	MaxAge       int
	MaxBackups   int
	Console      bool
}

var (
	mu   sync.Mutex
	root *zap.Logger
)

func defaultOptions() *Options {
	return &Options{
		Level:      "info",
		FileSize:   10,
		MaxAge:     7,
		MaxBackups: 7,
		Console:    true,
	}
}

// Setup 根据配置初始化全局日志核心
//
// 文件输出经过lumberjack做滚动切割，控制台输出只在前台模式开启。
// 重复调用会替换全局核心，已经取得的命名logger不受影响。
func Setup(opts *Options) {
	mu.Lock()
	defer mu.Unlock()

	setupLocked(opts)
}

func setupLocked(opts *Options) {
	if opts == nil {
		opts = defaultOptions()
	}

	level := zapcore.InfoLevel
	if err := level.Set(opts.Level); err != nil {
		level = zapcore.InfoLevel
	}

	cores := make([]zapcore.Core, 0, 2)

	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if opts.FileEnabled && opts.FilePath != "" {
		sink := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.FileSize,
			MaxAge:     opts.MaxAge,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.FileCompress,
		}

		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(sink),
			level,
		))
	}

	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}

	root = zap.New(zapcore.NewTee(cores...))
}

// Logging 返回一个带名字的SugaredLogger
func Logging(name string) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()

	if root == nil {
		setupLocked(nil)
	}

	return root.Named(name).Sugar()
}
