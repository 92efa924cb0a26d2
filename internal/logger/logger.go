// 包 logger：统一初始化与获取日志器，避免各模块重复配置；通过环境变量控制日志级别、输出格式与落盘文件
package logger

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// Setup：初始化默认日志器
// 背景：集中化日志配置，便于按环境统一调整级别与格式
// 约束：默认输出到标准错误；设置 LOG_FILE 时同时写入按大小轮转的文件（LOG_MAX_SIZE_MB，默认 100）
func Setup() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(newHandler(output()))
	return defaultLogger
}

func level() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func output() io.Writer {
	path := os.Getenv("LOG_FILE")
	if path == "" {
		return os.Stderr
	}
	size := 100
	if v := os.Getenv("LOG_MAX_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    size,
		MaxBackups: 5,
		Compress:   true,
	})
}

func newHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level()}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// L：获取默认日志器
// 背景：为业务代码提供快捷访问；若未初始化则回退到 Setup
func L() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		return Setup()
	}
	return l
}
