package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/vivian5285/panda-quant/libs/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the JSON logger every binary uses. When cfg.LogFile.Path is
// set, records are also written to a size-rotated file.
func NewLogger(cfg config.AppConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if rotating := newRotatingFile(cfg.LogFile); rotating != nil {
		out = io.MultiWriter(os.Stdout, rotating)
	}
	return New(out, cfg.LogLevel, cfg.ServiceName, cfg.Env)
}

func New(w io.Writer, level, serviceName, env string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With(
		slog.String("service", serviceName),
		slog.String("env", env),
	)
}

func newRotatingFile(cfg config.LogFileConfig) *lumberjack.Logger {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
