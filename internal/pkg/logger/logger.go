// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 按配置重建全局 logger。format 为 "console" 时输出人类可读格式，其余一律 JSON。
func Init(serviceName, level, format string) {
	var w io.Writer = os.Stdout
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	base = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
}

// SetOutput 替换输出目标，测试中用来捕获日志。
func SetOutput(w io.Writer) {
	base = base.Output(w)
}

// L 返回不带请求上下文的全局 logger。
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回携带当前 trace_id / span_id 的 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &l
}
