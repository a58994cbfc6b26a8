package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
)

// LogSink writes entries to the process logger. It is the default sink when no
// remote dataset is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each entry at the level it carries.
func (s *LogSink) Consume(_ context.Context, batch []requestlog.Entry) error {
	for _, entry := range batch {
		fields := []zap.Field{
			zap.String("id", entry.ID.String()),
			zap.String("type", string(entry.Type)),
			zap.Time("ts", entry.TS),
		}
		if entry.RequestID != "" {
			fields = append(fields, zap.String("request_id", entry.RequestID))
		}
		if entry.Type == requestlog.TypeRequest {
			fields = append(fields,
				zap.String("method", entry.Method),
				zap.String("host", entry.Host),
				zap.String("path", entry.Path),
				zap.String("user_agent", entry.UserAgent),
				zap.String("ip", entry.IP),
				zap.Int("status", entry.Status),
				zap.Duration("duration", entry.Duration),
			)
		}
		if entry.Mention {
			fields = append(fields, zap.Bool("mention", true))
		}
		for k, v := range entry.Fields {
			fields = append(fields, zap.String(k, v))
		}
		if ce := s.logger.Check(zapLevel(entry.Level), entry.Message); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close flushes the underlying logger buffer.
func (s *LogSink) Close(context.Context) error {
	// Sync on stderr/stdout returns EINVAL on most platforms.
	_ = s.logger.Sync()
	return nil
}

func zapLevel(level requestlog.Level) zapcore.Level {
	switch level {
	case requestlog.LevelError:
		return zapcore.ErrorLevel
	case requestlog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
