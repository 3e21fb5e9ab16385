package audit

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileRecorder writes entries as JSON lines to an append-only file.
type FileRecorder struct {
	logger *zap.Logger
	file   *os.File
}

// NewFileRecorder opens (or creates) path for appending.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "logged_at"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), zapcore.InfoLevel)

	return &FileRecorder{logger: zap.New(core), file: f}, nil
}

// Record implements Recorder.
func (r *FileRecorder) Record(_ context.Context, e Entry) {
	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.Time("time", e.Time),
	}
	if e.Nickname != "" {
		fields = append(fields, zap.String("nickname", e.Nickname))
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.Seconds != 0 {
		fields = append(fields, zap.Int64("seconds", e.Seconds))
	}
	if e.Count != 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}
	if e.Server != "" {
		fields = append(fields, zap.String("server", e.Server))
	}

	switch e.Kind {
	case KindBan, KindPersistFailure:
		r.logger.Error("audit", fields...)
	case KindJoinDenied, KindMute:
		r.logger.Warn("audit", fields...)
	default:
		r.logger.Info("audit", fields...)
	}
}

// Close flushes and closes the file.
func (r *FileRecorder) Close() error {
	_ = r.logger.Sync()
	return r.file.Close()
}
