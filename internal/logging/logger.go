package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a JSON logger writing to a rotated file under logDir.
// With console set it also tees to stderr for interactive runs.
func NewLogger(logDir string, console bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "forge.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, zap.InfoLevel),
	}
	if console {
		cores = append(cores,
			zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stderr), zap.DebugLevel))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
