package gcheap

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process-wide structured logger. Encoding is
// selected by GLAS_GC_LOG (spec §6 env surface, extended in
// SPEC_FULL.md's §"Environment variables").
func newLogger(encoding string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if encoding == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := cfg.Build()
	if err != nil {
		// Logger construction failing is itself not something we can
		// log about; fall back to a no-op logger rather than abort a
		// process over an observability dependency.
		return zap.NewNop()
	}
	return log
}
