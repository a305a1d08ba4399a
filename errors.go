package gcheap

import (
	"errors"
	"os"

	"go.uber.org/zap"
)

// Sentinel errors for the mutator-facing API (spec §7 "Mutator errors
// surfaced to the value-API layer as a bit-flag set"). The core only
// needs to distinguish these three; the richer per-thread error word the
// value-API layer builds on top of them is out of scope.
var (
	ErrLinearityViolation = errors.New("gcheap: linearity violation")
	ErrStemUnderflow      = errors.New("gcheap: stem underflow")
	ErrHeapExhausted      = errors.New("gcheap: heap exhausted")
)

// fatalAbort implements spec §7's propagation policy for out-of-address-
// space and acquire-path mprotect failures: log a clear diagnostic and
// abort the process. There is deliberately no return path. The type
// checker does not treat a call to it as terminating, so callers still
// write a (never reached) return statement after it.
func fatalAbort(log *zap.Logger, msg string, fields ...zap.Field) {
	if log != nil {
		log.Error(msg, fields...)
		_ = log.Sync()
	}
	os.Exit(2)
}
