package siftgpu

import (
	"log/slog"

	"github.com/gogpu/siftgpu/internal/logging"
)

// SetLogger installs the logger used by the detector, the GPU context, and
// every internal subpackage that reports diagnostics (shader compilation,
// adapter selection, CPU pyramid builds, CPU keypoint truncation). A nil
// logger reinstalls the no-op default.
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the currently installed logger.
func Logger() *slog.Logger {
	return logging.Get()
}
