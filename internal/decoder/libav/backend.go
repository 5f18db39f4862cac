package libav

import (
	"sync"

	"github.com/asticode/go-astiav"

	"media-thumbnailer/internal/logging"
)

var (
	backendMu    sync.Mutex
	backendReady bool
)

// ensureBackend performs the process-wide libav setup once. Per-request
// contexts are created independently afterwards.
func ensureBackend() {
	backendMu.Lock()
	defer backendMu.Unlock()

	if backendReady {
		return
	}

	astiav.SetLogLevel(backendLogLevel(logging.GetLevel()))
	backendReady = true
	log.Info("libav backend initialized")
}

// backendLogLevel keeps libav one step quieter than the application, the
// same way the vips log handler is mapped.
func backendLogLevel(level logging.LogLevel) astiav.LogLevel {
	switch level {
	case logging.LevelDebug:
		return astiav.LogLevelWarning
	case logging.LevelInfo, logging.LevelWarn:
		return astiav.LogLevelError
	case logging.LevelError:
		return astiav.LogLevelFatal
	default:
		return astiav.LogLevelError
	}
}
