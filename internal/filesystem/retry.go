package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"media-thumbnailer/internal/logging"
)

var log = logging.Tag("Filesystem")

// ErrNotRegular is returned by CheckReadable for directories, sockets,
// devices and other non-regular files.
var ErrNotRegular = errors.New("not a regular file")

// VolumeResolver maps file paths to known volume names for metric labeling.
// It uses longest-prefix matching on absolute paths.
type VolumeResolver struct {
	// sorted by path length descending
	mounts []volumeMount
}

type volumeMount struct {
	path string // absolute, trailing slash
	name string
}

// NewVolumeResolver creates a resolver from a map of volume name → absolute path.
//
//	NewVolumeResolver(map[string]string{
//	    "media": "/media",
//	    "tmp":   "/tmp",
//	})
func NewVolumeResolver(volumes map[string]string) *VolumeResolver {
	mounts := make([]volumeMount, 0, len(volumes))
	for name, path := range volumes {
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}
		if !strings.HasSuffix(absPath, "/") {
			absPath += "/"
		}
		mounts = append(mounts, volumeMount{path: absPath, name: name})
	}

	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].path) > len(mounts[j].path)
	})

	return &VolumeResolver{mounts: mounts}
}

// Resolve returns the volume name for a given file path.
// Returns "unknown" if the path doesn't match any configured volume.
func (vr *VolumeResolver) Resolve(path string) string {
	if vr == nil {
		return "unknown"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "unknown"
	}

	for _, mount := range vr.mounts {
		if strings.HasPrefix(absPath+"/", mount.path) || strings.HasPrefix(absPath, mount.path) {
			return mount.name
		}
	}

	return "unknown"
}

var defaultResolver *VolumeResolver

// SetDefaultVolumeResolver sets the package-level volume resolver.
// Call this once at startup after loading configuration.
func SetDefaultVolumeResolver(vr *VolumeResolver) {
	defaultResolver = vr
}

// RetryConfig configures retry behavior for filesystem operations
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// VolumeResolver overrides the package-level resolver for this operation.
	// If nil, the package-level default is used.
	VolumeResolver *VolumeResolver
}

// DefaultRetryConfig returns sensible defaults for NFS retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func (c *RetryConfig) resolveVolume(path string) string {
	if c.VolumeResolver != nil {
		return c.VolumeResolver.Resolve(path)
	}
	return defaultResolver.Resolve(path)
}

// isNFSStaleError checks if an error is an NFS stale file handle error
func isNFSStaleError(err error) bool {
	if err == nil {
		return false
	}

	// ESTALE is errno 116 on Linux
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESTALE
	}

	return false
}

// withRetry runs fn until it succeeds, fails with something other than
// ESTALE, the retry budget runs out, or ctx is done. Backoff sleeps are
// interrupted by ctx so a request deadline is never overrun here.
func withRetry[T any](ctx context.Context, op, path string, config RetryConfig, fn func() (T, error)) (T, error) {
	start := time.Now()
	volume := config.resolveVolume(path)
	obs := observe()
	backoff := config.InitialBackoff

	var zero T
	var lastErr error

	done := func(err error) {
		elapsed := time.Since(start).Seconds()
		if obs != nil {
			obs.ObserveOperation(volume, op, elapsed, err)
			obs.ObserveRetryDuration(op, volume, elapsed)
		}
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		v, err := fn()
		if err == nil {
			if attempt > 0 {
				log.Info("NFS %s succeeded on retry %d for %s", op, attempt, path)
				if obs != nil {
					obs.ObserveRetrySuccess(op, volume)
				}
			}
			done(nil)
			return v, nil
		}

		lastErr = err

		if !isNFSStaleError(err) {
			done(err)
			return zero, err
		}

		if obs != nil {
			obs.ObserveStaleError(op, volume)
		}

		if attempt < config.MaxRetries {
			if obs != nil {
				obs.ObserveRetryAttempt(op, volume)
			}
			log.Debug("NFS %s stale file handle for %s, retrying in %v (attempt %d/%d)",
				op, path, backoff, attempt+1, config.MaxRetries)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				done(ctx.Err())
				return zero, fmt.Errorf("%s %s: %w", op, path, ctx.Err())
			case <-timer.C:
			}

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	log.Warn("NFS %s failed after %d retries for %s: %v", op, config.MaxRetries, path, lastErr)
	if obs != nil {
		obs.ObserveRetryFailure(op, volume)
	}
	done(lastErr)
	return zero, lastErr
}

// StatWithRetry performs os.Stat with retry logic for NFS stale file handle errors
func StatWithRetry(ctx context.Context, path string, config RetryConfig) (os.FileInfo, error) {
	return withRetry(ctx, "stat", path, config, func() (os.FileInfo, error) {
		return os.Stat(path)
	})
}

// OpenWithRetry performs os.Open with retry logic for NFS stale file handle errors
func OpenWithRetry(ctx context.Context, path string, config RetryConfig) (*os.File, error) {
	return withRetry(ctx, "open", path, config, func() (*os.File, error) {
		return os.Open(path)
	})
}

// CheckReadable verifies that path names an existing regular file the
// process can open for reading. The file is closed before returning.
func CheckReadable(ctx context.Context, path string, config RetryConfig) error {
	info, err := StatWithRetry(ctx, path, config)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	f, err := OpenWithRetry(ctx, path, config)
	if err != nil {
		return err
	}
	return f.Close()
}
