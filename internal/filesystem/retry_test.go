package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	attempts int
	success  int
	failures int
	stale    int
	ops      []string
}

func (r *recordingObserver) ObserveOperation(_, operation string, _ float64, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, operation)
}

func (r *recordingObserver) ObserveRetryAttempt(_, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
}

func (r *recordingObserver) ObserveRetrySuccess(_, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success++
}

func (r *recordingObserver) ObserveRetryFailure(_, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *recordingObserver) ObserveRetryDuration(_, _ string, _ float64) {}

func (r *recordingObserver) ObserveStaleError(_, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func withObserver(t *testing.T) *recordingObserver {
	t.Helper()
	original := defaultObserver
	t.Cleanup(func() { defaultObserver = original })

	obs := &recordingObserver{}
	SetObserver(obs)
	return obs
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.InitialBackoff != 50*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 50ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 500*time.Millisecond {
		t.Errorf("MaxBackoff = %v, want 500ms", config.MaxBackoff)
	}
	if config.VolumeResolver != nil {
		t.Error("VolumeResolver should be nil by default")
	}
}

func TestIsNFSStaleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "ESTALE error", err: syscall.ESTALE, want: true},
		{name: "wrapped ESTALE", err: &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}, want: true},
		{name: "ENOENT error", err: syscall.ENOENT, want: false},
		{name: "generic error", err: os.ErrNotExist, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNFSStaleError(tt.err); got != tt.want {
				t.Errorf("isNFSStaleError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVolumeResolver_Resolve(t *testing.T) {
	vr := NewVolumeResolver(map[string]string{
		"media":   "/media",
		"clips":   "/media/clips",
		"scratch": "/tmp",
	})

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "media root", path: "/media", want: "media"},
		{name: "media file", path: "/media/movies/a.mkv", want: "media"},
		{name: "longest prefix wins", path: "/media/clips/b.mp4", want: "clips"},
		{name: "tmp file", path: "/tmp/upload.mp4", want: "scratch"},
		{name: "unknown path", path: "/etc/hosts", want: "unknown"},
		{name: "root path", path: "/", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vr.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestVolumeResolver_Resolve_NilResolver(t *testing.T) {
	var vr *VolumeResolver
	if got := vr.Resolve("/media/test.mp4"); got != "unknown" {
		t.Errorf("nil resolver Resolve() = %q, want %q", got, "unknown")
	}
}

func TestRetryConfig_ResolveVolume(t *testing.T) {
	original := defaultResolver
	defer func() { defaultResolver = original }()

	SetDefaultVolumeResolver(NewVolumeResolver(map[string]string{"default-media": "/media"}))

	config := fastConfig()
	if got := config.resolveVolume("/media/a.mp4"); got != "default-media" {
		t.Errorf("resolveVolume() = %q, want default-media", got)
	}

	config.VolumeResolver = NewVolumeResolver(map[string]string{"override-media": "/media"})
	if got := config.resolveVolume("/media/a.mp4"); got != "override-media" {
		t.Errorf("resolveVolume() = %q, want override-media", got)
	}
}

func TestWithRetry_RecoversFromStaleHandle(t *testing.T) {
	obs := withObserver(t)

	calls := 0
	got, err := withRetry(context.Background(), "stat", "/media/a.mp4", fastConfig(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, syscall.ESTALE
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if got != 42 {
		t.Errorf("withRetry() = %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
	if obs.stale != 2 || obs.attempts != 2 || obs.success != 1 || obs.failures != 0 {
		t.Errorf("observer = stale %d attempts %d success %d failures %d, want 2/2/1/0",
			obs.stale, obs.attempts, obs.success, obs.failures)
	}
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	obs := withObserver(t)

	calls := 0
	_, err := withRetry(context.Background(), "open", "/media/a.mp4", fastConfig(), func() (struct{}, error) {
		calls++
		return struct{}{}, syscall.ESTALE
	})

	if !errors.Is(err, syscall.ESTALE) {
		t.Errorf("withRetry() error = %v, want ESTALE", err)
	}
	if calls != 4 {
		t.Errorf("fn called %d times, want 4", calls)
	}
	if obs.failures != 1 {
		t.Errorf("failures = %d, want 1", obs.failures)
	}
}

func TestWithRetry_NonStaleFailsFast(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), "stat", "/x", fastConfig(), func() (int, error) {
		calls++
		return 0, os.ErrPermission
	})

	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("withRetry() error = %v, want ErrPermission", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestWithRetry_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := RetryConfig{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	start := time.Now()
	_, err := withRetry(ctx, "stat", "/x", config, func() (int, error) {
		return 0, syscall.ESTALE
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("withRetry() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("withRetry slept through a cancelled context")
	}
}

func TestStatWithRetry(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "clip.mp4")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	info, err := StatWithRetry(context.Background(), testFile, fastConfig())
	if err != nil {
		t.Fatalf("StatWithRetry() error = %v", err)
	}
	if info.Size() != 4 {
		t.Errorf("Size() = %d, want 4", info.Size())
	}

	_, err = StatWithRetry(context.Background(), filepath.Join(tmpDir, "missing.mp4"), fastConfig())
	if !os.IsNotExist(err) {
		t.Errorf("StatWithRetry() error = %v, want not-exist", err)
	}
}

func TestOpenWithRetry(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "clip.mp4")
	if err := os.WriteFile(testFile, []byte("content"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	f, err := OpenWithRetry(context.Background(), testFile, fastConfig())
	if err != nil {
		t.Fatalf("OpenWithRetry() error = %v", err)
	}
	f.Close()

	_, err = OpenWithRetry(context.Background(), filepath.Join(tmpDir, "missing.mp4"), fastConfig())
	if !os.IsNotExist(err) {
		t.Errorf("OpenWithRetry() error = %v, want not-exist", err)
	}
}

func TestCheckReadable(t *testing.T) {
	tmpDir := t.TempDir()
	regular := filepath.Join(tmpDir, "clip.mp4")
	if err := os.WriteFile(regular, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "regular file", path: regular, wantErr: nil},
		{name: "directory", path: tmpDir, wantErr: ErrNotRegular},
		{name: "missing", path: filepath.Join(tmpDir, "missing.mp4"), wantErr: os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckReadable(context.Background(), tt.path, fastConfig())
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("CheckReadable() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckReadable() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func BenchmarkStatWithRetry_Success(b *testing.B) {
	tmpDir := b.TempDir()
	testFile := filepath.Join(tmpDir, "clip.mp4")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		b.Fatalf("Failed to create test file: %v", err)
	}

	ctx := context.Background()
	config := DefaultRetryConfig()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = StatWithRetry(ctx, testFile, config)
	}
}

func BenchmarkNativeOsStat(b *testing.B) {
	tmpDir := b.TempDir()
	testFile := filepath.Join(tmpDir, "clip.mp4")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		b.Fatalf("Failed to create test file: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = os.Stat(testFile)
	}
}
