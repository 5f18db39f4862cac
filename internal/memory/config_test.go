package memory

import (
	"runtime/debug"
	"testing"
)

func TestConfigure(t *testing.T) {
	original := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(original) })
	t.Setenv("GOMEMLIMIT", "")

	tests := []struct {
		name       string
		limit      int64
		ratio      float64
		wantSource string
		wantLimit  int64
		wantRatio  float64
	}{
		{name: "no limit", limit: 0, ratio: 0, wantSource: "none"},
		{name: "default ratio", limit: 1000, ratio: 0, wantSource: "MEMORY_LIMIT", wantLimit: 850, wantRatio: 0.85},
		{name: "custom ratio", limit: 1000, ratio: 0.5, wantSource: "MEMORY_LIMIT", wantLimit: 500, wantRatio: 0.5},
		{name: "ratio above one falls back", limit: 1000, ratio: 1.5, wantSource: "MEMORY_LIMIT", wantLimit: 850, wantRatio: 0.85},
		{name: "negative ratio falls back", limit: 1000, ratio: -0.2, wantSource: "MEMORY_LIMIT", wantLimit: 850, wantRatio: 0.85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Configure(tt.limit, tt.ratio)

			if got.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", got.Source, tt.wantSource)
			}
			if got.GoMemLimit != tt.wantLimit {
				t.Errorf("GoMemLimit = %d, want %d", got.GoMemLimit, tt.wantLimit)
			}
			if got.Ratio != tt.wantRatio {
				t.Errorf("Ratio = %v, want %v", got.Ratio, tt.wantRatio)
			}
			if tt.wantLimit > 0 && debug.SetMemoryLimit(-1) != tt.wantLimit {
				t.Errorf("runtime limit = %d, want %d", debug.SetMemoryLimit(-1), tt.wantLimit)
			}
		})
	}
}

func TestConfigureGOMEMLIMITWins(t *testing.T) {
	original := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(original) })
	t.Setenv("GOMEMLIMIT", "512MiB")

	got := Configure(1<<30, 0.5)

	if got.Source != "GOMEMLIMIT" {
		t.Errorf("Source = %q, want GOMEMLIMIT", got.Source)
	}
	if debug.SetMemoryLimit(-1) != original {
		t.Error("Configure changed the runtime limit although GOMEMLIMIT was set")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{1 << 30, "1.0 GiB"},
		{5 << 40, "5.0 TiB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatBytes(tt.in); got != tt.want {
				t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
