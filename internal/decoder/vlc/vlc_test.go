//go:build vlc

package vlc

import (
	"slices"
	"testing"
)

func TestStateString(t *testing.T) {
	want := []string{"parse", "play", "seek", "settle", "capture", "done"}
	for i, name := range want {
		if got := state(i).String(); got != name {
			t.Errorf("state(%d).String() = %q, want %q", i, got, name)
		}
	}
	if got := state(42).String(); got != "unknown" {
		t.Errorf("state(42).String() = %q, want unknown", got)
	}
}

func TestInstanceArgs(t *testing.T) {
	for _, arg := range []string{"--no-audio", "--no-spu", "--avcodec-threads=1", "--deinterlace=0", "--no-osd"} {
		if !slices.Contains(instanceArgs, arg) {
			t.Errorf("instanceArgs missing %s", arg)
		}
	}
}
