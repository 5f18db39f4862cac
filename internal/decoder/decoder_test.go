package decoder

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"
)

type fakeSource struct {
	name  string
	frame func() *Frame
	err   error
	calls int
	saw   *StreamInfo
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Frame(ctx context.Context, target Target) (*Frame, error) {
	f.calls++
	f.saw = target.Info
	if f.err != nil {
		return nil, f.err
	}
	if f.frame == nil {
		return nil, nil
	}
	return f.frame(), nil
}

type fakeInspector struct {
	info *StreamInfo
	err  error
}

func (f fakeInspector) Inspect(context.Context, string) (*StreamInfo, error) {
	return f.info, f.err
}

func solid(w, h int) func() *Frame {
	return func() *Frame {
		return NewFrame(image.NewRGBA(image.Rect(0, 0, w, h)), "fake")
	}
}

func TestFrame_Usable(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  bool
	}{
		{name: "nil frame", frame: nil, want: false},
		{name: "nil image", frame: &Frame{Width: 10, Height: 10}, want: false},
		{name: "zero width", frame: NewFrame(image.NewRGBA(image.Rect(0, 0, 0, 10)), "x"), want: false},
		{name: "zero height", frame: NewFrame(image.NewRGBA(image.Rect(0, 0, 10, 0)), "x"), want: false},
		{name: "valid", frame: NewFrame(image.NewRGBA(image.Rect(0, 0, 4, 3)), "x"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.Usable(); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrame_ReleaseIsIdempotent(t *testing.T) {
	f := NewFrame(image.NewRGBA(image.Rect(0, 0, 2, 2)), "x")
	f.Release()
	f.Release()
	if f.Image != nil {
		t.Error("Release() left the image in place")
	}

	var nilFrame *Frame
	nilFrame.Release()
}

func TestSeekTime(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		position float64
		want     time.Duration
	}{
		{name: "midpoint", duration: 10 * time.Second, position: 0.5, want: 5 * time.Second},
		{name: "start", duration: 10 * time.Second, position: 0, want: 0},
		{name: "end", duration: 10 * time.Second, position: 1, want: 10 * time.Second},
		{name: "clamped high", duration: 10 * time.Second, position: 3, want: 10 * time.Second},
		{name: "clamped low", duration: 10 * time.Second, position: -1, want: 0},
		{name: "zero duration", duration: 0, position: 0.7, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SeekTime(tt.duration, tt.position); got != tt.want {
				t.Errorf("SeekTime(%v, %v) = %v, want %v", tt.duration, tt.position, got, tt.want)
			}
		})
	}
}

func TestChain_FirstUsableFrameWins(t *testing.T) {
	first := &fakeSource{name: "first", frame: solid(8, 6)}
	second := &fakeSource{name: "second", frame: solid(4, 4)}

	frame, err := NewChain(first, second).Frame(context.Background(), Target{Path: "/media/a.mp4"})
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	defer frame.Release()

	if frame.Width != 8 || frame.Height != 6 {
		t.Errorf("frame = %dx%d, want 8x6", frame.Width, frame.Height)
	}
	if second.calls != 0 {
		t.Errorf("second source called %d times, want 0", second.calls)
	}
}

func TestChain_FallsBack(t *testing.T) {
	tests := []struct {
		name  string
		first *fakeSource
	}{
		{name: "first unsupported", first: &fakeSource{name: "first", err: ErrUnsupported}},
		{name: "first errors", first: &fakeSource{name: "first", err: errors.New("boom")}},
		{name: "first returns nil", first: &fakeSource{name: "first"}},
		{name: "first returns zero size", first: &fakeSource{name: "first", frame: solid(0, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			second := &fakeSource{name: "second", frame: solid(4, 4)}

			frame, err := NewChain(tt.first, second).Frame(context.Background(), Target{Path: "/media/a.mkv"})
			if err != nil {
				t.Fatalf("Frame() error = %v", err)
			}
			defer frame.Release()

			if second.calls != 1 {
				t.Errorf("second source called %d times, want 1", second.calls)
			}
			if frame.Width != 4 {
				t.Errorf("frame width = %d, want 4", frame.Width)
			}
		})
	}
}

func TestChain_JoinsErrors(t *testing.T) {
	tests := []struct {
		name            string
		errs            []error
		wantUnsupported bool
		wantDecode      bool
	}{
		{
			name:            "all unsupported",
			errs:            []error{ErrUnsupported, ErrUnsupported},
			wantUnsupported: true,
		},
		{
			name:            "unsupported then decode failure",
			errs:            []error{ErrUnsupported, ErrDecode},
			wantUnsupported: true,
			wantDecode:      true,
		},
		{
			name:       "decode failure only",
			errs:       []error{ErrDecode},
			wantDecode: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sources []Source
			for i, err := range tt.errs {
				sources = append(sources, &fakeSource{name: string(rune('a' + i)), err: err})
			}

			_, err := NewChain(sources...).Frame(context.Background(), Target{Path: "/x"})
			if err == nil {
				t.Fatal("Frame() error = nil, want error")
			}
			if got := errors.Is(err, ErrUnsupported); got != tt.wantUnsupported {
				t.Errorf("errors.Is(err, ErrUnsupported) = %v, want %v (err: %v)", got, tt.wantUnsupported, err)
			}
			if got := errors.Is(err, ErrDecode); got != tt.wantDecode {
				t.Errorf("errors.Is(err, ErrDecode) = %v, want %v (err: %v)", got, tt.wantDecode, err)
			}
		})
	}
}

func TestChain_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{name: "only", frame: solid(2, 2)}
	_, err := NewChain(src).Frame(ctx, Target{Path: "/x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Frame() error = %v, want context.Canceled", err)
	}
	if src.calls != 0 {
		t.Errorf("source called %d times after cancel, want 0", src.calls)
	}
}

func TestChain_Empty(t *testing.T) {
	_, err := NewChain().Frame(context.Background(), Target{Path: "/x"})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Frame() error = %v, want ErrUnsupported", err)
	}
}

func TestChain_Inspector(t *testing.T) {
	info := &StreamInfo{Codec: "h264", Rotation: 90}

	t.Run("info handed to sources", func(t *testing.T) {
		src := &fakeSource{name: "s", frame: solid(2, 2)}
		frame, err := NewChain(src).WithInspector(fakeInspector{info: info}).Frame(context.Background(), Target{Path: "/x"})
		if err != nil {
			t.Fatalf("Frame() error = %v", err)
		}
		frame.Release()
		if src.saw != info {
			t.Errorf("source saw info %v, want %v", src.saw, info)
		}
	})

	t.Run("probe failure is not fatal", func(t *testing.T) {
		src := &fakeSource{name: "s", frame: solid(2, 2)}
		frame, err := NewChain(src).WithInspector(fakeInspector{err: errors.New("no ffprobe")}).Frame(context.Background(), Target{Path: "/x"})
		if err != nil {
			t.Fatalf("Frame() error = %v", err)
		}
		frame.Release()
		if src.saw != nil {
			t.Errorf("source saw info %v, want nil", src.saw)
		}
	})
}

func TestChain_Names(t *testing.T) {
	c := NewChain(&fakeSource{name: "platform"}, &fakeSource{name: "libav"})
	got := c.Names()
	if len(got) != 2 || got[0] != "platform" || got[1] != "libav" {
		t.Errorf("Names() = %v, want [platform libav]", got)
	}
}

func TestBuild(t *testing.T) {
	Register("test-ok", func(Options) (Source, error) {
		return &fakeSource{name: "test-ok"}, nil
	})
	Register("test-broken", func(Options) (Source, error) {
		return nil, errors.New("library missing")
	})

	chain, unavailable := Build([]string{"test-ok", "test-broken", "test-unknown"}, Options{})

	if names := chain.Names(); len(names) != 1 || names[0] != "test-ok" {
		t.Errorf("Names() = %v, want [test-ok]", names)
	}
	if _, ok := unavailable["test-broken"]; !ok {
		t.Error("test-broken should be reported unavailable")
	}
	if _, ok := unavailable["test-unknown"]; !ok {
		t.Error("test-unknown should be reported unavailable")
	}

	found := false
	for _, name := range Registered() {
		if name == "test-ok" {
			found = true
		}
	}
	if !found {
		t.Errorf("Registered() = %v, missing test-ok", Registered())
	}
}

func TestPixelFormatOf(t *testing.T) {
	tests := []struct {
		img  image.Image
		want string
	}{
		{img: image.NewRGBA(image.Rect(0, 0, 1, 1)), want: "rgba"},
		{img: image.NewNRGBA(image.Rect(0, 0, 1, 1)), want: "nrgba"},
		{img: image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio420), want: "ycbcr"},
		{img: image.NewGray(image.Rect(0, 0, 1, 1)), want: "gray"},
		{img: nil, want: ""},
	}

	for _, tt := range tests {
		if got := PixelFormatOf(tt.img); got != tt.want {
			t.Errorf("PixelFormatOf(%T) = %q, want %q", tt.img, got, tt.want)
		}
	}
}
