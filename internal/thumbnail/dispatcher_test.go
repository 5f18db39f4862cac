package thumbnail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/mainloop"
	"media-thumbnailer/internal/pipeline"
	"media-thumbnailer/internal/probe"
	"media-thumbnailer/internal/workers"
)

type fakeSource struct {
	name  string
	frame func(ctx context.Context, target decoder.Target) (*decoder.Frame, error)
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Frame(ctx context.Context, target decoder.Target) (*decoder.Frame, error) {
	return f.frame(ctx, target)
}

func solidSource(name string, w, h int) *fakeSource {
	return &fakeSource{name: name, frame: func(context.Context, decoder.Target) (*decoder.Frame, error) {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
			}
		}
		return decoder.NewFrame(img, name), nil
	}}
}

func failingSource(name string, err error) *fakeSource {
	return &fakeSource{name: name, frame: func(context.Context, decoder.Target) (*decoder.Frame, error) {
		return nil, err
	}}
}

type encoderFunc func(frame *decoder.Frame, width, height int) (string, error)

func (f encoderFunc) Encode(frame *decoder.Frame, width, height int) (string, error) {
	return f(frame, width, height)
}

type extractorFunc func(ctx context.Context, path string) (probe.Metadata, error)

func (f extractorFunc) Extract(ctx context.Context, path string) (probe.Metadata, error) {
	return f(ctx, path)
}

func noMetadata(context.Context, string) (probe.Metadata, error) {
	return probe.Metadata{}, nil
}

// mediaFile creates an empty regular file standing in for a video.
func mediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("Failed to create media file: %v", err)
	}
	return path
}

func newDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	if cfg.Encoder == nil {
		cfg.Encoder = pipeline.New("go", pipeline.DefaultQuality)
	}
	if cfg.Metadata == nil {
		cfg.Metadata = extractorFunc(noMetadata)
	}
	if cfg.Poster == nil {
		cfg.Poster = mainloop.Immediate{}
	}
	if cfg.Ledger == nil {
		cfg.Ledger = decoder.NewLedger()
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

type thumbOutcome struct {
	thumbnail string
	err       error
}

func generate(t *testing.T, d *Dispatcher, req ThumbnailRequest) (*Request, thumbOutcome) {
	t.Helper()
	ch := make(chan thumbOutcome, 1)
	r := d.GenerateThumbnail(req, func(s string, err error) {
		ch <- thumbOutcome{thumbnail: s, err: err}
	})
	select {
	case out := <-ch:
		return r, out
	case <-time.After(5 * time.Second):
		t.Fatal("no completion within 5s")
		return nil, thumbOutcome{}
	}
}

func wantKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error = %v (%T), want *Error", err, err)
	}
	if e.Kind != kind {
		t.Fatalf("Kind = %s, want %s (%v)", e.Kind, kind, err)
	}
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	src := solidSource("a", 4, 4)
	enc := pipeline.New("go", pipeline.DefaultQuality)
	md := extractorFunc(noMetadata)

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no frames", cfg: Config{Encoder: enc, Metadata: md}},
		{name: "no encoder", cfg: Config{Frames: src, Metadata: md}},
		{name: "no metadata", cfg: Config{Frames: src, Encoder: enc}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestGenerateThumbnail_Success(t *testing.T) {
	d := newDispatcher(t, Config{Frames: decoder.NewChain(solidSource("platform", 64, 48))})

	r, out := generate(t, d, ThumbnailRequest{URI: mediaFile(t), Width: 32, Height: 20})
	if out.err != nil {
		t.Fatalf("callback error = %v", out.err)
	}

	data, err := base64.StdEncoding.DecodeString(out.thumbnail)
	if err != nil {
		t.Fatalf("thumbnail is not standard base64: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 20 {
		t.Errorf("thumbnail size = %dx%d, want 32x20", cfg.Width, cfg.Height)
	}
	if strings.ContainsAny(out.thumbnail, "\r\n") {
		t.Error("thumbnail contains line breaks")
	}
	if r.State() != StateCompleted {
		t.Errorf("State() = %s, want completed", r.State())
	}
	if r.Op() != OpThumbnail || r.ID() == "" {
		t.Errorf("Op() = %s, ID() = %q", r.Op(), r.ID())
	}
}

func TestGenerateThumbnail_FileURI(t *testing.T) {
	d := newDispatcher(t, Config{Frames: solidSource("platform", 8, 8)})

	_, out := generate(t, d, ThumbnailRequest{URI: "file://" + mediaFile(t), Width: 4, Height: 4})
	if out.err != nil {
		t.Fatalf("callback error = %v", out.err)
	}
}

func TestGenerateThumbnail_FallsBackToSecondTier(t *testing.T) {
	var tier2 decoder.Target
	second := solidSource("libav", 16, 16)
	inner := second.frame
	second.frame = func(ctx context.Context, target decoder.Target) (*decoder.Frame, error) {
		tier2 = target
		return inner(ctx, target)
	}

	d := newDispatcher(t, Config{Frames: decoder.NewChain(
		failingSource("platform", decoder.ErrUnsupported),
		second,
	)})

	pos := 0.25
	_, out := generate(t, d, ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8, Position: &pos})
	if out.err != nil {
		t.Fatalf("callback error = %v", out.err)
	}
	if tier2.Position != 0.25 || tier2.Width != 8 || tier2.Height != 8 {
		t.Errorf("second tier target = %+v", tier2)
	}
}

func TestGenerateThumbnail_Failures(t *testing.T) {
	tests := []struct {
		name    string
		frames  decoder.Source
		encoder FrameEncoder
		want    Kind
	}{
		{
			name: "every tier unsupported",
			frames: decoder.NewChain(
				failingSource("platform", decoder.ErrUnsupported),
				failingSource("libav", decoder.ErrUnsupported),
			),
			want: KindDecodeUnsupported,
		},
		{
			name: "second tier decode error",
			frames: decoder.NewChain(
				failingSource("platform", decoder.ErrUnsupported),
				failingSource("libav", decoder.ErrDecode),
			),
			want: KindDecodeFailed,
		},
		{
			name:   "no tiers",
			frames: decoder.NewChain(),
			want:   KindDecodeUnsupported,
		},
		{
			name:   "zero sized frame",
			frames: solidSource("platform", 0, 0),
			want:   KindDecodeFailed,
		},
		{
			name:   "encoder fails",
			frames: solidSource("platform", 8, 8),
			encoder: encoderFunc(func(*decoder.Frame, int, int) (string, error) {
				return "", pipeline.ErrEncode
			}),
			want: KindEncodeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(t, Config{Frames: tt.frames, Encoder: tt.encoder})

			r, out := generate(t, d, ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8})
			e := wantKind(t, out.err, tt.want)
			if out.thumbnail != "" {
				t.Errorf("thumbnail = %q, want empty on failure", out.thumbnail)
			}
			if e.Code() != CodeThumbnailFailed {
				t.Errorf("Code() = %s, want %s", e.Code(), CodeThumbnailFailed)
			}
			if r.State() != StateFailed {
				t.Errorf("State() = %s, want failed", r.State())
			}
		})
	}
}

func TestGenerateThumbnail_Validation(t *testing.T) {
	file := mediaFile(t)
	dir := t.TempDir()

	tests := []struct {
		name  string
		req   ThumbnailRequest
		field string
	}{
		{name: "missing uri", req: ThumbnailRequest{Width: 8, Height: 8}, field: "uri"},
		{name: "zero width", req: ThumbnailRequest{URI: file, Width: 0, Height: 8}, field: "width"},
		{name: "negative height", req: ThumbnailRequest{URI: file, Width: 8, Height: -1}, field: "height"},
		{name: "relative path", req: ThumbnailRequest{URI: "clip.mp4", Width: 8, Height: 8}, field: "uri"},
		{name: "http uri", req: ThumbnailRequest{URI: "http://example.com/clip.mp4", Width: 8, Height: 8}, field: "uri"},
		{name: "missing file", req: ThumbnailRequest{URI: filepath.Join(dir, "gone.mp4"), Width: 8, Height: 8}, field: "uri"},
		{name: "directory", req: ThumbnailRequest{URI: dir, Width: 8, Height: 8}, field: "uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			src := &fakeSource{name: "platform", frame: func(context.Context, decoder.Target) (*decoder.Frame, error) {
				t.Error("frame source called for an invalid request")
				return nil, decoder.ErrUnsupported
			}}
			d := newDispatcher(t, Config{Frames: src})

			var got error
			r := d.GenerateThumbnail(tt.req, func(_ string, err error) {
				called = true
				got = err
			})

			if !called {
				t.Fatal("callback not invoked before GenerateThumbnail returned")
			}
			e := wantKind(t, got, KindInvalidArguments)
			if e.Field != tt.field {
				t.Errorf("Field = %q, want %q", e.Field, tt.field)
			}
			if e.Code() != CodeInvalidArguments {
				t.Errorf("Code() = %s, want %s", e.Code(), CodeInvalidArguments)
			}
			if r.State() != StateFailed {
				t.Errorf("State() = %s, want failed", r.State())
			}
			if d.InFlight() != 0 {
				t.Errorf("InFlight() = %d, want 0", d.InFlight())
			}
		})
	}
}

func TestGenerateThumbnail_PositionIsClamped(t *testing.T) {
	tests := []struct {
		name string
		pos  *float64
		want float64
	}{
		{name: "default", pos: nil, want: DefaultPosition},
		{name: "below range", pos: ptr(-0.5), want: 0},
		{name: "above range", pos: ptr(1.5), want: 1},
		{name: "nan", pos: ptr(math.NaN()), want: DefaultPosition},
		{name: "in range", pos: ptr(0.75), want: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen float64
			src := solidSource("platform", 4, 4)
			inner := src.frame
			src.frame = func(ctx context.Context, target decoder.Target) (*decoder.Frame, error) {
				seen = target.Position
				return inner(ctx, target)
			}
			d := newDispatcher(t, Config{Frames: src})

			_, out := generate(t, d, ThumbnailRequest{URI: mediaFile(t), Width: 4, Height: 4, Position: tt.pos})
			if out.err != nil {
				t.Fatalf("callback error = %v", out.err)
			}
			if seen != tt.want {
				t.Errorf("position = %v, want %v", seen, tt.want)
			}
		})
	}
}

func ptr(f float64) *float64 { return &f }

// blockingSource holds a ledger handle until ctx ends, the way a real tier
// holds native resources while decoding.
func blockingSource(ledger *decoder.Ledger, started chan<- struct{}) *fakeSource {
	return &fakeSource{name: "libav", frame: func(ctx context.Context, _ decoder.Target) (*decoder.Frame, error) {
		h := ledger.Track("fake_context", func() {})
		defer h.Release()
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func TestGenerateThumbnail_Timeout(t *testing.T) {
	ledger := decoder.NewLedger()
	d := newDispatcher(t, Config{
		Frames:   blockingSource(ledger, nil),
		Ledger:   ledger,
		Deadline: 50 * time.Millisecond,
		Grace:    time.Second,
	})

	start := time.Now()
	r, out := generate(t, d, ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8})
	e := wantKind(t, out.err, KindTimeout)

	if !strings.HasPrefix(e.Message(), "Timeout: ") {
		t.Errorf("Message() = %q", e.Message())
	}
	if e.Code() != CodeThumbnailFailed {
		t.Errorf("Code() = %s, want %s", e.Code(), CodeThumbnailFailed)
	}
	if r.State() != StateTimedOut {
		t.Errorf("State() = %s, want timed_out", r.State())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if open := ledger.Open(); open != 0 {
		t.Errorf("ledger Open() = %d after completion, want 0", open)
	}
}

func TestGenerateThumbnail_PerRequestDeadline(t *testing.T) {
	d := newDispatcher(t, Config{
		Frames:   blockingSource(decoder.NewLedger(), nil),
		Deadline: time.Hour,
	})

	_, out := generate(t, d, ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8, Deadline: 20 * time.Millisecond})
	wantKind(t, out.err, KindTimeout)
}

func TestRequest_Cancel(t *testing.T) {
	ledger := decoder.NewLedger()
	started := make(chan struct{})
	d := newDispatcher(t, Config{Frames: blockingSource(ledger, started), Ledger: ledger})

	ch := make(chan error, 1)
	r := d.GenerateThumbnail(ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8}, func(_ string, err error) {
		ch <- err
	})

	<-started
	if r.State() != StateRunning {
		t.Errorf("State() = %s while decoding, want running", r.State())
	}
	r.Cancel()

	var err error
	select {
	case err = <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no completion after Cancel")
	}

	e := wantKind(t, err, KindTimeout)
	if !errors.Is(err, ErrCanceled) {
		t.Errorf("error = %v, want ErrCanceled", err)
	}
	if e.Message() != "Timeout: request canceled" {
		t.Errorf("Message() = %q", e.Message())
	}
	if ledger.Open() != 0 {
		t.Errorf("ledger Open() = %d, want 0", ledger.Open())
	}

	// Cancelling a finished request changes nothing.
	r.Cancel()
	if r.State() != StateTimedOut {
		t.Errorf("State() = %s, want timed_out", r.State())
	}
}

func TestGenerateThumbnail_AbandonsStuckWorker(t *testing.T) {
	unblock := make(chan struct{})
	stuck := &fakeSource{name: "libav", frame: func(context.Context, decoder.Target) (*decoder.Frame, error) {
		<-unblock
		return nil, decoder.ErrDecode
	}}
	d := newDispatcher(t, Config{
		Frames:   stuck,
		Deadline: 20 * time.Millisecond,
		Grace:    20 * time.Millisecond,
	})

	_, out := generate(t, d, ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8})
	wantKind(t, out.err, KindTimeout)

	if got := d.Unwinding(); got != 1 {
		t.Errorf("Unwinding() = %d, want 1", got)
	}
	if got := d.GetStats().Unwinding; got != 1 {
		t.Errorf("GetStats().Unwinding = %d, want 1", got)
	}

	close(unblock)
	waitFor(t, "abandoned worker to unwind", func() bool { return d.Unwinding() == 0 })
}

func TestGenerateThumbnail_PanicBecomesDecodeFailed(t *testing.T) {
	src := &fakeSource{name: "platform", frame: func(context.Context, decoder.Target) (*decoder.Frame, error) {
		panic("codec exploded")
	}}
	d := newDispatcher(t, Config{Frames: src})

	_, out := generate(t, d, ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8})
	e := wantKind(t, out.err, KindDecodeFailed)
	if !strings.Contains(e.Message(), "codec exploded") {
		t.Errorf("Message() = %q, want panic value", e.Message())
	}
}

func TestGenerateThumbnail_ExactlyOneCallback(t *testing.T) {
	loop := mainloop.NewLoop()
	ctx, stop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	d := newDispatcher(t, Config{
		Frames: decoder.NewChain(
			failingSource("platform", decoder.ErrUnsupported),
			solidSource("libav", 16, 16),
		),
		Poster: loop,
		Pool:   workers.NewPool(2),
	})

	file := mediaFile(t)
	const n = 24

	var mu sync.Mutex
	calls := make([]int, n)
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		req := ThumbnailRequest{URI: file, Width: 8, Height: 8}
		if i%4 == 0 {
			req.Width = 0
		}
		d.GenerateThumbnail(req, func(_ string, _ error) {
			mu.Lock()
			calls[i]++
			mu.Unlock()
			wg.Done()
		})
	}

	wg.Wait()
	// Give any duplicate delivery a chance to show up.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	for i, c := range calls {
		if c != 1 {
			t.Errorf("request %d got %d callbacks, want 1", i, c)
		}
	}
	mu.Unlock()

	stop()
	<-loopDone
}

func TestExtractMetadata(t *testing.T) {
	duration := int64(12500)
	width, height, rotation := 1920, 1080, 90

	tests := []struct {
		name      string
		extract   extractorFunc
		wantKind  Kind
		wantValue map[string]any
	}{
		{
			name: "success",
			extract: func(context.Context, string) (probe.Metadata, error) {
				return probe.Metadata{Duration: &duration, Width: &width, Height: &height, Rotation: &rotation}, nil
			},
			wantValue: map[string]any{"duration": duration, "width": width, "height": height, "rotation": rotation},
		},
		{
			name:      "unknown duration",
			extract:   noMetadata,
			wantValue: map[string]any{"duration": nil},
		},
		{
			name: "probe fails",
			extract: func(context.Context, string) (probe.Metadata, error) {
				return probe.Metadata{}, probe.ErrProbe
			},
			wantKind: KindMetadataFailed,
		},
		{
			name: "extractor panics",
			extract: func(context.Context, string) (probe.Metadata, error) {
				panic("bad atom")
			},
			wantKind: KindMetadataFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(t, Config{Frames: solidSource("platform", 4, 4), Metadata: tt.extract})

			type outcome struct {
				md  map[string]any
				err error
			}
			ch := make(chan outcome, 1)
			r := d.ExtractMetadata(MetadataRequest{URI: mediaFile(t)}, func(md map[string]any, err error) {
				ch <- outcome{md, err}
			})
			out := <-ch

			if tt.wantKind != "" {
				e := wantKind(t, out.err, tt.wantKind)
				if e.Code() != CodeMetadataFailed {
					t.Errorf("Code() = %s, want %s", e.Code(), CodeMetadataFailed)
				}
				if out.md != nil {
					t.Errorf("metadata = %v, want nil on failure", out.md)
				}
				return
			}

			if out.err != nil {
				t.Fatalf("callback error = %v", out.err)
			}
			if r.State() != StateCompleted {
				t.Errorf("State() = %s, want completed", r.State())
			}
			if len(out.md) != len(tt.wantValue) {
				t.Errorf("metadata = %v, want %v", out.md, tt.wantValue)
			}
			for k, v := range tt.wantValue {
				got, ok := out.md[k]
				if !ok || got != v {
					t.Errorf("metadata[%q] = %v (present %v), want %v", k, got, ok, v)
				}
			}
		})
	}
}

func TestExtractMetadata_MissingURI(t *testing.T) {
	d := newDispatcher(t, Config{Frames: solidSource("platform", 4, 4)})

	var got error
	r := d.ExtractMetadata(MetadataRequest{}, func(_ map[string]any, err error) { got = err })

	e := wantKind(t, got, KindInvalidArguments)
	if e.Field != "uri" || e.Op != OpMetadata {
		t.Errorf("error = %+v", e)
	}
	if r.State() != StateFailed {
		t.Errorf("State() = %s, want failed", r.State())
	}
}

func TestDispatcher_Close(t *testing.T) {
	ledger := decoder.NewLedger()
	started := make(chan struct{})
	d := newDispatcher(t, Config{Frames: blockingSource(ledger, started), Ledger: ledger})

	ch := make(chan error, 1)
	d.GenerateThumbnail(ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8}, func(_ string, err error) {
		ch <- err
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err := <-ch
	wantKind(t, err, KindTimeout)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
	if d.InFlight() != 0 {
		t.Errorf("InFlight() = %d after Close, want 0", d.InFlight())
	}

	var after error
	r := d.GenerateThumbnail(ThumbnailRequest{URI: mediaFile(t), Width: 8, Height: 8}, func(_ string, err error) {
		after = err
	})
	if !errors.Is(after, ErrClosed) {
		t.Errorf("request after Close error = %v, want ErrClosed", after)
	}
	if r.State() != StateTimedOut {
		t.Errorf("State() = %s, want timed_out", r.State())
	}

	if err := d.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestDispatcher_GetStats(t *testing.T) {
	ledger := decoder.NewLedger()
	h := ledger.Track("fake_context", func() {})
	defer h.Release()

	d := newDispatcher(t, Config{Frames: solidSource("platform", 4, 4), Ledger: ledger})
	stats := d.GetStats()
	if stats.OpenHandles != 1 || stats.InFlight != 0 || stats.Unwinding != 0 {
		t.Errorf("GetStats() = %+v", stats)
	}
}

func TestClampPosition(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want float64
	}{
		{name: "nil", in: nil, want: 0.4},
		{name: "nan", in: ptr(math.NaN()), want: 0.4},
		{name: "zero", in: ptr(0), want: 0},
		{name: "one", in: ptr(1), want: 1},
		{name: "negative infinity", in: ptr(math.Inf(-1)), want: 0},
		{name: "positive infinity", in: ptr(math.Inf(1)), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampPosition(tt.in); got != tt.want {
				t.Errorf("ClampPosition() = %v, want %v", got, tt.want)
			}
		})
	}
}
