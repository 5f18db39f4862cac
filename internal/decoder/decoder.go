package decoder

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

var (
	// ErrUnsupported means a source cannot handle the container or codec.
	// The chain moves on to the next source.
	ErrUnsupported = errors.New("unsupported media")

	// ErrDecode means a source recognised the media but could not produce
	// a frame from it, for example because the file is truncated.
	ErrDecode = errors.New("decode failed")
)

// Frame is one decoded video frame. It is owned by the worker that asked for
// it and must be released before that worker returns.
type Frame struct {
	Image  image.Image
	Width  int
	Height int
	// Format is the pixel format the decoder produced before conversion,
	// e.g. "yuv420p". Informational.
	Format string
	// Rotation is the stream's intrinsic clockwise rotation in degrees,
	// one of 0, 90, 180, 270. The pipeline applies it.
	Rotation int
	// Source is the name of the tier that produced the frame.
	Source string

	once sync.Once
}

// NewFrame wraps img, taking the dimensions and format from it.
func NewFrame(img image.Image, source string) *Frame {
	f := &Frame{Image: img, Source: source, Format: PixelFormatOf(img)}
	if img != nil {
		b := img.Bounds()
		f.Width, f.Height = b.Dx(), b.Dy()
	}
	return f
}

// PixelFormatOf names the in-memory layout of img.
func PixelFormatOf(img image.Image) string {
	switch img.(type) {
	case *image.RGBA:
		return "rgba"
	case *image.NRGBA:
		return "nrgba"
	case *image.RGBA64:
		return "rgba64"
	case *image.NRGBA64:
		return "nrgba64"
	case *image.YCbCr:
		return "ycbcr"
	case *image.Gray:
		return "gray"
	case *image.Gray16:
		return "gray16"
	case *image.Paletted:
		return "pal8"
	case nil:
		return ""
	default:
		return "unknown"
	}
}

// Usable reports whether the frame has pixels and positive dimensions.
func (f *Frame) Usable() bool {
	return f != nil && f.Image != nil && f.Width > 0 && f.Height > 0
}

// Release drops the pixel buffer. Safe to call more than once and on nil.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		f.Image = nil
	})
}

// StreamInfo is what a container probe tells the sources about a file
// before they open it.
type StreamInfo struct {
	// Containers lists the demuxer names the file matched, e.g.
	// ["mov", "mp4", "m4a", "3gp", "3g2", "mj2"].
	Containers []string
	// Codec is the video codec name, e.g. "h264".
	Codec    string
	Width    int
	Height   int
	Rotation int
	// Duration is only meaningful when DurationKnown is set.
	Duration      time.Duration
	DurationKnown bool
}

// Inspector probes a file for stream information.
type Inspector interface {
	Inspect(ctx context.Context, path string) (*StreamInfo, error)
}

// Target describes the frame a request wants.
type Target struct {
	Path string
	// Position is the normalised offset in [0,1].
	Position float64
	// Width and Height are the requested output size. Sources may use
	// them as a hint for decode-time scaling.
	Width  int
	Height int
	// Info is filled in by the chain when it has an Inspector. Sources
	// must cope with it being nil.
	Info *StreamInfo
}

// Source decodes a single frame from a media file. Implementations must
// check ctx between blocking steps and release every native handle they
// acquire before returning, whatever the outcome.
type Source interface {
	Name() string
	Frame(ctx context.Context, target Target) (*Frame, error)
}

// SeekTime maps a normalised position onto a known duration.
func SeekTime(duration time.Duration, position float64) time.Duration {
	if duration <= 0 {
		return 0
	}
	if position < 0 {
		position = 0
	}
	if position > 1 {
		position = 1
	}
	return time.Duration(float64(duration) * position)
}
