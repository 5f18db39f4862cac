package pipeline

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/metrics"
)

// JPEG quality band.
const (
	MinQuality     = 80
	MaxQuality     = 85
	DefaultQuality = 82
)

var (
	// ErrInvalidFrame means the decoded frame has no pixels or a zero
	// dimension. It points at the decoder, not the encoder.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrEncode means scaling or JPEG encoding failed.
	ErrEncode = errors.New("encode failed")
)

var log = logging.Tag("Pipeline")

// ClampQuality forces q into [MinQuality, MaxQuality].
func ClampQuality(q int) int {
	return min(max(q, MinQuality), MaxQuality)
}

// Backend turns an upright-able frame into JPEG bytes of exactly
// width x height.
type Backend interface {
	Name() string
	JPEG(frame *decoder.Frame, width, height, quality int) ([]byte, error)
}

// Pipeline encodes frames into base64 JPEG thumbnails.
type Pipeline struct {
	backend  Backend
	fallback Backend
	quality  int
}

// New returns a pipeline using the named backend ("go" or "vips"). The vips
// backend falls back to the Go backend per frame when libvips fails, and
// entirely when libvips is not initialized.
func New(backend string, quality int) *Pipeline {
	p := &Pipeline{
		backend: GoBackend{},
		quality: ClampQuality(quality),
	}
	if backend == VipsName {
		if IsVipsAvailable() {
			p.backend = VipsBackend{}
			p.fallback = GoBackend{}
		} else {
			log.Warn("libvips not available, using the Go image backend")
		}
	}
	return p
}

// Backend returns the name of the primary backend.
func (p *Pipeline) Backend() string {
	return p.backend.Name()
}

// Quality returns the JPEG quality in use.
func (p *Pipeline) Quality() int {
	return p.quality
}

// Encode rotates the frame upright, stretches it to width x height and
// returns the JPEG as standard base64 without line breaks.
func (p *Pipeline) Encode(frame *decoder.Frame, width, height int) (string, error) {
	if !frame.Usable() {
		return "", fmt.Errorf("%w: frame missing or empty", ErrInvalidFrame)
	}
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("%w: target size %dx%d", ErrEncode, width, height)
	}

	start := time.Now()
	backend := p.backend
	data, err := backend.JPEG(frame, width, height, p.quality)
	if err != nil && p.fallback != nil && !errors.Is(err, ErrInvalidFrame) {
		log.Debug("%s backend failed, retrying with %s: %v", backend.Name(), p.fallback.Name(), err)
		backend = p.fallback
		data, err = backend.JPEG(frame, width, height, p.quality)
	}
	metrics.PipelineDuration.WithLabelValues(backend.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	metrics.PipelineOutputBytes.Observe(float64(len(data)))
	return base64.StdEncoding.EncodeToString(data), nil
}

// GoBackend rotates with imaging and scales with a Catmull-Rom kernel.
type GoBackend struct{}

// Name implements Backend.
func (GoBackend) Name() string {
	return "go"
}

// JPEG implements Backend.
func (GoBackend) JPEG(frame *decoder.Frame, width, height, quality int) ([]byte, error) {
	upright, err := Orient(frame.Image, frame.Rotation)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), upright, upright.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: ClampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Orient applies a clockwise rotation of 0, 90, 180 or 270 degrees.
func Orient(img image.Image, clockwise int) (image.Image, error) {
	switch ((clockwise % 360) + 360) % 360 {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return nil, fmt.Errorf("%w: rotation %d is not a quarter turn", ErrInvalidFrame, clockwise)
	}
}
