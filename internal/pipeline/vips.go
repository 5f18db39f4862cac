package pipeline

import (
	"bytes"
	"fmt"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/logging"
)

// VipsName selects the libvips backend.
const VipsName = "vips"

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// InitVips starts libvips once for the process. Call it at startup when the
// vips backend is configured.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	level, handler := vipsLogging(logging.GetLevel())
	vips.LoggingSettings(handler, level)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	log.Info("libvips initialized (version: %s)", vips.Version)
	return nil
}

// vipsLogging keeps libvips one level quieter than the application.
func vipsLogging(appLevel logging.LogLevel) (vips.LogLevel, func(string, vips.LogLevel, string)) {
	switch appLevel {
	case logging.LevelDebug:
		return vips.LogLevelInfo, func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				log.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				log.Warn("[%s] %s", domain, msg)
			default:
				log.Debug("[%s] %s", domain, msg)
			}
		}
	case logging.LevelError:
		return vips.LogLevelCritical, func(domain string, level vips.LogLevel, msg string) {
			if level >= vips.LogLevelCritical {
				log.Error("[%s] %s", domain, msg)
			}
		}
	default:
		return vips.LogLevelWarning, func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				log.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				log.Warn("[%s] %s", domain, msg)
			}
		}
	}
}

// ShutdownVips releases libvips.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		log.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable reports whether libvips is initialized.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// VipsBackend hands the frame to libvips as an uncompressed PNG and lets it
// rotate, force-resize and encode.
type VipsBackend struct{}

// Name implements Backend.
func (VipsBackend) Name() string {
	return VipsName
}

// JPEG implements Backend.
func (VipsBackend) JPEG(frame *decoder.Frame, width, height, quality int) ([]byte, error) {
	if !IsVipsAvailable() {
		return nil, fmt.Errorf("%w: libvips not available", ErrEncode)
	}

	angle, err := vipsAngle(frame.Rotation)
	if err != nil {
		return nil, err
	}

	var raw bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&raw, frame.Image); err != nil {
		return nil, fmt.Errorf("%w: handing frame to vips: %v", ErrEncode, err)
	}

	ref, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: vips load: %v", ErrEncode, err)
	}
	defer ref.Close()

	if angle != vips.Angle0 {
		if err := ref.Rotate(angle); err != nil {
			return nil, fmt.Errorf("%w: vips rotate: %v", ErrEncode, err)
		}
	}

	if err := ref.ThumbnailWithSize(width, height, vips.InterestingNone, vips.SizeForce); err != nil {
		return nil, fmt.Errorf("%w: vips resize: %v", ErrEncode, err)
	}

	data, _, err := ref.ExportJpeg(&vips.JpegExportParams{
		Quality:        ClampQuality(quality),
		StripMetadata:  true,
		OptimizeCoding: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vips export: %v", ErrEncode, err)
	}
	return data, nil
}

// vipsAngle maps a clockwise rotation onto libvips' clockwise angles.
func vipsAngle(clockwise int) (vips.Angle, error) {
	switch ((clockwise % 360) + 360) % 360 {
	case 0:
		return vips.Angle0, nil
	case 90:
		return vips.Angle90, nil
	case 180:
		return vips.Angle180, nil
	case 270:
		return vips.Angle270, nil
	default:
		return vips.Angle0, fmt.Errorf("%w: rotation %d is not a quarter turn", ErrInvalidFrame, clockwise)
	}
}
