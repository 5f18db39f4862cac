package fastpath

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os/exec"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/logging"
)

// Name is the tier name the fast path registers under.
const Name = "platform"

// Kind is the ledger kind of a running ffmpeg process.
const Kind = "ffmpeg_process"

var log = logging.Tag("FastPath")

// The fast path only takes what a platform thumbnailer handles natively.
var (
	supportedContainers = map[string]bool{
		"mp4":  true,
		"m4v":  true,
		"mov":  true,
		"3gp":  true,
		"webm": true,
	}

	supportedCodecs = map[string]bool{
		"h264":  true,
		"vp8":   true,
		"vp9":   true,
		"av1":   true,
		"mpeg4": true,
		"h263":  true,
	}
)

// seekOffset is the fixed time index the fast path grabs, regardless of the
// requested position.
const seekOffset = "1"

func init() {
	decoder.Register(Name, func(opts decoder.Options) (decoder.Source, error) {
		return New(opts.FFmpegPath, opts.Ledger)
	})
}

// Source grabs a frame with a single ffmpeg invocation.
type Source struct {
	ffmpegPath string
	ledger     *decoder.Ledger
}

// New resolves the ffmpeg binary ("ffmpeg" when empty) and returns the
// source. It fails when the binary cannot be found.
func New(ffmpegPath string, ledger *decoder.Ledger) (*Source, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	resolved, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if ledger == nil {
		ledger = decoder.DefaultLedger
	}
	return &Source{ffmpegPath: resolved, ledger: ledger}, nil
}

// Name implements decoder.Source.
func (s *Source) Name() string {
	return Name
}

// Supported reports whether the fast path accepts media with this stream
// info.
func Supported(info *decoder.StreamInfo) bool {
	if info == nil || !supportedCodecs[strings.ToLower(info.Codec)] {
		return false
	}
	for _, c := range info.Containers {
		if supportedContainers[strings.ToLower(strings.TrimSpace(c))] {
			return true
		}
	}
	return false
}

// Frame implements decoder.Source. It grabs the frame at one second and, if
// that yields nothing (clips shorter than a second, broken index), the
// first frame.
func (s *Source) Frame(ctx context.Context, target decoder.Target) (*decoder.Frame, error) {
	if !Supported(target.Info) {
		return nil, fmt.Errorf("%w: %s", decoder.ErrUnsupported, describe(target.Info))
	}

	data, err := s.grab(ctx, target.Path, true)
	if err != nil || len(data) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug("Seeked grab failed for %s (%v), retrying at the first frame", target.Path, err)
		data, err = s.grab(ctx, target.Path, false)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", decoder.ErrDecode, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no output for %s", decoder.ErrDecode, target.Path)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode ffmpeg output: %v", decoder.ErrDecode, err)
	}

	// ffmpeg applies the display matrix itself, so the grabbed frame is
	// already upright.
	frame := decoder.NewFrame(img, Name)
	frame.Rotation = 0
	return frame, nil
}

// Args returns the ffmpeg arguments for one grab.
func Args(path string, seek bool) []string {
	in := ffmpeg.KwArgs{}
	if seek {
		in["ss"] = seekOffset
	}
	return ffmpeg.Input(path, in).
		Output("pipe:", ffmpeg.KwArgs{
			"vframes": 1,
			"format":  "image2",
			"vcodec":  "png",
		}).
		GlobalArgs("-nostdin", "-loglevel", "error").
		GetArgs()
}

func (s *Source) grab(ctx context.Context, path string, seek bool) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.ffmpegPath, Args(path, seek)...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h := s.ledger.Track(Kind, nil)
	err := cmd.Run()
	h.Release()

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, errors.New(msg)
	}
	return stdout.Bytes(), nil
}

func describe(info *decoder.StreamInfo) string {
	if info == nil {
		return "no stream info"
	}
	return fmt.Sprintf("codec %q in container %q", info.Codec, strings.Join(info.Containers, ","))
}
