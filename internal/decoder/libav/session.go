package libav

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/asticode/go-astiav"

	"media-thumbnailer/internal/decoder"
)

type state int

const (
	stateOpen state = iota
	stateProbe
	stateSeek
	stateDecode
	stateCapture
	stateDone
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateProbe:
		return "probe"
	case stateSeek:
		return "seek"
	case stateDecode:
		return "decode"
	case stateCapture:
		return "capture"
	case stateDone:
		return "done"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// noTarget means any decoded frame will do.
const noTarget = int64(math.MinInt64)

// session is one decode. run drives it through the states in order and
// checks the context before every step; all native objects are released
// when run returns.
type session struct {
	ctx    context.Context
	target decoder.Target
	scope  *decoder.Scope

	fc     *astiav.FormatContext
	stream *astiav.Stream
	cc     *astiav.CodecContext
	pkt    *astiav.Packet
	frame  *astiav.Frame
	last   *astiav.Frame

	haveLast  bool
	lastPTS   int64
	targetPTS int64
	result    *decoder.Frame
}

func (s *session) run() (*decoder.Frame, error) {
	defer s.scope.Close()

	st := stateOpen
	for st != stateDone {
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		next, err := s.step(st)
		if err != nil {
			if s.ctx.Err() != nil {
				return nil, s.ctx.Err()
			}
			return nil, err
		}
		log.Debug("%s: %s -> %s", s.target.Path, st, next)
		st = next
	}
	return s.result, nil
}

func (s *session) step(st state) (state, error) {
	switch st {
	case stateOpen:
		return stateProbe, s.open()
	case stateProbe:
		return stateSeek, s.probe()
	case stateSeek:
		return stateDecode, s.seek()
	case stateDecode:
		return stateCapture, s.decode()
	case stateCapture:
		return stateDone, s.capture()
	default:
		return stateDone, fmt.Errorf("libav: unexpected state %s", st)
	}
}

func (s *session) open() error {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return fmt.Errorf("%w: allocating format context failed", decoder.ErrDecode)
	}
	opened := false
	s.scope.Track(KindFormatContext, func() {
		if opened {
			fc.CloseInput()
		}
		fc.Free()
	})

	if err := fc.OpenInput(s.target.Path, nil, nil); err != nil {
		return openError(s.target.Path, s.target.Info, err)
	}
	opened = true
	s.fc = fc
	return nil
}

func (s *session) probe() error {
	if err := s.fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("%w: reading stream info: %v", decoder.ErrDecode, err)
	}

	for _, st := range s.fc.Streams() {
		if st.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			s.stream = st
			break
		}
	}
	if s.stream == nil {
		return fmt.Errorf("%w: no video stream", decoder.ErrUnsupported)
	}

	params := s.stream.CodecParameters()
	codec := astiav.FindDecoder(params.CodecID())
	if codec == nil {
		return fmt.Errorf("%w: no decoder for codec %v", decoder.ErrUnsupported, params.CodecID())
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return fmt.Errorf("%w: allocating codec context failed", decoder.ErrDecode)
	}
	s.scope.Track(KindCodecContext, cc.Free)
	s.cc = cc

	if err := params.ToCodecContext(cc); err != nil {
		return fmt.Errorf("%w: copying codec parameters: %v", decoder.ErrDecode, err)
	}

	opts := astiav.NewDictionary()
	dict := s.scope.Track(KindDictionary, opts.Free)
	for k, v := range decoderOptions {
		if err := opts.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
			return fmt.Errorf("%w: setting decoder option %s: %v", decoder.ErrDecode, k, err)
		}
	}
	err := cc.Open(codec, opts)
	dict.Release()
	if err != nil {
		return fmt.Errorf("%w: opening %s decoder: %v", decoder.ErrUnsupported, codec.Name(), err)
	}

	s.pkt = astiav.AllocPacket()
	s.scope.Track(KindPacket, s.pkt.Free)
	s.frame = astiav.AllocFrame()
	s.scope.Track(KindFrame, s.frame.Free)
	s.last = astiav.AllocFrame()
	s.scope.Track(KindFrame, s.last.Free)
	return nil
}

// seek positions the demuxer on the keyframe before the wanted time. Media
// without a known positive duration is decoded from the start and the first
// frame is taken.
func (s *session) seek() error {
	s.targetPTS = noTarget

	offsetUS, ok := seekOffset(s.fc.Duration(), s.target.Position)
	if !ok {
		return nil
	}

	tb := s.stream.TimeBase()
	ts := toStreamTimestamp(offsetUS, tb.Num(), tb.Den())
	if start := s.stream.StartTime(); start != astiav.NoPtsValue {
		ts += start
	}
	s.targetPTS = ts

	if err := s.fc.SeekFrame(s.stream.Index(), ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		// Decoding forward from the start still reaches the target.
		log.Debug("Seek to %d failed for %s, decoding from start: %v", ts, s.target.Path, err)
	}
	return nil
}

// seekOffset returns the offset in microseconds for position within a
// container of durationUS, and false when no seek should be issued.
func seekOffset(durationUS int64, position float64) (int64, bool) {
	if durationUS <= 0 || durationUS == astiav.NoPtsValue || position <= 0 {
		return 0, false
	}
	return int64(float64(durationUS) * position), true
}

// decode feeds packets of the video stream to the decoder until a frame at
// or after the target comes out. At end of file the decoder is drained and
// the last frame kept, unless the stream stopped well short of the target.
// A read error before the target is reached means the file is damaged.
func (s *session) decode() error {
	var lastErr error
	for {
		if err := s.ctx.Err(); err != nil {
			return err
		}

		if err := s.fc.ReadFrame(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return fmt.Errorf("%w: reading packet before target: %v", decoder.ErrDecode, err)
		}

		if s.pkt.StreamIndex() != s.stream.Index() {
			s.pkt.Unref()
			continue
		}

		done, err := s.send()
		s.pkt.Unref()
		if err != nil {
			lastErr = err
			continue
		}
		if done {
			return nil
		}
	}

	if err := s.cc.SendPacket(nil); err == nil {
		if _, err := s.receive(); err != nil {
			lastErr = err
		}
	}

	if !s.haveLast {
		if lastErr != nil {
			return fmt.Errorf("%w: no frame decoded: %v", decoder.ErrDecode, lastErr)
		}
		return fmt.Errorf("%w: no frame decoded before end of stream", decoder.ErrDecode)
	}

	if s.targetPTS != noTarget && s.lastPTS != astiav.NoPtsValue {
		tb := s.stream.TimeBase()
		rate := s.stream.AvgFrameRate()
		tolerance := frameTolerance(tb.Num(), tb.Den(), rate.Num(), rate.Den())
		if endsShort(s.lastPTS, s.targetPTS, tolerance, s.streamEnd()) {
			return fmt.Errorf("%w: stream ends at %d, short of target %d", decoder.ErrDecode, s.lastPTS, s.targetPTS)
		}
	}
	return nil
}

// send hands the current packet to the decoder. When the decoder is full
// the ready frames are received first and the packet is sent again.
func (s *session) send() (bool, error) {
	err := s.cc.SendPacket(s.pkt)
	if errors.Is(err, astiav.ErrEagain) {
		done, rerr := s.receive()
		if rerr != nil || done {
			return done, rerr
		}
		err = s.cc.SendPacket(s.pkt)
	}
	if err != nil && !errors.Is(err, astiav.ErrEagain) {
		return false, err
	}
	return s.receive()
}

// receive pulls every frame the decoder has ready, keeping the newest in
// s.last. It reports true once a frame reaches the target.
func (s *session) receive() (bool, error) {
	for {
		err := s.cc.ReceiveFrame(s.frame)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		pts := frameTimestamp(s.frame.Pts(), s.frame.PktDts())
		s.last.Unref()
		s.frame, s.last = s.last, s.frame
		s.haveLast = true
		s.lastPTS = pts

		if s.targetPTS == noTarget || pts == astiav.NoPtsValue || pts >= s.targetPTS {
			return true, nil
		}
	}
}

// streamEnd is the last timestamp of the video stream, or NoPtsValue when
// the container does not say.
func (s *session) streamEnd() int64 {
	d := s.stream.Duration()
	if d <= 0 || d == astiav.NoPtsValue {
		return astiav.NoPtsValue
	}
	if start := s.stream.StartTime(); start != astiav.NoPtsValue {
		return start + d
	}
	return d
}

// frameTimestamp prefers the presentation timestamp and falls back to the
// decode timestamp of the packet that produced the frame.
func frameTimestamp(pts, pktDts int64) int64 {
	if pts != astiav.NoPtsValue {
		return pts
	}
	return pktDts
}

// fallbackFrameUS is the frame duration assumed when the stream reports no
// frame rate.
const fallbackFrameUS = 125_000

// frameTolerance is how far, in stream ticks, the last frame may fall short
// of the target and still count as reaching it: four frame durations.
func frameTolerance(tbNum, tbDen, rateNum, rateDen int) int64 {
	var ticks int64
	if tbNum > 0 && tbDen > 0 && rateNum > 0 && rateDen > 0 {
		ticks = int64(math.Round(float64(tbDen) * float64(rateDen) / (float64(tbNum) * float64(rateNum))))
	} else {
		ticks = toStreamTimestamp(fallbackFrameUS, tbNum, tbDen)
	}
	return 4 * max(ticks, 1)
}

// endsShort reports whether decoding stopped at last while the target lies
// more than tolerance beyond it, and the stream end (when known) is not
// within tolerance of last either.
func endsShort(last, target, tolerance, streamEnd int64) bool {
	if target-last <= tolerance {
		return false
	}
	if streamEnd != astiav.NoPtsValue && streamEnd-last <= tolerance {
		return false
	}
	return true
}

// containerExts are extensions of containers the demuxers know. Damaged
// input with one of these is a decode failure rather than an unknown format.
var containerExts = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".3gp": true, ".mkv": true, ".webm": true,
	".avi": true, ".ts": true, ".mts": true, ".m2ts": true, ".flv": true, ".wmv": true,
	".mpg": true, ".mpeg": true, ".ogv": true,
}

// openError classifies an OpenInput failure. Invalid data or an early end
// of file in something that names a known container means the file is
// damaged; anything else means the format is not handled here.
func openError(path string, info *decoder.StreamInfo, err error) error {
	known := containerExts[strings.ToLower(filepath.Ext(path))] || (info != nil && len(info.Containers) > 0)
	if known && (errors.Is(err, astiav.ErrInvaliddata) || errors.Is(err, astiav.ErrEof)) {
		return fmt.Errorf("%w: opening input: %v", decoder.ErrDecode, err)
	}
	return fmt.Errorf("%w: opening input: %v", decoder.ErrUnsupported, err)
}

func (s *session) capture() error {
	src := s.last
	if src.Width() <= 0 || src.Height() <= 0 {
		return fmt.Errorf("%w: decoded frame is %dx%d", decoder.ErrDecode, src.Width(), src.Height())
	}
	format := src.PixelFormat().String()

	img, err := toImage(src)
	if err != nil {
		img, err = s.convert(src)
		if err != nil {
			return fmt.Errorf("%w: converting %s frame: %v", decoder.ErrDecode, format, err)
		}
	}

	frame := decoder.NewFrame(img, Name)
	frame.Format = format
	frame.Rotation = s.rotation()
	s.result = frame
	return nil
}

// convert scales src into an RGBA frame of the same size for pixel formats
// the image conversion does not handle directly.
func (s *session) convert(src *astiav.Frame) (image.Image, error) {
	w, h := src.Width(), src.Height()
	ssc, err := astiav.CreateSoftwareScaleContext(w, h, src.PixelFormat(), w, h, astiav.PixelFormatRgba,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear))
	if err != nil {
		return nil, err
	}
	s.scope.Track(KindScaler, ssc.Free)

	dst := astiav.AllocFrame()
	s.scope.Track(KindFrame, dst.Free)
	dst.SetWidth(w)
	dst.SetHeight(h)
	dst.SetPixelFormat(astiav.PixelFormatRgba)
	if err := dst.AllocBuffer(1); err != nil {
		return nil, err
	}
	if err := ssc.ScaleFrame(src, dst); err != nil {
		return nil, err
	}
	return toImage(dst)
}

func toImage(f *astiav.Frame) (image.Image, error) {
	img, err := f.Data().GuessImageFormat()
	if err != nil {
		return nil, err
	}
	if err := f.Data().ToImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// rotation prefers the probed display matrix and falls back to the legacy
// rotate tag on the stream.
func (s *session) rotation() int {
	if s.target.Info != nil {
		return s.target.Info.Rotation
	}
	md := s.stream.Metadata()
	if md == nil {
		return 0
	}
	entry := md.Get("rotate", nil, astiav.NewDictionaryFlags())
	if entry == nil {
		return 0
	}
	deg, err := strconv.Atoi(strings.TrimSpace(entry.Value()))
	if err != nil {
		return 0
	}
	return normalizeRotation(deg)
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return ((deg + 45) / 90 * 90) % 360
}
