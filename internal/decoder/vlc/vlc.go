//go:build vlc

package vlc

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	vlc "github.com/adrg/libvlc-go/v3"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/logging"
)

// Name is the tier name the libVLC source registers under.
const Name = "vlc"

// Ledger kinds.
const (
	KindMedia    = "vlc_media"
	KindPlayer   = "vlc_player"
	KindEvents   = "vlc_events"
	KindSnapshot = "vlc_snapshot_file"
)

var log = logging.Tag("VLC")

// instanceArgs configure the shared libVLC instance for thumbnailing.
var instanceArgs = []string{
	"--intf=dummy",
	"--vout=vdummy",
	"--no-audio",
	"--no-spu",
	"--no-sub-autodetect-file",
	"--avcodec-threads=1",
	"--avcodec-skiploopfilter=4",
	"--avcodec-skip-idct=4",
	"--deinterlace=0",
	"--no-osd",
	"--no-video-title-show",
	"--no-stats",
	"--no-snapshot-preview",
	"--quiet",
}

// settleTimeout bounds the wait for the first time update after a seek.
const settleTimeout = 2 * time.Second

var (
	instanceMu  sync.Mutex
	instanceErr error
	instanceUp  bool
)

func ensureInstance() error {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instanceUp || instanceErr != nil {
		return instanceErr
	}
	if err := vlc.Init(instanceArgs...); err != nil {
		instanceErr = fmt.Errorf("libvlc init: %w", err)
		return instanceErr
	}
	instanceUp = true
	log.Info("libVLC instance initialized")
	return nil
}

func init() {
	decoder.Register(Name, func(opts decoder.Options) (decoder.Source, error) {
		return New(opts.Ledger)
	})
}

// Source captures frames through a libVLC player and its snapshot facility.
type Source struct {
	ledger *decoder.Ledger
}

// New initializes the shared libVLC instance on first use.
func New(ledger *decoder.Ledger) (*Source, error) {
	if err := ensureInstance(); err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = decoder.DefaultLedger
	}
	return &Source{ledger: ledger}, nil
}

// Name implements decoder.Source.
func (s *Source) Name() string {
	return Name
}

// Frame implements decoder.Source.
func (s *Source) Frame(ctx context.Context, target decoder.Target) (*decoder.Frame, error) {
	c := &capture{
		ctx:    ctx,
		target: target,
		scope:  s.ledger.Scope(),
		events: make(chan vlc.Event, 32),
	}
	return c.run()
}

type state int

const (
	stateParse state = iota
	statePlay
	stateSeek
	stateSettle
	stateCapture
	stateDone
)

var stateNames = [...]string{"parse", "play", "seek", "settle", "capture", "done"}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// capture is one request's walk through the player states. All libVLC
// events land on one channel and are consumed by the state that waits for
// them.
type capture struct {
	ctx    context.Context
	target decoder.Target
	scope  *decoder.Scope
	events chan vlc.Event

	media    *vlc.Media
	player   *vlc.Player
	duration time.Duration
	result   *decoder.Frame
}

func (c *capture) run() (*decoder.Frame, error) {
	defer c.scope.Close()

	st := stateParse
	for st != stateDone {
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}
		next, err := c.step(st)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil, c.ctx.Err()
			}
			return nil, err
		}
		log.Debug("%s: %s -> %s", c.target.Path, st, next)
		st = next
	}
	return c.result, nil
}

func (c *capture) step(st state) (state, error) {
	switch st {
	case stateParse:
		return statePlay, c.parse()
	case statePlay:
		return stateSeek, c.play()
	case stateSeek:
		return c.seek()
	case stateSettle:
		return stateCapture, c.settle()
	case stateCapture:
		return stateDone, c.snapshot()
	default:
		return stateDone, fmt.Errorf("vlc: unexpected state %s", st)
	}
}

func (c *capture) forward(event vlc.Event, _ interface{}) {
	select {
	case c.events <- event:
	default:
	}
}

// wait blocks until one of want arrives. Error and end-of-stream events
// end the wait with ErrDecode.
func (c *capture) wait(timeout time.Duration, want ...vlc.Event) (vlc.Event, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return 0, c.ctx.Err()
		case <-timer:
			return 0, errTimeout
		case ev := <-c.events:
			switch ev {
			case vlc.MediaPlayerEncounteredError:
				return ev, fmt.Errorf("%w: player reported an error", decoder.ErrDecode)
			case vlc.MediaPlayerEndReached:
				return ev, fmt.Errorf("%w: end of stream before capture", decoder.ErrDecode)
			}
			for _, w := range want {
				if ev == w {
					return ev, nil
				}
			}
		}
	}
}

var errTimeout = errors.New("timed out waiting for player event")

func (c *capture) parse() error {
	media, err := vlc.NewMediaFromPath(c.target.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", decoder.ErrUnsupported, err)
	}
	c.scope.Track(KindMedia, func() { _ = media.Release() })
	c.media = media

	em, err := media.EventManager()
	if err != nil {
		return fmt.Errorf("%w: media events: %v", decoder.ErrDecode, err)
	}
	id, err := em.Attach(vlc.MediaParsedChanged, c.forward, nil)
	if err != nil {
		return fmt.Errorf("%w: media events: %v", decoder.ErrDecode, err)
	}
	c.scope.Track(KindEvents, func() { em.Detach(id) })

	timeoutMS := 0
	if deadline, ok := c.ctx.Deadline(); ok {
		timeoutMS = int(time.Until(deadline).Milliseconds())
	}
	if err := media.ParseWithOptions(timeoutMS, vlc.MediaParseLocal); err != nil {
		return fmt.Errorf("%w: parse: %v", decoder.ErrUnsupported, err)
	}
	if _, err := c.wait(0, vlc.MediaParsedChanged); err != nil {
		return err
	}

	status, err := media.ParseStatus()
	if err != nil || status != vlc.MediaParseDone {
		return fmt.Errorf("%w: parse status %v", decoder.ErrUnsupported, status)
	}
	if d, err := media.Duration(); err == nil {
		c.duration = d
	}
	return nil
}

func (c *capture) play() error {
	player, err := vlc.NewPlayer()
	if err != nil {
		return fmt.Errorf("%w: new player: %v", decoder.ErrDecode, err)
	}
	c.scope.Track(KindPlayer, func() {
		_ = player.Stop()
		_ = player.Release()
	})
	c.player = player

	em, err := player.EventManager()
	if err != nil {
		return fmt.Errorf("%w: player events: %v", decoder.ErrDecode, err)
	}
	for _, ev := range []vlc.Event{
		vlc.MediaPlayerPlaying,
		vlc.MediaPlayerTimeChanged,
		vlc.MediaPlayerSnapshotTaken,
		vlc.MediaPlayerEncounteredError,
		vlc.MediaPlayerEndReached,
	} {
		id, err := em.Attach(ev, c.forward, nil)
		if err != nil {
			return fmt.Errorf("%w: player events: %v", decoder.ErrDecode, err)
		}
		c.scope.Track(KindEvents, func() { em.Detach(id) })
	}

	if err := player.SetMedia(c.media); err != nil {
		return fmt.Errorf("%w: set media: %v", decoder.ErrDecode, err)
	}
	if err := player.Play(); err != nil {
		return fmt.Errorf("%w: play: %v", decoder.ErrDecode, err)
	}
	_, err = c.wait(0, vlc.MediaPlayerPlaying)
	return err
}

// seek jumps to duration*position. With no usable duration the player
// keeps playing from the start and the first frame is captured.
func (c *capture) seek() (state, error) {
	offset := decoder.SeekTime(c.duration, c.target.Position)
	if offset <= 0 {
		return stateSettle, nil
	}
	if err := c.player.SetMediaTime(int(offset.Milliseconds())); err != nil {
		log.Debug("Seek failed for %s, capturing from start: %v", c.target.Path, err)
	}
	return stateSettle, nil
}

// settle waits for the first time update so the snapshot shows a decoded
// picture rather than the pre-seek one.
func (c *capture) settle() error {
	_, err := c.wait(settleTimeout, vlc.MediaPlayerTimeChanged)
	if errors.Is(err, errTimeout) {
		return nil
	}
	return err
}

func (c *capture) snapshot() error {
	dir, err := os.MkdirTemp("", "vlc-snapshot-")
	if err != nil {
		return fmt.Errorf("%w: snapshot dir: %v", decoder.ErrDecode, err)
	}
	c.scope.Track(KindSnapshot, func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "frame.png")

	if err := c.player.SetPause(true); err != nil {
		log.Debug("Pause before snapshot failed for %s: %v", c.target.Path, err)
	}
	if err := c.player.TakeSnapshot(path, 0, 0); err != nil {
		return fmt.Errorf("%w: snapshot: %v", decoder.ErrDecode, err)
	}
	if _, err := c.wait(0, vlc.MediaPlayerSnapshotTaken); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: snapshot file: %v", decoder.ErrDecode, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return fmt.Errorf("%w: snapshot decode: %v", decoder.ErrDecode, err)
	}

	// libVLC applies the orientation before the snapshot.
	c.result = decoder.NewFrame(img, Name)
	return nil
}
