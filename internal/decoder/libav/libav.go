package libav

import (
	"context"
	"math"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/logging"
)

// Name is the tier name the libav source registers under.
const Name = "libav"

// Ledger kinds for the native objects a decode acquires.
const (
	KindFormatContext = "format_context"
	KindCodecContext  = "codec_context"
	KindDictionary    = "dictionary"
	KindPacket        = "packet"
	KindFrame         = "frame"
	KindScaler        = "scaler"
)

var log = logging.Tag("Libav")

// decoderOptions trade quality for speed: one thread, no in-loop
// filtering, no IDCT where the decoder allows skipping it.
var decoderOptions = map[string]string{
	"threads":          "1",
	"skip_loop_filter": "all",
	"skip_idct":        "all",
}

func init() {
	decoder.Register(Name, func(opts decoder.Options) (decoder.Source, error) {
		return New(opts.Ledger), nil
	})
}

// Source decodes frames in-process with libavformat and libavcodec.
type Source struct {
	ledger *decoder.Ledger
}

// New returns a libav source. A nil ledger uses decoder.DefaultLedger.
func New(ledger *decoder.Ledger) *Source {
	if ledger == nil {
		ledger = decoder.DefaultLedger
	}
	ensureBackend()
	return &Source{ledger: ledger}
}

// Name implements decoder.Source.
func (s *Source) Name() string {
	return Name
}

// Frame implements decoder.Source.
func (s *Source) Frame(ctx context.Context, target decoder.Target) (*decoder.Frame, error) {
	sess := &session{
		ctx:    ctx,
		target: target,
		scope:  s.ledger.Scope(),
	}
	return sess.run()
}

// toStreamTimestamp converts microseconds into a stream time base of
// num/den seconds per tick.
func toStreamTimestamp(us int64, num, den int) int64 {
	if num <= 0 || den <= 0 {
		return us
	}
	return int64(math.Round(float64(us) * float64(den) / (float64(num) * 1e6)))
}
