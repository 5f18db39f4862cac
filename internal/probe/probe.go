package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/metrics"
	"media-thumbnailer/internal/tracing"
)

var log = logging.Tag("Probe")

// ErrProbe is returned when ffprobe cannot read or parse the container.
var ErrProbe = errors.New("metadata probe failed")

// Kind is the ledger kind of a running ffprobe process.
const Kind = "ffprobe_process"

// Prober runs ffprobe against local files.
type Prober struct {
	path   string
	ledger *decoder.Ledger
}

// New returns a prober using the ffprobe binary at path ("ffprobe" when
// empty). A nil ledger uses decoder.DefaultLedger.
func New(path string, ledger *decoder.Ledger) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	if ledger == nil {
		ledger = decoder.DefaultLedger
	}
	return &Prober{path: path, ledger: ledger}
}

// Probe runs ffprobe and parses its JSON. The process is killed when ctx is
// done and is always reaped before Probe returns.
func (p *Prober) Probe(ctx context.Context, path string) (*Result, error) {
	ctx, span := tracing.Start(ctx, "probe.ffprobe",
		trace.WithAttributes(attribute.String("media.path", path)))

	start := time.Now()
	res, err := p.run(ctx, path)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ProbeDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	tracing.End(span, err)
	return res, err
}

func (p *Prober) run(ctx context.Context, path string) (*Result, error) {
	cmd := exec.CommandContext(ctx, p.path,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h := p.ledger.Track(Kind, nil)
	err := cmd.Run()
	h.Release()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v: %s", ErrProbe, err, strings.TrimSpace(stderr.String()))
	}

	res, err := Parse(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbe, err)
	}
	return res, nil
}

// Extract returns the metadata key set for path.
func (p *Prober) Extract(ctx context.Context, path string) (Metadata, error) {
	res, err := p.Probe(ctx, path)
	if err != nil {
		return Metadata{}, err
	}
	m := res.Metadata()
	log.Debug("Metadata for %s: %v", path, m.Map())
	return m, nil
}

// Inspect implements decoder.Inspector.
func (p *Prober) Inspect(ctx context.Context, path string) (*decoder.StreamInfo, error) {
	res, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return res.StreamInfo(), nil
}
