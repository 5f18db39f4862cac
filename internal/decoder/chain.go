package decoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/metrics"
	"media-thumbnailer/internal/tracing"
)

var log = logging.Tag("Decoder")

// Chain tries its sources in order and returns the first usable frame.
// A source is skipped when it fails for any reason or hands back a frame
// with no pixels.
type Chain struct {
	sources   []Source
	inspector Inspector
}

// NewChain builds a chain over sources, tried in the given order.
func NewChain(sources ...Source) *Chain {
	return &Chain{sources: sources}
}

// WithInspector makes the chain probe each file once and hand the result to
// every source through Target.Info.
func (c *Chain) WithInspector(i Inspector) *Chain {
	c.inspector = i
	return c
}

// Name implements Source.
func (c *Chain) Name() string {
	return "chain"
}

// Names returns the source names in the order they are tried.
func (c *Chain) Names() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Frame implements Source. The returned error joins every tier's failure,
// so errors.Is reports ErrDecode if any tier got as far as decoding and
// ErrUnsupported if any tier refused the media.
func (c *Chain) Frame(ctx context.Context, target Target) (*Frame, error) {
	if len(c.sources) == 0 {
		return nil, fmt.Errorf("%w: no decoder tiers configured", ErrUnsupported)
	}

	if target.Info == nil && c.inspector != nil {
		info, err := c.inspector.Inspect(ctx, target.Path)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Debug("Probe failed for %s, tiers will run without stream info: %v", target.Path, err)
		default:
			target.Info = info
		}
	}

	var errs []error
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, errors.Join(append(errs, err)...)
		}

		frame, err := c.try(ctx, src, target)
		if err == nil {
			if len(errs) > 0 {
				log.Debug("%s produced the frame for %s after %d failed tier(s)", src.Name(), target.Path, len(errs))
			}
			return frame, nil
		}
		log.Debug("%s failed for %s: %v", src.Name(), target.Path, err)
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}

	return nil, errors.Join(errs...)
}

func (c *Chain) try(ctx context.Context, src Source, target Target) (*Frame, error) {
	name := src.Name()
	ctx, span := tracing.Start(ctx, "decoder."+name,
		trace.WithAttributes(
			attribute.String("decoder.tier", name),
			attribute.Float64("decoder.position", target.Position),
		))

	start := time.Now()
	frame, err := src.Frame(ctx, target)
	metrics.TierDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil && frame != nil {
		frame.Release()
		frame = nil
	}

	if err == nil && !frame.Usable() {
		frame.Release()
		frame = nil
		err = fmt.Errorf("%w: frame has no pixels", ErrDecode)
		metrics.TierAttemptsTotal.WithLabelValues(name, "unusable").Inc()
		tracing.End(span, err)
		return nil, err
	}

	metrics.TierAttemptsTotal.WithLabelValues(name, tierResult(ctx, err)).Inc()
	if err == nil {
		span.SetAttributes(
			attribute.Int("frame.width", frame.Width),
			attribute.Int("frame.height", frame.Height),
			attribute.Int("frame.rotation", frame.Rotation),
		)
	}
	tracing.End(span, err)
	return frame, err
}

func tierResult(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	default:
		return "error"
	}
}
