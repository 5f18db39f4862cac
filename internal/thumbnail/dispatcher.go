package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/mainloop"
	"media-thumbnailer/internal/memory"
	"media-thumbnailer/internal/metrics"
	"media-thumbnailer/internal/probe"
	"media-thumbnailer/internal/tracing"
	"media-thumbnailer/internal/workers"
)

var log = logging.Tag("Dispatcher")

var (
	errMissing     = errors.New("required")
	errNotPositive = errors.New("must be a positive integer")
)

// FrameEncoder turns a decoded frame into the base64 JPEG thumbnail.
type FrameEncoder interface {
	Encode(frame *decoder.Frame, width, height int) (string, error)
}

// MetadataExtractor reads the metadata key set of a local file.
type MetadataExtractor interface {
	Extract(ctx context.Context, path string) (probe.Metadata, error)
}

// Config wires a Dispatcher. Frames, Encoder and Metadata are required.
type Config struct {
	// Poster receives every completion. Defaults to mainloop.Immediate.
	Poster   mainloop.Poster
	Frames   decoder.Source
	Encoder  FrameEncoder
	Metadata MetadataExtractor
	// Resolver validates request URIs. Defaults to a PathResolver with no
	// root restriction.
	Resolver Resolver
	// Pool bounds concurrent work. Defaults to one slot per CPU.
	Pool *workers.Pool
	// Memory, when set, holds workers back under memory pressure.
	Memory *memory.Monitor
	// Ledger is reported through GetStats. Defaults to decoder.DefaultLedger.
	Ledger   *decoder.Ledger
	Deadline time.Duration
	Grace    time.Duration
}

// Dispatcher validates requests on the caller's goroutine, runs accepted
// ones on the worker pool and posts exactly one outcome per request.
type Dispatcher struct {
	cfg Config

	root context.Context
	stop context.CancelCauseFunc

	inFlight  atomic.Int64
	unwinding atomic.Int64

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Frames == nil {
		return nil, errors.New("dispatcher: frame source is required")
	}
	if cfg.Encoder == nil {
		return nil, errors.New("dispatcher: encoder is required")
	}
	if cfg.Metadata == nil {
		return nil, errors.New("dispatcher: metadata extractor is required")
	}
	if cfg.Poster == nil {
		cfg.Poster = mainloop.Immediate{}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewPathResolver()
	}
	if cfg.Pool == nil {
		cfg.Pool = workers.NewPool(workers.ForCPU(workers.DefaultLimit))
	}
	if cfg.Ledger == nil {
		cfg.Ledger = decoder.DefaultLedger
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	} else if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}

	root, stop := context.WithCancelCause(context.Background())
	return &Dispatcher{cfg: cfg, root: root, stop: stop}, nil
}

// ClampPosition returns the effective seek position: nil and NaN map to
// DefaultPosition, anything else is clamped into [0,1].
func ClampPosition(p *float64) float64 {
	if p == nil || math.IsNaN(*p) {
		return DefaultPosition
	}
	return math.Min(1, math.Max(0, *p))
}

type result struct {
	value any
	err   error
}

// job is one accepted request on its way through supervise.
type job struct {
	req      *Request
	deadline time.Duration
	run      func(ctx context.Context) (any, error)
	deliver  func(value any, err error)
	attrs    []attribute.KeyValue
}

// GenerateThumbnail submits a thumbnail request. Invalid requests are
// rejected before this returns, with cb invoked on the calling goroutine.
// Accepted requests complete through the configured Poster.
func (d *Dispatcher) GenerateThumbnail(req ThumbnailRequest, cb ThumbnailCallback) *Request {
	r := newRequest(OpThumbnail)
	deliver := func(value any, err error) {
		s, _ := value.(string)
		cb(s, err)
	}

	if d.isClosed() {
		return d.rejectClosed(r, deliver)
	}

	ctx, cancel := context.WithTimeout(d.root, d.deadline(req.Deadline))
	defer cancel()

	if req.URI == "" {
		return d.reject(r, invalidArgument(OpThumbnail, "uri", errMissing), deliver)
	}
	if req.Width <= 0 {
		return d.reject(r, invalidArgument(OpThumbnail, "width", fmt.Errorf("%w, got %d", errNotPositive, req.Width)), deliver)
	}
	if req.Height <= 0 {
		return d.reject(r, invalidArgument(OpThumbnail, "height", fmt.Errorf("%w, got %d", errNotPositive, req.Height)), deliver)
	}
	path, err := d.cfg.Resolver.Resolve(ctx, req.URI)
	if err != nil {
		return d.reject(r, invalidArgument(OpThumbnail, "uri", err), deliver)
	}

	target := decoder.Target{
		Path:     path,
		Position: ClampPosition(req.Position),
		Width:    req.Width,
		Height:   req.Height,
	}

	return d.submit(job{
		req:      r,
		deadline: d.deadline(req.Deadline),
		deliver:  deliver,
		run: func(ctx context.Context) (any, error) {
			return d.thumbnail(ctx, target)
		},
		attrs: []attribute.KeyValue{
			attribute.String("request.path", path),
			attribute.Int("request.width", target.Width),
			attribute.Int("request.height", target.Height),
			attribute.Float64("request.position", target.Position),
		},
	})
}

// ExtractMetadata submits a metadata request.
func (d *Dispatcher) ExtractMetadata(req MetadataRequest, cb MetadataCallback) *Request {
	r := newRequest(OpMetadata)
	deliver := func(value any, err error) {
		m, _ := value.(map[string]any)
		cb(m, err)
	}

	if d.isClosed() {
		return d.rejectClosed(r, deliver)
	}

	ctx, cancel := context.WithTimeout(d.root, d.deadline(req.Deadline))
	defer cancel()

	if req.URI == "" {
		return d.reject(r, invalidArgument(OpMetadata, "uri", errMissing), deliver)
	}
	path, err := d.cfg.Resolver.Resolve(ctx, req.URI)
	if err != nil {
		return d.reject(r, invalidArgument(OpMetadata, "uri", err), deliver)
	}

	return d.submit(job{
		req:      r,
		deadline: d.deadline(req.Deadline),
		deliver:  deliver,
		run: func(ctx context.Context) (any, error) {
			md, err := d.cfg.Metadata.Extract(ctx, path)
			if err != nil {
				return nil, err
			}
			return md.Map(), nil
		},
		attrs: []attribute.KeyValue{attribute.String("request.path", path)},
	})
}

func (d *Dispatcher) thumbnail(ctx context.Context, target decoder.Target) (any, error) {
	frame, err := d.cfg.Frames.Frame(ctx, target)
	if err != nil {
		return nil, err
	}
	defer frame.Release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.cfg.Encoder.Encode(frame, target.Width, target.Height)
}

func (d *Dispatcher) deadline(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return d.cfg.Deadline
}

func (d *Dispatcher) reject(r *Request, e *Error, deliver func(any, error)) *Request {
	r.finish(StateFailed)
	metrics.RequestsTotal.WithLabelValues(string(r.op), string(e.Kind)).Inc()
	log.Debug("Rejected %s request %s: %v", r.op, r.id, e)
	deliver(nil, e)
	return r
}

func (d *Dispatcher) rejectClosed(r *Request, deliver func(any, error)) *Request {
	e := &Error{Op: r.op, Kind: KindTimeout, Err: ErrClosed}
	r.finish(StateTimedOut)
	metrics.RequestsTotal.WithLabelValues(string(r.op), string(e.Kind)).Inc()
	deliver(nil, e)
	return r
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) submit(j job) *Request {
	r := j.req

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return d.rejectClosed(r, j.deliver)
	}
	d.wg.Add(1)
	d.mu.Unlock()

	ctx, cancelTimeout := context.WithTimeout(d.root, j.deadline)
	ctx, cancel := context.WithCancelCause(ctx)
	r.cancel = cancel

	ctx, span := tracing.Start(ctx, "thumbnail."+spanName(r.op),
		trace.WithAttributes(append(j.attrs, attribute.String("request.id", r.id))...))

	d.inFlight.Add(1)
	metrics.RequestsInFlight.WithLabelValues(string(r.op)).Inc()
	log.Debug("Accepted %s request %s (deadline %v)", r.op, r.id, j.deadline)

	go func() {
		defer d.wg.Done()
		defer cancelTimeout()
		d.supervise(ctx, span, j)
	}()
	return r
}

func spanName(op Op) string {
	if op == OpThumbnail {
		return "generate"
	}
	return string(op)
}

// supervise runs the job on its own goroutine and waits for it or for the
// request context to end. After the context ends the worker gets the grace
// window to return before it is abandoned.
func (d *Dispatcher) supervise(ctx context.Context, span trace.Span, j job) {
	r := j.req
	done := make(chan result, 1)
	go d.work(ctx, r, j.run, done)

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		grace := time.NewTimer(d.cfg.Grace)
		select {
		case <-done:
		case <-grace.C:
			d.abandon(r, done)
		}
		grace.Stop()
		res = result{err: ctx.Err()}
	}

	var outcome error
	state := StateCompleted
	label := "success"
	if res.err != nil {
		e := classify(ctx, r.op, j.deadline, res.err)
		outcome = e
		label = string(e.Kind)
		state = StateFailed
		if e.Kind == KindTimeout {
			state = StateTimedOut
		}
		res.value = nil
	}

	r.finish(state)
	elapsed := time.Since(r.submitted)
	metrics.RequestsTotal.WithLabelValues(string(r.op), label).Inc()
	metrics.RequestDuration.WithLabelValues(string(r.op)).Observe(elapsed.Seconds())
	tracing.End(span, outcome)

	if outcome != nil {
		log.Debug("%s request %s finished in %v: %v", r.op, r.id, elapsed, outcome)
	} else {
		log.Debug("%s request %s finished in %v", r.op, r.id, elapsed)
	}

	value := res.value
	d.cfg.Poster.Post(func() { j.deliver(value, outcome) })

	d.inFlight.Add(-1)
	metrics.RequestsInFlight.WithLabelValues(string(r.op)).Dec()
}

// abandon records a worker that outlived the grace window and tracks it
// until it finally returns.
func (d *Dispatcher) abandon(r *Request, done <-chan result) {
	metrics.AbandonedWorkers.Inc()
	d.unwinding.Add(1)
	log.Warn("Abandoned %s request %s worker after %v grace, still unwinding", r.op, r.id, d.cfg.Grace)

	go func() {
		<-done
		d.unwinding.Add(-1)
		log.Debug("Abandoned worker for %s finished unwinding", r.id)
	}()
}

func (d *Dispatcher) work(ctx context.Context, r *Request, run func(context.Context) (any, error), done chan<- result) {
	var res result
	defer func() {
		if p := recover(); p != nil {
			log.Error("Worker for %s request %s panicked: %v\n%s", r.op, r.id, p, debug.Stack())
			res = result{err: fmt.Errorf("worker panic: %v", p)}
		}
		done <- res
	}()

	release, waited, err := d.cfg.Pool.Acquire(ctx)
	metrics.PoolWaitDuration.Observe(waited.Seconds())
	if err != nil {
		res.err = err
		return
	}
	defer release()

	if err := d.cfg.Memory.Wait(ctx); err != nil {
		res.err = err
		return
	}

	r.start()
	res.value, res.err = run(ctx)
}

// InFlight returns the number of accepted requests whose outcome has not
// been posted yet.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Unwinding returns the number of abandoned workers still running.
func (d *Dispatcher) Unwinding() int64 {
	return d.unwinding.Load()
}

// GetStats implements metrics.StatsProvider.
func (d *Dispatcher) GetStats() metrics.Stats {
	return metrics.Stats{
		InFlight:    d.InFlight(),
		Unwinding:   d.Unwinding(),
		OpenHandles: d.cfg.Ledger.Open(),
	}
}

// Close stops accepting requests and cancels the ones in flight. Each of
// them still gets its outcome, a Timeout carrying ErrClosed. Close waits
// for those outcomes to be posted or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.stop(ErrClosed)

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Info("Dispatcher closed")
		return nil
	case <-ctx.Done():
		log.Warn("Dispatcher close timed out with %d requests in flight", d.InFlight())
		return ctx.Err()
	}
}
