package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/pipeline"
)

// Op names the operation a request performs.
type Op string

const (
	OpThumbnail Op = "thumbnail"
	OpMetadata  Op = "metadata"
)

// Kind is the error taxonomy callers see.
type Kind string

const (
	KindInvalidArguments  Kind = "InvalidArguments"
	KindTimeout           Kind = "Timeout"
	KindDecodeUnsupported Kind = "DecodeUnsupported"
	KindDecodeFailed      Kind = "DecodeFailed"
	KindEncodeFailed      Kind = "EncodeFailed"
	KindMetadataFailed    Kind = "MetadataFailed"
)

// Channel error codes.
const (
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeThumbnailFailed  = "THUMBNAIL_FAILED"
	CodeMetadataFailed   = "METADATA_FAILED"
)

var (
	// ErrCanceled is the cause recorded when a caller cancels a request.
	ErrCanceled = errors.New("request canceled")
	// ErrClosed is the cause recorded for requests cut short by Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Error is the single error type delivered to callbacks.
type Error struct {
	Op    Op
	Kind  Kind
	Field string // set for InvalidArguments
	Err   error
}

func (e *Error) Error() string {
	return e.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code maps the error onto the method channel's error codes.
func (e *Error) Code() string {
	switch {
	case e.Kind == KindInvalidArguments:
		return CodeInvalidArguments
	case e.Op == OpMetadata:
		return CodeMetadataFailed
	default:
		return CodeThumbnailFailed
	}
}

// Message is "<Kind>: <detail>".
func (e *Error) Message() string {
	detail := ""
	switch {
	case e.Field != "" && e.Err != nil:
		detail = e.Field + ": " + e.Err.Error()
	case e.Field != "":
		detail = e.Field
	case e.Err != nil:
		detail = e.Err.Error()
	}
	if detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + detail
}

func invalidArgument(op Op, field string, err error) *Error {
	return &Error{Op: op, Kind: KindInvalidArguments, Field: field, Err: err}
}

// timeoutError describes why ctx ended.
func timeoutError(ctx context.Context, op Op, deadline time.Duration) *Error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrCanceled), errors.Is(cause, ErrClosed):
		return &Error{Op: op, Kind: KindTimeout, Err: cause}
	default:
		return &Error{Op: op, Kind: KindTimeout, Err: fmt.Errorf("deadline of %v exceeded", deadline)}
	}
}

// classify turns a worker error into the taxonomy. Timeout and cancel win
// over everything, then decode failures, then unsupported media, then
// encoding.
func classify(ctx context.Context, op Op, deadline time.Duration, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return timeoutError(ctx, op, deadline)
	}
	if op == OpMetadata {
		return &Error{Op: op, Kind: KindMetadataFailed, Err: err}
	}

	switch {
	case errors.Is(err, pipeline.ErrInvalidFrame), errors.Is(err, decoder.ErrDecode):
		return &Error{Op: op, Kind: KindDecodeFailed, Err: err}
	case errors.Is(err, decoder.ErrUnsupported):
		return &Error{Op: op, Kind: KindDecodeUnsupported, Err: err}
	case errors.Is(err, pipeline.ErrEncode):
		return &Error{Op: op, Kind: KindEncodeFailed, Err: err}
	default:
		return &Error{Op: op, Kind: KindDecodeFailed, Err: err}
	}
}
