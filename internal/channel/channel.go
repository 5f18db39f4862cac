package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/thumbnail"
)

var log = logging.Tag("Channel")

// Method names understood by Handler.
const (
	MethodGenerateThumbnail = "generateThumbnail"
	MethodExtractMetadata   = "extractMetadata"
)

var (
	errNotString  = errors.New("must be a string")
	errNotInteger = errors.New("must be an integer")
	errNotNumber  = errors.New("must be a number")
)

// MethodCall is one invocation received from the host.
type MethodCall struct {
	Method    string
	Arguments map[string]any
}

// Result receives the reply to a MethodCall. Exactly one of its methods is
// called, exactly once.
type Result interface {
	Success(value any)
	Error(code, message string, details any)
	NotImplemented()
}

// Dispatcher is the part of thumbnail.Dispatcher the channel drives.
type Dispatcher interface {
	GenerateThumbnail(req thumbnail.ThumbnailRequest, cb thumbnail.ThumbnailCallback) *thumbnail.Request
	ExtractMetadata(req thumbnail.MetadataRequest, cb thumbnail.MetadataCallback) *thumbnail.Request
}

// Handler decodes method call arguments and forwards them to a Dispatcher.
type Handler struct {
	dispatcher Dispatcher
}

// NewHandler creates a handler.
func NewHandler(d Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// Handle runs call and reports its outcome to result. It returns the
// submitted request so the caller can cancel it, or nil when the call never
// reached the dispatcher.
func (h *Handler) Handle(call MethodCall, result Result) *thumbnail.Request {
	switch call.Method {
	case MethodGenerateThumbnail:
		return h.generateThumbnail(call.Arguments, result)
	case MethodExtractMetadata:
		return h.extractMetadata(call.Arguments, result)
	default:
		log.Debug("Unknown method %q", call.Method)
		result.NotImplemented()
		return nil
	}
}

func (h *Handler) generateThumbnail(args map[string]any, result Result) *thumbnail.Request {
	var req thumbnail.ThumbnailRequest
	var err error

	if req.URI, err = stringArg(args, "uri"); err != nil {
		return invalid(thumbnail.OpThumbnail, "uri", err, result)
	}
	if req.Width, err = intArg(args, "width"); err != nil {
		return invalid(thumbnail.OpThumbnail, "width", err, result)
	}
	if req.Height, err = intArg(args, "height"); err != nil {
		return invalid(thumbnail.OpThumbnail, "height", err, result)
	}
	if req.Position, err = floatArg(args, "position"); err != nil {
		return invalid(thumbnail.OpThumbnail, "position", err, result)
	}

	return h.dispatcher.GenerateThumbnail(req, func(thumb string, err error) {
		if err != nil {
			replyError(thumbnail.OpThumbnail, err, result)
			return
		}
		result.Success(thumb)
	})
}

func (h *Handler) extractMetadata(args map[string]any, result Result) *thumbnail.Request {
	uri, err := stringArg(args, "uri")
	if err != nil {
		return invalid(thumbnail.OpMetadata, "uri", err, result)
	}

	return h.dispatcher.ExtractMetadata(thumbnail.MetadataRequest{URI: uri}, func(md map[string]any, err error) {
		if err != nil {
			replyError(thumbnail.OpMetadata, err, result)
			return
		}
		result.Success(md)
	})
}

func invalid(op thumbnail.Op, field string, err error, result Result) *thumbnail.Request {
	replyError(op, &thumbnail.Error{Op: op, Kind: thumbnail.KindInvalidArguments, Field: field, Err: err}, result)
	return nil
}

func replyError(op thumbnail.Op, err error, result Result) {
	var e *thumbnail.Error
	if !errors.As(err, &e) {
		e = &thumbnail.Error{Op: op, Kind: thumbnail.KindDecodeFailed, Err: err}
		if op == thumbnail.OpMetadata {
			e.Kind = thumbnail.KindMetadataFailed
		}
	}
	result.Error(e.Code(), e.Message(), nil)
}

// stringArg returns "" for a missing or null argument so the dispatcher
// reports it as missing.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w, got %T", errNotString, v)
	}
	return s, nil
}

// intArg accepts any integral number, as JSON decoders hand integers over as
// float64 or json.Number.
func intArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w, got %d", errNotInteger, n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w, got %v", errNotInteger, n)
		}
		return int(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return intArg(map[string]any{key: i}, key)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w, got %q", errNotInteger, n.String())
		}
		return intArg(map[string]any{key: f}, key)
	default:
		return 0, fmt.Errorf("%w, got %T", errNotInteger, v)
	}
}

func floatArg(args map[string]any, key string) (*float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w, got %q", errNotNumber, n.String())
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%w, got %T", errNotNumber, v)
	}
	return &f, nil
}
