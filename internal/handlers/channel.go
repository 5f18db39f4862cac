package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"media-thumbnailer/internal/channel"
	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/thumbnail"
)

// maxArgumentsBytes bounds a channel call body. Arguments are a handful of
// scalars.
const maxArgumentsBytes = 64 << 10

// codeNotImplemented is the error code sent with 501 replies.
const codeNotImplemented = "NOT_IMPLEMENTED"

// ChannelError is the error half of a channel reply.
type ChannelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type channelReply struct {
	status int
	body   map[string]any
}

// httpResult collects the single reply to a method call.
type httpResult struct {
	method string
	ch     chan channelReply
}

func newHTTPResult(method string) *httpResult {
	return &httpResult{method: method, ch: make(chan channelReply, 1)}
}

func (r *httpResult) Success(value any) {
	r.ch <- channelReply{status: http.StatusOK, body: map[string]any{"result": value}}
}

func (r *httpResult) Error(code, message string, details any) {
	r.ch <- channelReply{status: http.StatusOK, body: map[string]any{
		"error": ChannelError{Code: code, Message: message, Details: details},
	}}
}

func (r *httpResult) NotImplemented() {
	r.ch <- channelReply{status: http.StatusNotImplemented, body: map[string]any{
		"error": ChannelError{Code: codeNotImplemented, Message: fmt.Sprintf("method %q is not implemented", r.method)},
	}}
}

// InvokeMethod bridges POST /api/channel/{method} onto the method channel.
// The body is the JSON argument map. Outcomes, failures included, are sent
// with status 200; only unknown methods get 501. When the client goes away
// the request is cancelled and its outcome discarded.
func (h *Handlers) InvokeMethod(w http.ResponseWriter, r *http.Request) {
	method := mux.Vars(r)["method"]

	args, err := decodeArguments(r.Body)
	if err != nil {
		logging.Debug("Bad arguments for %s: %v", method, err)
		writeJSONStatus(w, http.StatusBadRequest, map[string]any{"error": ChannelError{
			Code:    thumbnail.CodeInvalidArguments,
			Message: "InvalidArguments: body: " + err.Error(),
		}})
		return
	}

	result := newHTTPResult(method)
	req := h.methods.Handle(channel.MethodCall{Method: method, Arguments: args}, result)

	var reply channelReply
	select {
	case reply = <-result.ch:
	case <-r.Context().Done():
		if req != nil {
			req.Cancel()
		}
		reply = <-result.ch
	}

	writeJSONStatus(w, reply.status, reply.body)
}

// decodeArguments reads the argument map. An empty body or a JSON null is
// an empty map. Numbers are kept as json.Number so integers stay exact.
func decodeArguments(body io.Reader) (map[string]any, error) {
	args := map[string]any{}
	if body == nil {
		return args, nil
	}

	dec := json.NewDecoder(io.LimitReader(body, maxArgumentsBytes))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
