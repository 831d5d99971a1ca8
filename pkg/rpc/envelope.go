// Package rpc is a small request/response layer over NATS. Requests carry a
// method name, the caller's RequestContext and JSON arguments; replies carry a
// JSON result or a typed error.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"billingstack/pkg/models"
)

// Request is the message published on the service topic.
type Request struct {
	Method string                `json:"method"`
	Ctxt   models.RequestContext `json:"ctxt"`
	Args   json.RawMessage       `json:"args,omitempty"`
}

// ErrorBody is the serialized form of an error.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the reply to a Request.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// Error kinds understood by every peer.
const (
	KindInternal      = "internal"
	KindUnknownMethod = "unknown_method"
	KindBadArgs       = "bad_arguments"
)

var (
	ErrUnknownMethod = errors.New("rpc: unknown method")
	ErrBadArgs       = errors.New("rpc: bad arguments")
)

// RemoteError is an error received from a peer that no ErrorCodec recognized.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Kind, e.Message)
}

// ErrorCodec converts errors to and from their wire form. Services register
// one so that typed errors survive the round trip.
type ErrorCodec interface {
	Encode(err error) ErrorBody
	Decode(body ErrorBody) error
}

type defaultCodec struct{}

func (defaultCodec) Encode(err error) ErrorBody {
	switch {
	case errors.Is(err, ErrUnknownMethod):
		return ErrorBody{Kind: KindUnknownMethod, Message: err.Error()}
	case errors.Is(err, ErrBadArgs):
		return ErrorBody{Kind: KindBadArgs, Message: err.Error()}
	}
	return ErrorBody{Kind: KindInternal, Message: err.Error()}
}

func (defaultCodec) Decode(body ErrorBody) error {
	switch body.Kind {
	case KindUnknownMethod:
		return fmt.Errorf("%w: %s", ErrUnknownMethod, body.Message)
	case KindBadArgs:
		return fmt.Errorf("%w: %s", ErrBadArgs, body.Message)
	}
	return &RemoteError{Kind: body.Kind, Message: body.Message}
}

// DefaultCodec handles the transport's own error kinds only.
var DefaultCodec ErrorCodec = defaultCodec{}
