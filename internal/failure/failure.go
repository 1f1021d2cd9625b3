// Package failure tags errors with the kind of failure that produced them so
// the pipeline can decide between retrying and permanently settling a file.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the closed set of failure categories.
type Kind int

const (
	Transient Kind = iota
	NotFound
	PayloadTooLarge
	Timeout
	RateLimited
	BadRequest
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case PayloadTooLarge:
		return "payload_too_large"
	case Timeout:
		return "timeout"
	case RateLimited:
		return "rate_limited"
	case BadRequest:
		return "bad_request"
	default:
		return "transient"
	}
}

// Permanent reports whether a file that failed with this kind should be
// settled instead of redelivered.
func (k Kind) Permanent() bool {
	switch k {
	case PayloadTooLarge, Timeout, RateLimited, BadRequest:
		return true
	}
	return false
}

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New tags err with an explicit kind.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap tags err with the kind KindOf infers for it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// KindOf returns the kind of err. Explicit tags win; otherwise the error is
// classified from Google API, gRPC, OpenAI and context errors. Anything else
// is Transient.
func KindOf(err error) Kind {
	if err == nil {
		return Transient
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fromHTTPStatus(gerr.Code)
	}
	var oerr *openai.APIError
	if errors.As(err, &oerr) {
		return fromHTTPStatus(oerr.HTTPStatusCode)
	}
	var rerr *openai.RequestError
	if errors.As(err, &rerr) {
		return fromHTTPStatus(rerr.HTTPStatusCode)
	}
	if st, ok := status.FromError(err); ok {
		return fromGRPCCode(st.Code())
	}
	return Transient
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == NotFound
}

func fromHTTPStatus(code int) Kind {
	switch code {
	case http.StatusNotFound:
		return NotFound
	case http.StatusRequestEntityTooLarge:
		return PayloadTooLarge
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return Timeout
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusBadRequest:
		return BadRequest
	}
	return Transient
}

func fromGRPCCode(code codes.Code) Kind {
	switch code {
	case codes.NotFound:
		return NotFound
	case codes.DeadlineExceeded:
		return Timeout
	case codes.ResourceExhausted:
		return RateLimited
	case codes.InvalidArgument:
		return BadRequest
	}
	return Transient
}
