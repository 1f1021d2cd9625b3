package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindOf_GoogleAPIStatusCodes(t *testing.T) {
	cases := map[int]Kind{
		http.StatusNotFound:              NotFound,
		http.StatusRequestEntityTooLarge: PayloadTooLarge,
		http.StatusGatewayTimeout:        Timeout,
		http.StatusTooManyRequests:       RateLimited,
		http.StatusBadRequest:            BadRequest,
		http.StatusInternalServerError:   Transient,
		http.StatusServiceUnavailable:    Transient,
	}
	for code, want := range cases {
		err := fmt.Errorf("drive call: %w", &googleapi.Error{Code: code})
		assert.Equal(t, want, KindOf(err), "code %d", code)
	}
}

func TestKindOf_GRPCStatus(t *testing.T) {
	assert.Equal(t, RateLimited, KindOf(status.Error(codes.ResourceExhausted, "quota")))
	assert.Equal(t, BadRequest, KindOf(status.Error(codes.InvalidArgument, "bad")))
	assert.Equal(t, Timeout, KindOf(status.Error(codes.DeadlineExceeded, "slow")))
	assert.Equal(t, Transient, KindOf(status.Error(codes.Unavailable, "down")))
}

func TestKindOf_ExplicitTagWins(t *testing.T) {
	inner := &googleapi.Error{Code: http.StatusNotFound}
	err := fmt.Errorf("outer: %w", New(RateLimited, "copy", inner))
	assert.Equal(t, RateLimited, KindOf(err))
	assert.ErrorIs(t, err, inner)
}

func TestKindOf_ContextDeadline(t *testing.T) {
	assert.Equal(t, Timeout, KindOf(fmt.Errorf("generate: %w", context.DeadlineExceeded)))
	assert.Equal(t, Transient, KindOf(errors.New("connection reset by peer")))
}

func TestKind_Permanent(t *testing.T) {
	for _, k := range []Kind{PayloadTooLarge, Timeout, RateLimited, BadRequest} {
		assert.True(t, k.Permanent(), k.String())
	}
	assert.False(t, Transient.Permanent())
	assert.False(t, NotFound.Permanent())
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.NoError(t, Wrap("op", nil))
	assert.NoError(t, New(Timeout, "op", nil))
}
