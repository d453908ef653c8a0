package neterrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type myError struct {
	Err error
}

func (e *myError) Error() string { return e.Err.Error() }
func (e *myError) Unwrap() error { return e.Err }

// timeoutError is a net.Error which timed out
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestIsTimeout(t *testing.T) {
	for i, test := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("potato"), false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("call failed: %w", context.DeadlineExceeded), true},
		{&url.Error{Op: "Get", URL: "https://api.pcloud.com/diff", Err: timeoutError{}}, true},
		{&url.Error{Op: "Get", URL: "https://api.pcloud.com/diff", Err: errors.New("refused")}, false},
		{&net.OpError{Op: "read", Err: timeoutError{}}, true},
		{&myError{syscall.ETIMEDOUT}, true},
		{syscall.ECONNRESET, false},
	} {
		assert.Equal(t, test.want, IsTimeout(test.err), "test %d: %v", i, test.err)
	}
}

func TestShouldRetry(t *testing.T) {
	for i, test := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("potato"), false},
		{RetryErrorf("try again %d", 1), true},
		{RetryError(nil), true},
		{fmt.Errorf("wrapped: %w", RetryError(errors.New("flaky"))), true},
		{context.DeadlineExceeded, true},
		{syscall.ECONNRESET, true},
		{&url.Error{Op: "Post", URL: "/", Err: &net.OpError{Op: "write", Err: syscall.EPIPE}}, true},
		{&myError{syscall.ECONNREFUSED}, true},
		{syscall.EACCES, false},
	} {
		assert.Equal(t, test.want, ShouldRetry(test.err), "test %d: %v", i, test.err)
	}
}

func TestRetryErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := RetryError(inner)
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, "inner", err.Error())
	assert.Equal(t, "needs retry", RetryError(nil).Error())
}

func TestShouldRetryHTTP(t *testing.T) {
	codes := []int{429, 500}
	assert.False(t, ShouldRetryHTTP(nil, codes))
	assert.True(t, ShouldRetryHTTP(&http.Response{StatusCode: 429}, codes))
	assert.False(t, ShouldRetryHTTP(&http.Response{StatusCode: 404}, codes))
}

func TestContextError(t *testing.T) {
	var err error
	assert.False(t, ContextError(context.Background(), &err))
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, ContextError(ctx, &err))
	assert.Equal(t, context.Canceled, err)

	err = errors.New("earlier")
	assert.True(t, ContextError(ctx, &err))
	assert.EqualError(t, err, "earlier")
}
