package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pcloudkit/pcloud/api"
	"github.com/pcloudkit/pcloud/lib/log"
	"github.com/pcloudkit/pcloud/lib/neterrors"
	"github.com/pcloudkit/pcloud/lib/rest"
)

// Fetcher makes one /diff call described by cfg.
//
// Errors returned should be a *FetchError so the stream can tell a
// timeout from a fatal error.  Anything else is treated as fatal.
type Fetcher interface {
	Fetch(ctx context.Context, cfg Config) (*api.Diff, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, cfg Config) (*api.Diff, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, cfg Config) (*api.Diff, error) {
	return f(ctx, cfg)
}

// ErrorKind classifies a FetchError
type ErrorKind int

// Error kinds
const (
	KindFatal   ErrorKind = iota // not retryable
	KindTimeout                  // retry at once with the same cursor
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// FetchError is returned by a Fetcher
type FetchError struct {
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("diff %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout wraps err as a retryable timeout
func Timeout(err error) error {
	return &FetchError{Kind: KindTimeout, Err: err}
}

// Fatal wraps err as a fatal error
func Fatal(err error) error {
	return &FetchError{Kind: KindFatal, Err: err}
}

// IsTimeout returns true if err is a FetchError of kind KindTimeout
func IsTimeout(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.Kind == KindTimeout
}

// classify turns an error from the transport or the result envelope
// into a FetchError
func classify(err error) error {
	if err == nil {
		return nil
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	if neterrors.IsTimeout(err) {
		return Timeout(err)
	}
	return Fatal(err)
}

// Caller makes a JSON API call.  *rest.Client satisfies it.
type Caller interface {
	CallJSON(ctx context.Context, opts *rest.Opts, request interface{}, response interface{}) (*http.Response, error)
}

// DiffFetcher fetches batches from the /diff endpoint
type DiffFetcher struct {
	srv Caller
}

// NewDiffFetcher makes a DiffFetcher calling srv, which should have
// its root and credentials set.
func NewDiffFetcher(srv Caller) *DiffFetcher {
	return &DiffFetcher{srv: srv}
}

// Parameters returns the query parameters for a /diff call with cfg
func Parameters(cfg Config) url.Values {
	values := url.Values{}
	if cfg.StartCursor != nil {
		values.Set("diffid", strconv.FormatUint(*cfg.StartCursor, 10))
	} else if cfg.StartAfter != nil {
		values.Set("after", api.FormatTime(*cfg.StartAfter))
	}
	if cfg.LastN != nil {
		values.Set("last", strconv.FormatUint(*cfg.LastN, 10))
	}
	if cfg.Limit != nil {
		values.Set("limit", strconv.FormatUint(*cfg.Limit, 10))
	}
	// the server only blocks when given a diffid
	if cfg.Block && cfg.StartCursor != nil {
		values.Set("block", "1")
	}
	return values
}

// Fetch makes one /diff call
//
// Entries at or below the requested cursor are logged and dropped.
func (f *DiffFetcher) Fetch(ctx context.Context, cfg Config) (*api.Diff, error) {
	opts := rest.Opts{
		Method:     "GET",
		Path:       "/diff",
		Parameters: Parameters(cfg),
		Timeout:    cfg.BlockTimeout,
	}
	var result api.Diff
	_, err := f.srv.CallJSON(ctx, &opts, nil, &result)
	err = result.Error.Update(err)
	if err != nil {
		return nil, classify(err)
	}
	if cfg.StartCursor != nil {
		result.Entries = dropSeen(result.Entries, *cfg.StartCursor)
	}
	return &result, nil
}

// dropSeen removes entries with a diffid at or below cursor
func dropSeen(entries []api.DiffEntry, cursor uint64) []api.DiffEntry {
	kept := entries[:0]
	for _, entry := range entries {
		if entry.DiffID <= cursor {
			log.Debugf("diff", "Dropping already seen event %v (cursor %d)", &entry, cursor)
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}
