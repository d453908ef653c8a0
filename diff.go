package pcloud

import (
	"context"
	"time"

	"github.com/pcloudkit/pcloud/api"
	"github.com/pcloudkit/pcloud/events"
	"github.com/pcloudkit/pcloud/lib/log"
)

// DefaultBlockTimeout bounds blocking calls of a Stream when neither
// BlockTimeout nor the HTTP timeout is set
const DefaultBlockTimeout = time.Minute

// DiffRequest builds a call to /diff
//
// See https://docs.pcloud.com/methods/general/diff.html
type DiffRequest struct {
	c   *Client
	cfg events.Config
}

// Diff starts building a /diff request
func (c *Client) Diff() *DiffRequest {
	return &DiffRequest{c: c}
}

// AfterDiffID asks only for events after diffID
func (r *DiffRequest) AfterDiffID(diffID uint64) *DiffRequest {
	r.cfg.StartCursor = events.Uint64(diffID)
	return r
}

// After asks only for events generated after t.  It is ignored once
// a diffid is known.
func (r *DiffRequest) After(t time.Time) *DiffRequest {
	r.cfg.StartAfter = events.Time(t)
	return r
}

// OnlyLast asks for the last n events
func (r *DiffRequest) OnlyLast(n uint64) *DiffRequest {
	r.cfg.LastN = events.Uint64(n)
	return r
}

// Block makes the server hold the call until an event arrives.  It
// only has an effect with a diffid.
func (r *DiffRequest) Block(block bool) *DiffRequest {
	r.cfg.Block = block
	return r
}

// BlockTimeout bounds each call.  Set it when blocking or a call may
// never return.
func (r *DiffRequest) BlockTimeout(d time.Duration) *DiffRequest {
	r.cfg.BlockTimeout = d
	return r
}

// Limit returns no more than n entries per call.  Without it the
// server returns about 100.
func (r *DiffRequest) Limit(n uint64) *DiffRequest {
	r.cfg.Limit = events.Uint64(n)
	return r
}

// Config returns the stream config built so far
func (r *DiffRequest) Config() events.Config {
	return r.cfg
}

// Get makes a single /diff call.  Not all events may fit in one call,
// pass the returned DiffID to AfterDiffID to get the next batch.
func (r *DiffRequest) Get(ctx context.Context) (*api.Diff, error) {
	return r.c.Fetcher().Fetch(ctx, r.cfg)
}

// Stream streams events until the returned stream is closed, ctx is
// cancelled or a call fails with anything but a timeout.  Calls block
// once a diffid is known.
func (r *DiffRequest) Stream(ctx context.Context, opts ...events.Option) *events.Stream {
	return events.Start(ctx, r.c.Fetcher(), r.streamConfig(), opts...)
}

// streamConfig is the config for a Stream, which always blocks
func (r *DiffRequest) streamConfig() events.Config {
	cfg := r.cfg
	cfg.Block = true
	if cfg.BlockTimeout == 0 && r.c.opt.HTTP.Timeout == 0 {
		log.Logf(r.c, "No block timeout set, using %v", DefaultBlockTimeout)
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	return cfg
}
