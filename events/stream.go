// Package events turns the pcloud /diff endpoint into a continuous
// stream of change events.
//
// A Stream repeatedly calls a Fetcher with an advancing cursor and
// publishes each new event into a bounded queue.  A consumer that
// stops pulling stalls the stream once the queue is full.  Timeouts
// are retried at once with the same cursor, any other error ends the
// stream.  Stages made with Filter compose on top of a Stream.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/pcloudkit/pcloud/api"
	"github.com/pcloudkit/pcloud/lib/log"
)

// ErrStreamClosed is returned by Recv once the stream has ended
// without a fatal error.
var ErrStreamClosed = errors.New("event stream closed")

// ErrNoBatch is the cause of the fatal error ending a stream whose
// Fetcher returned neither a batch nor an error
var ErrNoBatch = errors.New("fetcher returned no batch")

// State of the stream driver
type State int

// States of the stream driver
const (
	StateInit State = iota
	StatePolling
	StatePublishing
	StateClosed
)

var stateNames = []string{
	StateInit:       "init",
	StatePolling:    "polling",
	StatePublishing: "publishing",
	StateClosed:     "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Option configures a Stream
type Option func(*Stream)

// WithMetrics records the stream's activity in m
func WithMetrics(m *Metrics) Option {
	return func(s *Stream) {
		s.metrics = m
	}
}

// WithName sets the name used in logs and metric labels
func WithName(name string) Option {
	return func(s *Stream) {
		s.name = name
	}
}

// Stream is a running event stream
//
// Only the driver goroutine writes the cursor.  Consumers pull with
// Next or read C and stop the stream with Close.
type Stream struct {
	name    string
	fetcher Fetcher
	cfg     Config
	metrics *Metrics
	out     chan api.DiffEntry
	cancel  context.CancelFunc
	closing chan struct{} // closed by Close
	once    sync.Once
	done    chan struct{} // closed when the driver has stopped

	mu        sync.Mutex
	state     State
	err       error
	cursor    uint64
	hasCursor bool
}

// Start starts streaming events from f described by cfg
//
// The stream runs until ctx is cancelled, Close is called or f
// returns a fatal error.
func Start(ctx context.Context, f Fetcher, cfg Config, opts ...Option) *Stream {
	s := &Stream{
		name:    "events",
		fetcher: f,
		cfg:     cfg,
		out:     make(chan api.DiffEntry, cfg.QueueSize()),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.StartCursor != nil {
		s.cursor = *cfg.StartCursor
		s.hasCursor = true
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return s
}

// String returns the name of the stream
func (s *Stream) String() string {
	return s.name
}

// Next returns the next event, waiting until one is available.
//
// It returns false once the stream has ended, Close has been called
// or ctx is done.
func (s *Stream) Next(ctx context.Context) (api.DiffEntry, bool) {
	select {
	case <-s.closing:
		return api.DiffEntry{}, false
	default:
	}
	select {
	case entry, ok := <-s.out:
		return entry, ok
	case <-s.closing:
	case <-ctx.Done():
	}
	return api.DiffEntry{}, false
}

// Recv is like Next but says why there are no more events: ctx's
// error, the fatal error which stopped the stream or ErrStreamClosed.
func (s *Stream) Recv(ctx context.Context) (api.DiffEntry, error) {
	entry, ok := s.Next(ctx)
	if ok {
		return entry, nil
	}
	if err := ctx.Err(); err != nil {
		return entry, err
	}
	if err := s.Err(); err != nil {
		return entry, err
	}
	return entry, ErrStreamClosed
}

// C returns the output queue.  It is closed when the stream ends.
func (s *Stream) C() <-chan api.DiffEntry {
	return s.out
}

// Close stops the stream.
//
// The driver notices at its next enqueue or when the call in flight
// returns, which is cancelled.  Nothing fetched after Close is
// published.  Use Done to wait for the driver to finish.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.closing)
		s.cancel()
	})
}

// Done is closed once the stream has stopped
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error which stopped the stream, or nil if it
// is still running or was stopped cleanly.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cursor returns the diffid the stream will resume from and whether
// it has one yet.  Events up to it have all been queued.
func (s *Stream) Cursor() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor
}

// State returns the state of the driver
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// closed returns true if Close has been called
func (s *Stream) closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// run is the driver loop
func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)
	defer s.cancel()

	cfg := s.cfg
	cursor, hasCursor := s.Cursor()
	for {
		if hasCursor {
			cfg = cfg.withCursor(cursor)
		}
		s.setState(StatePolling)
		log.Debugf(s, "Fetching %v", cfg)
		batch, err := s.fetcher.Fetch(ctx, cfg)
		if s.closed() || ctx.Err() != nil {
			log.Debugf(s, "Closed by consumer")
			s.stop(nil)
			return
		}
		if err == nil && batch == nil {
			err = Fatal(ErrNoBatch)
		}
		s.metrics.onFetch(s.name, err)
		if err != nil {
			if IsTimeout(err) {
				log.Debugf(s, "Poll timed out, retrying: %v", err)
				continue
			}
			log.Logf(s, "Stopping event stream: %v", err)
			s.stop(err)
			return
		}

		s.setState(StatePublishing)
		if len(batch.Entries) > 0 {
			log.Debugf(s, "Received %d events", len(batch.Entries))
		}
		next, ok := s.publish(ctx, batch.Entries, cursor, hasCursor)
		if !ok {
			log.Debugf(s, "Closed by consumer")
			s.stop(nil)
			return
		}
		if batch.DiffID > next {
			next = batch.DiffID
		}
		cursor, hasCursor = next, true
		s.mu.Lock()
		s.cursor, s.hasCursor = cursor, hasCursor
		s.mu.Unlock()
		s.metrics.onCursor(s.name, cursor)
	}
}

// publish queues entries with a diffid above cursor in order.  It
// returns the highest diffid queued, or cursor if none, and false if
// the stream was closed.
func (s *Stream) publish(ctx context.Context, entries []api.DiffEntry, cursor uint64, hasCursor bool) (uint64, bool) {
	for i := range entries {
		entry := entries[i]
		if hasCursor && entry.DiffID <= cursor {
			log.Debugf(s, "Dropping duplicate event %v (cursor %d)", &entry, cursor)
			s.metrics.onDrop(s.name)
			continue
		}
		if s.closed() {
			return cursor, false
		}
		select {
		case s.out <- entry:
		case <-s.closing:
			return cursor, false
		case <-ctx.Done():
			return cursor, false
		}
		log.Debugf(s, "Published event %v", &entry)
		s.metrics.onPublish(s.name, string(entry.Event))
		cursor, hasCursor = entry.DiffID, true
	}
	return cursor, true
}

// stop records why the stream stopped
func (s *Stream) stop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.err = err
}
