package events

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pcloudkit/pcloud/api"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errBoom = errors.New("boom")

type step struct {
	diff *api.Diff
	err  error
}

// scriptedFetcher returns steps in order then blocks until the
// context is cancelled
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls []Config
}

func (f *scriptedFetcher) Fetch(ctx context.Context, cfg Config) (*api.Diff, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cfg)
	n := len(f.calls)
	if n > len(f.steps) {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, Fatal(ctx.Err())
	}
	st := f.steps[n-1]
	f.mu.Unlock()
	return st.diff, st.err
}

func (f *scriptedFetcher) Calls() []Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Config(nil), f.calls...)
}

func (f *scriptedFetcher) NumCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func entry(id uint64) api.DiffEntry {
	return api.DiffEntry{
		DiffID:   id,
		Event:    api.EventCreateFile,
		Time:     api.Time(time.Unix(int64(id), 0)),
		Metadata: &api.Item{Name: "file.txt", ParentFolderID: 1, FileID: id},
	}
}

func batch(high uint64, ids ...uint64) *api.Diff {
	d := &api.Diff{DiffID: high}
	for _, id := range ids {
		d.Entries = append(d.Entries, entry(id))
	}
	return d
}

// pull reads n events from s failing the test if they don't arrive
func pull(t *testing.T, s Source[api.DiffEntry], n int) (ids []uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	for i := 0; i < n; i++ {
		e, ok := s.Next(ctx)
		require.True(t, ok, "event %d of %d missing", i+1, n)
		ids = append(ids, e.DiffID)
	}
	return ids
}

func waitDone(t *testing.T, done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for stream to stop")
	}
}

func TestConfigQueueSize(t *testing.T) {
	assert.Equal(t, DefaultQueueSize, Config{}.QueueSize())
	assert.Equal(t, DefaultQueueSize, Config{Limit: Uint64(0)}.QueueSize())
	assert.Equal(t, 4, Config{Limit: Uint64(4)}.QueueSize())
	assert.Equal(t, MaxQueueSize, Config{Limit: Uint64(MaxQueueSize)}.QueueSize())
	assert.Equal(t, MaxQueueSize, Config{Limit: Uint64(10000000000)}.QueueSize())
	assert.Equal(t, MaxQueueSize, Config{Limit: Uint64(math.MaxUint64)}.QueueSize())
}

func TestConfigWithCursor(t *testing.T) {
	after := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{StartAfter: &after, LastN: Uint64(3), Limit: Uint64(10), Block: true, BlockTimeout: time.Minute}
	next := cfg.withCursor(42)
	assert.Equal(t, uint64(42), *next.StartCursor)
	assert.Nil(t, next.StartAfter)
	assert.Nil(t, next.LastN)
	assert.Equal(t, uint64(10), *next.Limit)
	assert.True(t, next.Block)
	assert.Equal(t, time.Minute, next.BlockTimeout)
	// original untouched
	assert.Nil(t, cfg.StartCursor)
	assert.NotNil(t, cfg.StartAfter)
	assert.Equal(t, `diffid=42 limit=10 block=1m0s`, next.String())
}

func TestStreamMonotonic(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{diff: batch(3, 1, 2, 3)},
		{diff: batch(4, 2, 3, 4)},
		{diff: batch(6, 6, 5, 6)},
		{diff: batch(6, 6)},
		{diff: batch(8, 7, 8)},
	}}
	s := Start(context.Background(), f, Config{Block: true})
	defer s.Close()

	assert.Equal(t, []uint64{1, 2, 3, 4, 6, 7, 8}, pull(t, s, 7))
	require.Eventually(t, func() bool { return f.NumCalls() == 6 }, waitFor, tick)
	calls := f.Calls()
	assert.Nil(t, calls[0].StartCursor)
	for i, want := range []uint64{3, 4, 6, 6, 8} {
		require.NotNil(t, calls[i+1].StartCursor)
		assert.Equal(t, want, *calls[i+1].StartCursor, "call %d", i+1)
	}
	cursor, ok := s.Cursor()
	assert.True(t, ok)
	assert.Equal(t, uint64(8), cursor)
}

func TestStreamEmptyBatchAdvancesCursor(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{diff: batch(15)},
		{diff: batch(16, 16)},
	}}
	s := Start(context.Background(), f, Config{StartCursor: Uint64(10), Block: true})
	defer s.Close()

	assert.Equal(t, []uint64{16}, pull(t, s, 1))
	require.Eventually(t, func() bool { return f.NumCalls() == 3 }, waitFor, tick)
	calls := f.Calls()
	assert.Equal(t, uint64(10), *calls[0].StartCursor)
	assert.Equal(t, uint64(15), *calls[1].StartCursor)
	assert.Equal(t, uint64(16), *calls[2].StartCursor)
}

func TestStreamFirstCallOnlyOptions(t *testing.T) {
	after := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &scriptedFetcher{steps: []step{
		{diff: batch(5)},
	}}
	s := Start(context.Background(), f, Config{StartAfter: &after, LastN: Uint64(2), Block: true})
	defer s.Close()

	require.Eventually(t, func() bool { return f.NumCalls() == 2 }, waitFor, tick)
	calls := f.Calls()
	assert.Nil(t, calls[0].StartCursor)
	assert.Equal(t, after, *calls[0].StartAfter)
	assert.Equal(t, uint64(2), *calls[0].LastN)
	assert.Equal(t, uint64(5), *calls[1].StartCursor)
	assert.Nil(t, calls[1].StartAfter)
	assert.Nil(t, calls[1].LastN)
}

// counterFetcher returns one new event per call, forever
type counterFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *counterFetcher) Fetch(ctx context.Context, cfg Config) (*api.Diff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id := uint64(f.calls)
	return batch(id, id), nil
}

func (f *counterFetcher) NumCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStreamBackpressure(t *testing.T) {
	f := &counterFetcher{}
	s := Start(context.Background(), f, Config{Limit: Uint64(4)})
	defer s.Close()

	require.Eventually(t, func() bool { return len(s.C()) == 4 && f.NumCalls() == 5 }, waitFor, tick)
	assert.Equal(t, 4, cap(s.C()))
	// the driver holds the 5th event and stalls
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 5, f.NumCalls())
	assert.Equal(t, 4, len(s.C()))
	assert.Equal(t, StatePublishing, s.State())

	assert.Equal(t, []uint64{1}, pull(t, s, 1))
	require.Eventually(t, func() bool { return f.NumCalls() == 6 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 6, f.NumCalls())
	assert.Equal(t, []uint64{2, 3, 4, 5, 6}, pull(t, s, 5))
}

func TestStreamTimeoutRetry(t *testing.T) {
	timeout := Timeout(context.DeadlineExceeded)
	f := &scriptedFetcher{steps: []step{
		{err: timeout},
		{err: timeout},
		{err: timeout},
		{diff: batch(8, 8)},
	}}
	s := Start(context.Background(), f, Config{StartCursor: Uint64(7), Block: true, BlockTimeout: time.Second})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	e, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), e.DiffID)
	assert.NoError(t, s.Err())

	require.Eventually(t, func() bool { return f.NumCalls() == 5 }, waitFor, tick)
	calls := f.Calls()
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint64(7), *calls[i].StartCursor, "call %d", i)
	}
	assert.Equal(t, uint64(8), *calls[4].StartCursor)
}

func TestStreamFatal(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{diff: batch(2, 1, 2)},
		{err: Fatal(errBoom)},
		{diff: batch(3, 3)},
	}}
	s := Start(context.Background(), f, Config{})

	assert.Equal(t, []uint64{1, 2}, pull(t, s, 2))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err := s.Recv(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
	assert.False(t, IsTimeout(err))
	waitDone(t, s.Done())
	assert.True(t, errors.Is(s.Err(), errBoom))
	assert.Equal(t, StateClosed, s.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, f.NumCalls())
	_, ok := <-s.C()
	assert.False(t, ok)
}

func TestStreamUnclassifiedErrorIsFatal(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{err: errBoom},
	}}
	s := Start(context.Background(), f, Config{})
	waitDone(t, s.Done())
	assert.Equal(t, errBoom, s.Err())
	assert.Equal(t, 1, f.NumCalls())
}

func TestStreamNilBatchIsFatal(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{diff: batch(1, 1)},
		{},
	}}
	s := Start(context.Background(), f, Config{})
	assert.Equal(t, []uint64{1}, pull(t, s, 1))
	waitDone(t, s.Done())
	require.Error(t, s.Err())
	assert.True(t, errors.Is(s.Err(), ErrNoBatch))
	assert.False(t, IsTimeout(s.Err()))
	assert.Equal(t, 2, f.NumCalls())
	cursor, ok := s.Cursor()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), cursor)
}

// blockingFetcher ignores the context and waits for release
type blockingFetcher struct {
	called  chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (f *blockingFetcher) Fetch(ctx context.Context, cfg Config) (*api.Diff, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	close(f.called)
	<-f.release
	return batch(1, 1), nil
}

func TestStreamCloseInFlight(t *testing.T) {
	f := &blockingFetcher{called: make(chan struct{}), release: make(chan struct{})}
	s := Start(context.Background(), f, Config{})

	<-f.called
	s.Close()
	s.Close()
	_, ok := s.Next(context.Background())
	assert.False(t, ok)

	close(f.release)
	waitDone(t, s.Done())
	var got []api.DiffEntry
	for e := range s.C() {
		got = append(got, e)
	}
	assert.Empty(t, got, "in flight batch must not be published after close")
	assert.NoError(t, s.Err())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, f.calls)

	_, err := s.Recv(context.Background())
	assert.Equal(t, ErrStreamClosed, err)
}

func TestStreamCloseWhileEnqueueBlocked(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{diff: batch(3, 1, 2, 3)},
	}}
	s := Start(context.Background(), f, Config{Limit: Uint64(1)})
	require.Eventually(t, func() bool { return len(s.C()) == 1 }, waitFor, tick)

	s.Close()
	waitDone(t, s.Done())
	assert.NoError(t, s.Err())
	assert.Equal(t, 1, f.NumCalls())
	// the cursor only moves once a whole batch is queued
	_, ok := s.Cursor()
	assert.False(t, ok)
}

func TestStreamContextCancel(t *testing.T) {
	f := &scriptedFetcher{}
	ctx, cancel := context.WithCancel(context.Background())
	s := Start(ctx, f, Config{StartCursor: Uint64(1), Block: true})
	require.Eventually(t, func() bool { return f.NumCalls() == 1 }, waitFor, tick)

	cancel()
	waitDone(t, s.Done())
	assert.NoError(t, s.Err())
	_, ok := s.Next(context.Background())
	assert.False(t, ok)
}

func TestStreamMetrics(t *testing.T) {
	m := NewMetrics("pcloud_test")
	f := &scriptedFetcher{steps: []step{
		{err: Timeout(context.DeadlineExceeded)},
		{diff: batch(3, 1, 2, 3)},
		{diff: batch(4, 3, 4)},
	}}
	s := Start(context.Background(), f, Config{}, WithMetrics(m), WithName("test"))
	defer s.Close()
	assert.Equal(t, "test", s.String())

	pull(t, s, 4)
	require.Eventually(t, func() bool { return f.NumCalls() == 4 }, waitFor, tick)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fetches.WithLabelValues("test", "timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fetches.WithLabelValues("test", "ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Published.WithLabelValues("test", string(api.EventCreateFile))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("test")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Cursor.WithLabelValues("test")))
	assert.Len(t, m.Collectors(), 4)
	assert.Nil(t, (*Metrics)(nil).Collectors())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
