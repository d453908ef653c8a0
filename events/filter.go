package events

import (
	"context"
	"sync"

	"github.com/pcloudkit/pcloud/api"
)

// Source is anything events can be pulled from.  Stream and Stage
// both satisfy it so stages can be chained.
type Source[T any] interface {
	Next(ctx context.Context) (T, bool)
	Close()
}

// Check interfaces
var (
	_ Source[api.DiffEntry] = (*Stream)(nil)
	_ Source[api.DiffEntry] = (*Stage[api.DiffEntry])(nil)
)

// Stage forwards the elements of a Source which match a predicate
type Stage[T any] struct {
	src     Source[T]
	pred    func(T) bool
	out     chan T
	cancel  context.CancelFunc
	closing chan struct{}
	once    sync.Once
	done    chan struct{}
}

// queueSize is the capacity of the queue behind src if it has one,
// else DefaultQueueSize
func queueSize[T any](src Source[T]) int {
	if q, ok := src.(interface{ C() <-chan T }); ok {
		if n := cap(q.C()); n > 0 {
			return n
		}
	}
	return DefaultQueueSize
}

// Filter starts a Stage reading src and forwarding, in order, only
// the elements for which pred returns true.  Its queue has the same
// capacity as the queue of src, so a chain stays within one page.
//
// Closing the Stage stops it reading src but does not close src.
func Filter[T any](src Source[T], pred func(T) bool) *Stage[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stage[T]{
		src:     src,
		pred:    pred,
		out:     make(chan T, queueSize(src)),
		cancel:  cancel,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *Stage[T]) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)
	for {
		v, ok := s.src.Next(ctx)
		if !ok {
			return
		}
		if !s.pred(v) {
			continue
		}
		select {
		case <-s.closing:
			return
		default:
		}
		select {
		case s.out <- v:
		case <-s.closing:
			return
		}
	}
}

// Next returns the next matching element, false once the source is
// exhausted, the Stage is closed or ctx is done.
func (s *Stage[T]) Next(ctx context.Context) (v T, ok bool) {
	select {
	case <-s.closing:
		return v, false
	default:
	}
	select {
	case v, ok = <-s.out:
		return v, ok
	case <-s.closing:
	case <-ctx.Done():
	}
	return v, false
}

// C returns the output queue.  It is closed when the Stage stops.
func (s *Stage[T]) C() <-chan T {
	return s.out
}

// Close stops the Stage.  The source is left running and will stall
// once nothing drains it.
func (s *Stage[T]) Close() {
	s.once.Do(func() {
		close(s.closing)
		s.cancel()
	})
}

// Done is closed once the Stage has stopped
func (s *Stage[T]) Done() <-chan struct{} {
	return s.done
}

// ByKind matches events of any of the given kinds
func ByKind(kinds ...api.EventKind) func(api.DiffEntry) bool {
	set := make(map[api.EventKind]struct{}, len(kinds))
	for _, kind := range kinds {
		set[kind] = struct{}{}
	}
	return func(e api.DiffEntry) bool {
		_, found := set[e.Event]
		return found
	}
}

// InFolder matches events about items directly inside folderID, about
// the folder itself or about shares of it.
func InFolder(folderID uint64) func(api.DiffEntry) bool {
	return func(e api.DiffEntry) bool {
		if e.Metadata != nil {
			if e.Metadata.ParentFolderID == folderID {
				return true
			}
			if e.Metadata.IsFolder && e.Metadata.FolderID == folderID {
				return true
			}
		}
		return e.Share != nil && e.Share.FolderID == folderID
	}
}
