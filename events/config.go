package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/pcloudkit/pcloud/api"
)

// DefaultQueueSize is the capacity of an output queue when no Limit
// is set.  pcloud returns about 100 entries per call without a limit.
const DefaultQueueSize = 128

// MaxQueueSize caps the capacity of an output queue whatever the
// Limit asked for
const MaxQueueSize = 10000

// Config describes where a stream starts and how each /diff call is
// made.
//
// StartAfter and LastN only apply while there is no cursor, which in
// practice means the first call of a stream started without
// StartCursor.  If StartCursor and StartAfter are both set, the cursor
// wins and after is never sent.
type Config struct {
	StartCursor  *uint64       // resume after this diffid
	StartAfter   *time.Time    // only events generated after this time
	LastN        *uint64       // only the last N events
	Block        bool          // long poll until an event arrives, needs a cursor
	BlockTimeout time.Duration // bound on a single call, 0 for none
	Limit        *uint64       // max entries per call, also sizes the queue
}

// Uint64 returns a pointer to v for use in Config
func Uint64(v uint64) *uint64 {
	return &v
}

// Time returns a pointer to t for use in Config
func Time(t time.Time) *time.Time {
	return &t
}

// QueueSize returns the capacity for the output queue, Limit clamped
// to MaxQueueSize
func (c Config) QueueSize() int {
	switch {
	case c.Limit == nil || *c.Limit == 0:
		return DefaultQueueSize
	case *c.Limit > MaxQueueSize:
		return MaxQueueSize
	}
	return int(*c.Limit)
}

// HasCursor is true if the next call resumes from a cursor
func (c Config) HasCursor() bool {
	return c.StartCursor != nil
}

// withCursor returns the config for a call resuming after cursor
func (c Config) withCursor(cursor uint64) Config {
	c.StartCursor = Uint64(cursor)
	c.StartAfter = nil
	c.LastN = nil
	return c
}

// String describes the config for logging
func (c Config) String() string {
	var parts []string
	if c.StartCursor != nil {
		parts = append(parts, fmt.Sprintf("diffid=%d", *c.StartCursor))
	}
	if c.StartAfter != nil {
		parts = append(parts, fmt.Sprintf("after=%q", api.FormatTime(*c.StartAfter)))
	}
	if c.LastN != nil {
		parts = append(parts, fmt.Sprintf("last=%d", *c.LastN))
	}
	if c.Limit != nil {
		parts = append(parts, fmt.Sprintf("limit=%d", *c.Limit))
	}
	if c.Block {
		parts = append(parts, fmt.Sprintf("block=%v", c.BlockTimeout))
	}
	return strings.Join(parts, " ")
}
