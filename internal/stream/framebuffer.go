package stream

import (
	"strings"
	"sync"
	"time"
)

// DefaultFlushInterval approximates a display refresh cycle. Deltas arriving
// faster than this are coalesced into a single publish.
const DefaultFlushInterval = 33 * time.Millisecond

// FrameBuffer decouples the rate at which deltas arrive from the rate at which
// the display is updated. Append concatenates into the accumulation buffer
// immediately and schedules at most one publish per flush interval; the
// published snapshot is always a prefix of the authoritative value and lags it
// by at most one interval. Committing a finished message must read FullText,
// never the snapshot, so a final unflushed delta is not lost.
type FrameBuffer struct {
	interval time.Duration
	publish  func(text string)

	mu       sync.Mutex
	buf      strings.Builder
	snapshot string
	timer    *time.Timer
	gen      uint64
}

// NewFrameBuffer creates a frame buffer publishing coalesced snapshots through
// publish. An interval of zero or less falls back to DefaultFlushInterval.
func NewFrameBuffer(interval time.Duration, publish func(string)) *FrameBuffer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &FrameBuffer{interval: interval, publish: publish}
}

// Append adds text to the accumulation buffer synchronously. If no publish is
// pending, one is scheduled for the end of the current flush interval; appends
// landing before it fires are folded into the same publish.
func (b *FrameBuffer) Append(text string) {
	b.mu.Lock()
	b.buf.WriteString(text)
	if b.timer == nil {
		gen := b.gen
		b.timer = time.AfterFunc(b.interval, func() { b.flush(gen) })
	}
	b.mu.Unlock()
}

func (b *FrameBuffer) flush(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		// Cleared after this flush was scheduled.
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.snapshot = b.buf.String()
	text := b.snapshot
	publish := b.publish
	b.mu.Unlock()

	if publish != nil {
		publish(text)
	}
}

// FullText returns the authoritative accumulated value, whether or not it has
// been published yet.
func (b *FrameBuffer) FullText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Snapshot returns the last published display value.
func (b *FrameBuffer) Snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

// Clear resets both the buffer and the snapshot and cancels any pending
// publish.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.buf.Reset()
	b.snapshot = ""
	b.mu.Unlock()
}
