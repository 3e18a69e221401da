package stream

import "fmt"

// Reassembler releases fragments strictly in sequence order regardless of
// arrival order. Sequenced fragments are parked in a pending table until the
// gap below them closes; unsequenced fragments are emitted immediately. The
// expected counter starts at 1 and is incremented exactly once per released
// fragment.
type Reassembler struct {
	next     int
	pending  map[int]Fragment
	maxAhead int
	emit     func(Fragment)
}

// NewReassembler creates a reassembler emitting released fragments through
// emit. maxAhead bounds how far past the expected counter a fragment may be
// parked; offering one further ahead returns an error so the session can fail
// instead of buffering without limit. A maxAhead of zero or less means
// unbounded.
func NewReassembler(maxAhead int, emit func(Fragment)) *Reassembler {
	return &Reassembler{
		next:     1,
		pending:  make(map[int]Fragment),
		maxAhead: maxAhead,
		emit:     emit,
	}
}

// Offer accepts one fragment and runs a drain pass: while the pending table
// holds the expected sequence number, that fragment is released and the counter
// advances. A duplicate sequence number overwrites the parked entry; a sequence
// number below the counter belongs to a slot already released and is dropped.
func (r *Reassembler) Offer(f Fragment) error {
	if f.Seq == 0 {
		r.emit(f)
		return nil
	}
	if f.Seq < r.next {
		return nil
	}
	if r.maxAhead > 0 && f.Seq > r.next+r.maxAhead {
		return fmt.Errorf("fragment %d exceeds reorder window (expected %d, max ahead %d)", f.Seq, r.next, r.maxAhead)
	}

	r.pending[f.Seq] = f
	for {
		nf, ok := r.pending[r.next]
		if !ok {
			return nil
		}
		delete(r.pending, r.next)
		r.next++
		r.emit(nf)
	}
}

// Pending reports how many fragments are parked waiting for a gap to close. A
// non-zero value at session end means a gap never closed; the session timeout
// is the only backstop against that.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// Reset clears the pending table and rewinds the expected counter for a new
// session.
func (r *Reassembler) Reset() {
	r.next = 1
	clear(r.pending)
}
