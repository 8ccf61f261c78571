// Package ring implements the bounded byte queues that mediate every byte
// transfer in the bridge.
//
// A Buffer holds at most C bytes in C+1 backing slots. One slot is
// permanently sacrificed so that two cursors distinguish "empty" from
// "full" without a separate counter:
//
//	          head                    tail
//	           │                       │
//	           ▼                       ▼
//	┌────┬────┬────┬────┬────┬────┬────┬────┬────┐
//	│    │    │ d0 │ d1 │ d2 │ d3 │    │    │    │   C+1 slots
//	└────┴────┴────┴────┴────┴────┴────┴────┴────┘
//	  free       occupied [head,tail)      free
//
// head == tail means empty; tail may never advance onto head. Occupancy is
// (tail - head) mod (C+1) and always lies in [0, C].
//
// # Signals
//
// Each buffer publishes two conditions, "has data" (occupancy > 0) and
// "has space" (occupancy < C), as capacity-1 token channels. A token is
// deposited when the condition holds and withdrawn when it does not, inside
// the same mutex hold as the cursor mutation it reflects, so a waiter never
// observes a signal stale relative to the cursors. Each channel is built for
// exactly one waiter.
//
// # Concurrency
//
// All operations are safe for exactly one producer goroutine (Space, Commit)
// and one consumer goroutine (Data, Consume) running concurrently. No
// additional writers are supported.
package ring

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/smnsjas/go-comproxy/logging"
)

// Anomaly conditions reported when a caller over-requests a cursor move.
// Both are recoverable: the move is clamped and the cursors stay valid.
var (
	ErrOverrun  = errors.New("commit exceeds writable run")
	ErrUnderrun = errors.New("consume exceeds readable run")
)

// Buffer is a fixed-capacity circular byte queue.
type Buffer struct {
	mu   sync.Mutex
	buf  []byte // capacity+1 slots
	head int    // first occupied slot
	tail int    // first free slot

	hasData  chan struct{}
	hasSpace chan struct{}

	log *slog.Logger
}

// New creates a Buffer holding up to capacity bytes. A nil logger disables
// anomaly logging. New panics if capacity is less than 1.
func New(capacity int, log *slog.Logger) *Buffer {
	if capacity < 1 {
		panic("ring: capacity must be at least 1")
	}
	if log == nil {
		log = logging.Discard()
	}
	b := &Buffer{
		buf:      make([]byte, capacity+1),
		hasData:  make(chan struct{}, 1),
		hasSpace: make(chan struct{}, 1),
		log:      log,
	}
	b.mu.Lock()
	b.publishLocked()
	b.mu.Unlock()
	return b
}

// Capacity returns the usable capacity C.
func (b *Buffer) Capacity() int {
	return len(b.buf) - 1
}

// Buffered returns the total number of occupied bytes.
func (b *Buffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferedLocked()
}

// Free returns the total number of bytes that can still be committed.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Capacity() - b.bufferedLocked()
}

// Data returns the next contiguous readable run. The run is owned by the
// consumer until it passes the corresponding count to Consume. An empty
// slice means the buffer is empty.
func (b *Buffer) Data() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf[b.head : b.head+b.dataRunLocked()]
}

// Space returns the next contiguous writable run. The run is owned by the
// producer until it passes the corresponding count to Commit. An empty
// slice means the buffer is full.
func (b *Buffer) Space() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf[b.tail : b.tail+b.spaceRunLocked()]
}

// Commit marks n newly written bytes readable and returns the count
// actually applied. n is clamped to the writable run; a clamp is logged as
// an overrun anomaly but never corrupts the cursors.
func (b *Buffer) Commit(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	run := b.spaceRunLocked()
	if n > run {
		b.log.Warn("ring anomaly", "err", ErrOverrun, "requested", n, "writable", run)
		n = run
	}
	if n < 0 {
		n = 0
	}
	b.tail += n
	if b.tail == len(b.buf) {
		b.tail = 0
	}
	b.publishLocked()
	return n
}

// Consume marks n bytes freed and returns the count actually applied. n is
// clamped to the readable run; a clamp is logged as an underrun anomaly but
// never corrupts the cursors.
func (b *Buffer) Consume(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	run := b.dataRunLocked()
	if n > run {
		b.log.Warn("ring anomaly", "err", ErrUnderrun, "requested", n, "readable", run)
		n = run
	}
	if n < 0 {
		n = 0
	}
	b.head += n
	if b.head == len(b.buf) {
		b.head = 0
	}
	b.publishLocked()
	return n
}

// HasData returns the "has data" token channel. A receivable token means
// occupancy was nonzero at publication time. The channel supports exactly
// one waiter.
func (b *Buffer) HasData() <-chan struct{} {
	return b.hasData
}

// HasSpace returns the "has space" token channel. A receivable token means
// occupancy was below capacity at publication time. The channel supports
// exactly one waiter.
func (b *Buffer) HasSpace() <-chan struct{} {
	return b.hasSpace
}

func (b *Buffer) bufferedLocked() int {
	n := b.tail - b.head
	if n < 0 {
		n += len(b.buf)
	}
	return n
}

// dataRunLocked is the length of the contiguous readable run at head. Data
// wrapped past the end of the backing slice is exposed on the next call
// after the run up to the wrap point is consumed.
func (b *Buffer) dataRunLocked() int {
	if b.tail >= b.head {
		return b.tail - b.head
	}
	return len(b.buf) - b.head
}

// spaceRunLocked is the length of the contiguous writable run at tail,
// keeping one slot in reserve so tail never lands on head.
func (b *Buffer) spaceRunLocked() int {
	if b.tail >= b.head {
		run := len(b.buf) - b.tail
		if b.head == 0 {
			run--
		}
		return run
	}
	return b.head - b.tail - 1
}

// publishLocked refreshes both token channels to match current occupancy.
// Deposits and withdrawals are non-blocking; with capacity-1 channels the
// net effect is purely level-setting.
func (b *Buffer) publishLocked() {
	if b.bufferedLocked() > 0 {
		select {
		case b.hasData <- struct{}{}:
		default:
		}
	} else {
		select {
		case <-b.hasData:
		default:
		}
	}
	if b.bufferedLocked() < b.Capacity() {
		select {
		case b.hasSpace <- struct{}{}:
		default:
		}
	} else {
		select {
		case <-b.hasSpace:
		default:
		}
	}
}
