// Package device defines the asynchronous endpoint the bridge drives and
// provides three backends for it: a serial port, a generic byte stream, and
// an io_uring file channel on Linux.
//
// # Operation model
//
// A Channel accepts at most one outstanding operation per direction (read,
// write, event wait). Begin calls never block: they either accept the
// operation, report ErrBusy, or report a hard submission failure. The
// outcome arrives on the direction's completion channel, which is buffered
// with capacity 1 so a backend can complete an operation before Begin even
// returns and so late completions never strand a worker.
//
// A read or write outcome with N == 0 and a nil error means the operation
// completed without moving bytes. That is not an error; it is also not
// re-signaled, so the caller is expected to retry on its own schedule.
// An outcome may also pair moved bytes with an error, as an io.Reader does
// on its final read; callers apply the bytes before acting on the failure.
//
// # Goroutine discipline
//
// Begin calls and completion receives are intended for a single driving
// goroutine. Backends may run internal workers, but those touch only the
// buffers handed to them and their own completion channels.
package device

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Sentinel conditions reported by channel backends.
var (
	// ErrBusy means the direction already has an operation in flight.
	ErrBusy = errors.New("operation already in flight")
	// ErrClosed means the channel was closed.
	ErrClosed = errors.New("channel closed")
	// ErrUnsupported means the backend is not available on this platform.
	ErrUnsupported = errors.New("backend not supported on this platform")
)

// Result is the resolved outcome of a read or write operation. N is valid
// even when Err is set: a stream backend forwards a read that returned its
// final bytes together with io.EOF as one completion.
type Result struct {
	N   int
	Err error
}

// Events is a bit set of readiness categories reported by an event wait.
type Events uint32

// Readiness categories. Readable and Writable prompt transfer attempts;
// the rest are line conditions surfaced for logging only.
const (
	EventReadable Events = 1 << iota
	EventWritable
	EventBreak
	EventLineError
	EventCTS
	EventDSR
	EventRing
	EventCarrier
)

var eventNames = []struct {
	bit  Events
	name string
}{
	{EventReadable, "readable"},
	{EventWritable, "writable"},
	{EventBreak, "break"},
	{EventLineError, "line-error"},
	{EventCTS, "cts"},
	{EventDSR, "dsr"},
	{EventRing, "ring"},
	{EventCarrier, "carrier"},
}

// String renders the set as "readable|cts" style labels.
func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, en := range eventNames {
		if e&en.bit != 0 {
			parts = append(parts, en.name)
		}
	}
	return strings.Join(parts, "|")
}

// EventResult is the resolved outcome of an event-wait operation.
type EventResult struct {
	Events Events
	Err    error
}

// Channel is an asynchronous duplex byte endpoint.
type Channel interface {
	// BeginRead starts a read into buf. The buffer must stay untouched by
	// the caller until the completion arrives on ReadDone.
	BeginRead(buf []byte) error
	// ReadDone delivers read completions.
	ReadDone() <-chan Result

	// BeginWrite starts a write of buf. The buffer must stay stable until
	// the completion arrives on WriteDone.
	BeginWrite(buf []byte) error
	// WriteDone delivers write completions.
	WriteDone() <-chan Result

	// BeginWait starts an event wait. Backends without event reporting
	// accept the wait and simply never complete it.
	BeginWait() error
	// WaitDone delivers event-wait completions.
	WaitDone() <-chan EventResult

	// Close tears the channel down and unblocks in-flight operations.
	Close() error
}

// Stream adapts a blocking io.ReadWriter into a Channel by running one
// worker goroutine per direction. If the underlying value implements
// io.Closer, Close closes it, which is also what unblocks workers stuck in
// a blocking call. It is the backend for pipes, sockets, child-process
// stdio, and test harnesses.
type Stream struct {
	rw     io.ReadWriter
	waitFn func(quit <-chan struct{}) (Events, error)
	stopFn func() error

	rxReq chan []byte
	txReq chan []byte
	evReq chan struct{}

	rxDone chan Result
	txDone chan Result
	evDone chan EventResult

	rxBusy atomic.Bool
	txBusy atomic.Bool
	evBusy atomic.Bool

	quit      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewStream returns a Channel over rw. Event waits on a plain stream never
// complete; transfer scheduling relies on queue signals and timeout
// retries.
func NewStream(rw io.ReadWriter) *Stream {
	return newStream(rw, nil, nil)
}

// newStream wires an optional event-wait function and close hook. waitFn
// blocks until it has events, fails, or observes quit closing.
func newStream(rw io.ReadWriter, waitFn func(quit <-chan struct{}) (Events, error), stopFn func() error) *Stream {
	s := &Stream{
		rw:     rw,
		waitFn: waitFn,
		stopFn: stopFn,
		rxReq:  make(chan []byte, 1),
		txReq:  make(chan []byte, 1),
		evReq:  make(chan struct{}, 1),
		rxDone: make(chan Result, 1),
		txDone: make(chan Result, 1),
		evDone: make(chan EventResult, 1),
		quit:   make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	if s.waitFn != nil {
		go s.waitLoop()
	}
	return s
}

// BeginRead implements Channel.
func (s *Stream) BeginRead(buf []byte) error {
	if s.closed() {
		return ErrClosed
	}
	if !s.rxBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	s.rxReq <- buf
	return nil
}

// ReadDone implements Channel.
func (s *Stream) ReadDone() <-chan Result {
	return s.rxDone
}

// BeginWrite implements Channel.
func (s *Stream) BeginWrite(buf []byte) error {
	if s.closed() {
		return ErrClosed
	}
	if !s.txBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	s.txReq <- buf
	return nil
}

// WriteDone implements Channel.
func (s *Stream) WriteDone() <-chan Result {
	return s.txDone
}

// BeginWait implements Channel.
func (s *Stream) BeginWait() error {
	if s.closed() {
		return ErrClosed
	}
	if !s.evBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	s.evReq <- struct{}{}
	return nil
}

// WaitDone implements Channel.
func (s *Stream) WaitDone() <-chan EventResult {
	return s.evDone
}

// Close implements Channel. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.stopFn != nil {
			s.closeErr = s.stopFn()
			return
		}
		if c, ok := s.rw.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}

func (s *Stream) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// readLoop services one read request at a time. The busy flag drops before
// the completion is delivered so the receiver can issue a follow-up
// immediately; with one outstanding operation per direction the buffered
// send below can never block.
func (s *Stream) readLoop() {
	for {
		select {
		case <-s.quit:
			return
		case buf := <-s.rxReq:
			n, err := s.rw.Read(buf)
			s.rxBusy.Store(false)
			s.rxDone <- Result{N: n, Err: err}
		}
	}
}

func (s *Stream) writeLoop() {
	for {
		select {
		case <-s.quit:
			return
		case buf := <-s.txReq:
			n, err := s.rw.Write(buf)
			s.txBusy.Store(false)
			s.txDone <- Result{N: n, Err: err}
		}
	}
}

func (s *Stream) waitLoop() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.evReq:
			ev, err := s.waitFn(s.quit)
			s.evBusy.Store(false)
			s.evDone <- EventResult{Events: ev, Err: err}
		}
	}
}
