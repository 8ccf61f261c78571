//go:build linux

package device

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/iceber/iouring-go"
	"golang.org/x/sys/unix"
)

// uringDepth is the submission queue depth. The bridge keeps at most one
// operation per direction in flight, so a shallow queue is plenty.
const uringDepth = 8

// uringChannel drives a file descriptor through io_uring. Completions are
// delivered by the kernel, so operations genuinely complete immediately or
// later without worker threads of our own; two small forwarders adapt the
// ring's result channels to the Channel contract.
type uringChannel struct {
	iour *iouring.IOURing
	fd   int

	rxSub chan iouring.Result
	txSub chan iouring.Result

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

// OpenURing opens path (a tty, FIFO, or other pollable file) as a Channel
// backed by io_uring. The descriptor is opened without becoming the
// controlling terminal and without blocking on carrier, then restored to
// blocking mode for the ring to manage.
func OpenURing(path string) (Channel, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("restore blocking mode: %w", err)
	}
	iour, err := iouring.New(uringDepth)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("io_uring init: %w", err)
	}

	u := &uringChannel{
		iour:   iour,
		fd:     fd,
		rxSub:  make(chan iouring.Result, 1),
		txSub:  make(chan iouring.Result, 1),
		rxDone: make(chan Result, 1),
		txDone: make(chan Result, 1),
		evDone: make(chan EventResult, 1),
		quit:   make(chan struct{}),
	}
	go u.forward(u.rxSub, u.rxDone, &u.rxBusy, true)
	go u.forward(u.txSub, u.txDone, &u.txBusy, false)
	return u, nil
}

// BeginRead implements Channel.
func (u *uringChannel) BeginRead(buf []byte) error {
	if u.closed() {
		return ErrClosed
	}
	if !u.rxBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if _, err := u.iour.SubmitRequest(iouring.Read(u.fd, buf), u.rxSub); err != nil {
		u.rxBusy.Store(false)
		return fmt.Errorf("submit read: %w", err)
	}
	return nil
}

// ReadDone implements Channel.
func (u *uringChannel) ReadDone() <-chan Result {
	return u.rxDone
}

// BeginWrite implements Channel.
func (u *uringChannel) BeginWrite(buf []byte) error {
	if u.closed() {
		return ErrClosed
	}
	if !u.txBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if _, err := u.iour.SubmitRequest(iouring.Write(u.fd, buf), u.txSub); err != nil {
		u.txBusy.Store(false)
		return fmt.Errorf("submit write: %w", err)
	}
	return nil
}

// WriteDone implements Channel.
func (u *uringChannel) WriteDone() <-chan Result {
	return u.txDone
}

// BeginWait implements Channel. The ring reports no readiness events to
// the bridge; the wait is accepted and never completes.
func (u *uringChannel) BeginWait() error {
	if u.closed() {
		return ErrClosed
	}
	if !u.evBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

// WaitDone implements Channel.
func (u *uringChannel) WaitDone() <-chan EventResult {
	return u.evDone
}

// Close implements Channel. Closing the descriptor resolves in-flight
// submissions; the ring is shut down afterwards.
func (u *uringChannel) Close() error {
	u.closeOnce.Do(func() {
		close(u.quit)
		u.closeErr = unix.Close(u.fd)
		if err := u.iour.Close(); err != nil && u.closeErr == nil {
			u.closeErr = err
		}
	})
	return u.closeErr
}

func (u *uringChannel) closed() bool {
	select {
	case <-u.quit:
		return true
	default:
		return false
	}
}

// forward adapts ring completions to the Channel contract. A zero-length
// read on a stream-like descriptor means the peer is gone, so it surfaces
// as io.EOF rather than a benign zero.
func (u *uringChannel) forward(sub <-chan iouring.Result, done chan<- Result, busy *atomic.Bool, read bool) {
	for {
		select {
		case <-u.quit:
			return
		case res := <-sub:
			n, err := res.ReturnInt()
			if n < 0 {
				n = 0
			}
			if read && n == 0 && err == nil {
				err = io.EOF
			}
			busy.Store(false)
			done <- Result{N: n, Err: err}
		}
	}
}
