package bridge

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/smnsjas/go-comproxy/device"
)

// fakeChannel scripts device completions for bridge tests. Begin calls
// record the request; tests deliver completions explicitly.
type fakeChannel struct {
	mu     sync.Mutex
	reads  [][]byte // buffers of pending reads, oldest first
	writes [][]byte // snapshots of begun writes, oldest first
	waits  int
	closed bool

	rxDone chan device.Result
	txDone chan device.Result
	evDone chan device.EventResult
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		rxDone: make(chan device.Result, 1),
		txDone: make(chan device.Result, 1),
		evDone: make(chan device.EventResult, 1),
	}
}

func (f *fakeChannel) BeginRead(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return device.ErrClosed
	}
	f.reads = append(f.reads, buf)
	return nil
}

func (f *fakeChannel) BeginWrite(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return device.ErrClosed
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeChannel) BeginWait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return device.ErrClosed
	}
	f.waits++
	return nil
}

func (f *fakeChannel) ReadDone() <-chan device.Result      { return f.rxDone }
func (f *fakeChannel) WriteDone() <-chan device.Result     { return f.txDone }
func (f *fakeChannel) WaitDone() <-chan device.EventResult { return f.evDone }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// completeRead fills the oldest pending read with p and delivers the
// completion.
func (f *fakeChannel) completeRead(t *testing.T, p []byte, err error) {
	t.Helper()
	f.mu.Lock()
	if len(f.reads) == 0 {
		f.mu.Unlock()
		t.Fatal("no pending device read")
	}
	buf := f.reads[0]
	f.reads = f.reads[1:]
	f.mu.Unlock()
	f.rxDone <- device.Result{N: copy(buf, p), Err: err}
}

// completeWrite acknowledges n bytes of the oldest pending write.
func (f *fakeChannel) completeWrite(t *testing.T, n int, err error) {
	t.Helper()
	f.mu.Lock()
	if len(f.writes) == 0 {
		f.mu.Unlock()
		t.Fatal("no pending device write")
	}
	f.writes = f.writes[1:]
	f.mu.Unlock()
	f.txDone <- device.Result{N: n, Err: err}
}

func (f *fakeChannel) pendingReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

func (f *fakeChannel) pendingWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeChannel) lastWrite(t *testing.T) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		t.Fatal("no pending device write")
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeChannel) waitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

// breakWait closes the event completion channel, simulating a failure
// of the wait machinery itself.
func (f *fakeChannel) breakWait() {
	close(f.evDone)
}

// testSession builds a session over a fake channel with streams that
// never carry data, for driving the driver directly.
func testSession(t *testing.T, capacity int) (*Session, *fakeChannel) {
	t.Helper()
	fake := newFakeChannel()
	in, _ := io.Pipe()
	s := NewSession(fake, Config{
		Input:    in,
		Output:   io.Discard,
		Capacity: capacity,
	})
	return s, fake
}

func TestDriverReceive(t *testing.T) {
	s, fake := testSession(t, 8)

	s.drv.pumpReceive()
	if got := fake.pendingReads(); got != 1 {
		t.Fatalf("pending reads = %d, want 1", got)
	}

	fake.completeRead(t, []byte("hello"), nil)
	s.drv.pumpReceive()

	if got := s.rxq.Buffered(); got != 5 {
		t.Errorf("rxq.Buffered() = %d, want 5", got)
	}
	if got := string(s.rxq.Data()); got != "hello" {
		t.Errorf("rxq data = %q, want %q", got, "hello")
	}
	if got := s.RxBytes(); got != 5 {
		t.Errorf("RxBytes() = %d, want 5", got)
	}
	// The direction reissues immediately with the remaining space.
	if got := fake.pendingReads(); got != 1 {
		t.Errorf("pending reads after resolve = %d, want 1", got)
	}
}

func TestDriverReceiveError(t *testing.T) {
	s, fake := testSession(t, 8)

	s.drv.pumpReceive()
	fake.completeRead(t, nil, errors.New("device unplugged"))
	s.drv.pumpReceive()

	if !s.deviceDone.Load() {
		t.Error("deviceDone not set after read error")
	}
	if got := fake.pendingReads(); got != 0 {
		t.Errorf("pending reads = %d, want 0 after failure", got)
	}
}

func TestDriverReceiveErrorKeepsData(t *testing.T) {
	s, fake := testSession(t, 8)

	s.drv.pumpReceive()
	fake.completeRead(t, []byte("final"), io.EOF)
	s.drv.pumpReceive()

	// The chunk delivered together with the failure still reaches the
	// queue.
	if got := string(s.rxq.Data()); got != "final" {
		t.Errorf("rxq data = %q, want %q", got, "final")
	}
	if got := s.RxBytes(); got != 5 {
		t.Errorf("RxBytes() = %d, want 5", got)
	}
	if !s.deviceDone.Load() {
		t.Error("deviceDone not set after read error")
	}
	if got := fake.pendingReads(); got != 0 {
		t.Errorf("pending reads = %d, want 0 after failure", got)
	}
}

func TestDriverReceiveZeroLengthStalls(t *testing.T) {
	s, fake := testSession(t, 8)

	s.drv.pumpReceive()
	fake.completeRead(t, nil, nil)
	s.drv.pumpReceive()

	// A zero-length completion leaves the direction idle. Only the
	// timeout retry rearms it.
	if got := fake.pendingReads(); got != 0 {
		t.Fatalf("pending reads after zero-length = %d, want 0", got)
	}
	if s.deviceDone.Load() {
		t.Fatal("zero-length completion must not mark the device done")
	}

	s.drv.retryIdle()
	if got := fake.pendingReads(); got != 1 {
		t.Errorf("pending reads after retry = %d, want 1", got)
	}
}

func TestDriverReceiveStopsWhenQueueFull(t *testing.T) {
	s, fake := testSession(t, 4)

	s.drv.pumpReceive()
	fake.completeRead(t, []byte("abcd"), nil)
	s.drv.pumpReceive()

	if got := s.rxq.Free(); got != 0 {
		t.Fatalf("rxq.Free() = %d, want 0", got)
	}
	if got := fake.pendingReads(); got != 0 {
		t.Errorf("pending reads with full queue = %d, want 0", got)
	}

	// Draining the queue lets the next pump call issue again.
	s.rxq.Consume(2)
	s.drv.pumpReceive()
	if got := fake.pendingReads(); got != 1 {
		t.Errorf("pending reads after drain = %d, want 1", got)
	}
}

func TestDriverTransmit(t *testing.T) {
	s, fake := testSession(t, 8)
	copy(s.txq.Space(), "abc")
	s.txq.Commit(3)

	s.drv.pumpTransmit()
	if got := fake.pendingWrites(); got != 1 {
		t.Fatalf("pending writes = %d, want 1", got)
	}
	if got := string(fake.lastWrite(t)); got != "abc" {
		t.Fatalf("write data = %q, want %q", got, "abc")
	}

	fake.completeWrite(t, 3, nil)
	s.drv.pumpTransmit()

	if got := s.txq.Buffered(); got != 0 {
		t.Errorf("txq.Buffered() = %d, want 0", got)
	}
	if got := s.TxBytes(); got != 3 {
		t.Errorf("TxBytes() = %d, want 3", got)
	}
	if got := fake.pendingWrites(); got != 0 {
		t.Errorf("pending writes with empty queue = %d, want 0", got)
	}
}

func TestDriverTransmitPartial(t *testing.T) {
	s, fake := testSession(t, 8)
	copy(s.txq.Space(), "abcde")
	s.txq.Commit(5)

	s.drv.pumpTransmit()
	fake.completeWrite(t, 2, nil)
	s.drv.pumpTransmit()

	// Only the acknowledged bytes leave the queue; the rest is reissued.
	if got := string(fake.lastWrite(t)); got != "cde" {
		t.Errorf("reissued write = %q, want %q", got, "cde")
	}
	if got := s.TxBytes(); got != 2 {
		t.Errorf("TxBytes() = %d, want 2", got)
	}
}

func TestDriverTransmitError(t *testing.T) {
	s, fake := testSession(t, 8)
	copy(s.txq.Space(), "abc")
	s.txq.Commit(3)

	s.drv.pumpTransmit()
	fake.completeWrite(t, 0, errors.New("device unplugged"))
	s.drv.pumpTransmit()

	if !s.deviceDone.Load() {
		t.Error("deviceDone not set after write error")
	}
	if got := s.txq.Buffered(); got != 3 {
		t.Errorf("txq.Buffered() = %d, want 3 after failed write", got)
	}
}

func TestDriverTransmitErrorKeepsPartial(t *testing.T) {
	s, fake := testSession(t, 8)
	copy(s.txq.Space(), "abcdefgh")
	s.txq.Commit(8)

	s.drv.pumpTransmit()
	fake.completeWrite(t, 3, errors.New("device unplugged"))
	s.drv.pumpTransmit()

	if !s.deviceDone.Load() {
		t.Error("deviceDone not set after write error")
	}
	// The three bytes the device took are not leftovers.
	if got := s.txq.Buffered(); got != 5 {
		t.Errorf("txq.Buffered() = %d, want 5 after partial failed write", got)
	}
	if got := s.TxBytes(); got != 3 {
		t.Errorf("TxBytes() = %d, want 3", got)
	}
	if got := fake.pendingWrites(); got != 0 {
		t.Errorf("pending writes = %d, want 0 after failure", got)
	}
}

func TestDriverEventsChaseReadyDirections(t *testing.T) {
	s, fake := testSession(t, 8)
	copy(s.txq.Space(), "hi")
	s.txq.Commit(2)

	s.drv.pumpEvents()
	if got := fake.waitCount(); got != 1 {
		t.Fatalf("wait count = %d, want 1", got)
	}

	fake.evDone <- device.EventResult{Events: device.EventReadable | device.EventWritable}
	s.drv.pumpEvents()

	if got := fake.pendingReads(); got != 1 {
		t.Errorf("pending reads = %d, want 1", got)
	}
	if got := fake.pendingWrites(); got != 1 {
		t.Errorf("pending writes = %d, want 1", got)
	}
	// The wait is reissued after every completion.
	if got := fake.waitCount(); got != 2 {
		t.Errorf("wait count = %d, want 2", got)
	}
}

func TestDriverEventsError(t *testing.T) {
	s, fake := testSession(t, 8)

	s.drv.pumpEvents()
	fake.evDone <- device.EventResult{Err: errors.New("device unplugged")}
	s.drv.pumpEvents()

	if !s.deviceDone.Load() {
		t.Error("deviceDone not set after event wait error")
	}
	if got := fake.waitCount(); got != 1 {
		t.Errorf("wait count = %d, want 1 after failure", got)
	}
}

func TestDriverStopsAfterDeviceDone(t *testing.T) {
	s, fake := testSession(t, 8)
	copy(s.txq.Space(), "abc")
	s.txq.Commit(3)
	s.deviceDone.Store(true)

	s.drv.pumpReceive()
	s.drv.pumpTransmit()
	s.drv.pumpEvents()
	s.drv.retryIdle()

	if fake.pendingReads() != 0 || fake.pendingWrites() != 0 || fake.waitCount() != 0 {
		t.Error("driver issued operations after deviceDone")
	}
}
