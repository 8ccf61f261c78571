package comproxy_test

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/smnsjas/go-comproxy"
	"github.com/smnsjas/go-comproxy/bridge"
	"github.com/smnsjas/go-comproxy/device"
)

// TestBridgeConcurrentSessions runs many independent sessions at once,
// each streaming its own payload through an echo device over small
// queues, and verifies that no session loses, reorders, or leaks bytes
// into another.
func TestBridgeConcurrentSessions(t *testing.T) {
	concurrency := 16
	const payloadLen = 4096

	var wg sync.WaitGroup
	wg.Add(concurrency)
	errCh := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		go func(id int) {
			defer wg.Done()

			payload := make([]byte, payloadLen)
			rand.New(rand.NewSource(int64(id))).Read(payload)

			inR, inW := io.Pipe()
			out := &collectBuffer{}
			br := comproxy.New(device.NewStream(newEchoRW()), inR, out,
				comproxy.WithCapacity(16),
				comproxy.WithWaitTimeout(50*time.Millisecond))
			done := make(chan bridge.ExitCode, 1)
			go func() { done <- br.Run() }()

			go inW.Write(payload)
			deadline := time.Now().Add(30 * time.Second)
			for out.Len() < payloadLen {
				if time.Now().After(deadline) {
					errCh <- fmt.Errorf("session %d stalled at %d/%d bytes", id, out.Len(), payloadLen)
					return
				}
				time.Sleep(time.Millisecond)
			}
			inW.Close()

			select {
			case code := <-done:
				if code != bridge.ExitOK {
					errCh <- fmt.Errorf("session %d exit code %v, want %v", id, code, bridge.ExitOK)
					return
				}
			case <-time.After(10 * time.Second):
				errCh <- fmt.Errorf("session %d did not terminate", id)
				return
			}

			if !bytes.Equal(out.Bytes(), payload) {
				errCh <- fmt.Errorf("session %d corrupted its stream", id)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}

// collectBuffer is a Writer whose length and contents can be read while
// a session writes to it.
type collectBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *collectBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *collectBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *collectBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
