// comproxy-test is a self test that exercises the bridge end to end over
// in-process devices. It covers the traffic shapes a serial installation
// sees: echoed conversations, sustained streams through tiny queues,
// devices that disconnect mid-stream, devices that stay silent, devices
// that pad their reads with zero-length completions, and devices whose
// final payload arrives together with the hangup.
package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/smnsjas/go-comproxy"
	"github.com/smnsjas/go-comproxy/bridge"
	"github.com/smnsjas/go-comproxy/device"
)

// scenario is one self-test case.
type scenario struct {
	name        string
	description string
	run         func() error
}

// syncBuffer is a Writer whose contents can be read while the session
// writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// echoRW hands every written byte back to the next read.
type echoRW struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

func newEchoRW() *echoRW {
	pr, pw := io.Pipe()
	return &echoRW{pr: pr, pw: pw}
}

func (e *echoRW) Read(p []byte) (int, error)  { return e.pr.Read(p) }
func (e *echoRW) Write(p []byte) (int, error) { return e.pw.Write(p) }

func (e *echoRW) Close() error {
	e.pw.CloseWithError(io.ErrClosedPipe)
	return e.pr.Close()
}

// sinkRW swallows writes and never produces data.
type sinkRW struct {
	quit chan struct{}
}

func newSinkRW() *sinkRW { return &sinkRW{quit: make(chan struct{})} }

func (s *sinkRW) Read(p []byte) (int, error)  { <-s.quit; return 0, io.EOF }
func (s *sinkRW) Write(p []byte) (int, error) { return len(p), nil }
func (s *sinkRW) Close() error                { close(s.quit); return nil }

// chatterRW delivers fixed payload chunks, padding every other read with
// a zero-length completion the way a timed serial read does.
type chatterRW struct {
	mu   sync.Mutex
	seq  int
	msgs [][]byte
	quit chan struct{}
}

func newChatterRW(msgs [][]byte) *chatterRW {
	return &chatterRW{msgs: msgs, quit: make(chan struct{})}
}

func (c *chatterRW) Read(p []byte) (int, error) {
	c.mu.Lock()
	c.seq++
	idle := c.seq%2 == 1
	var msg []byte
	if !idle && len(c.msgs) > 0 {
		msg = c.msgs[0]
		c.msgs = c.msgs[1:]
	}
	c.mu.Unlock()

	if idle {
		return 0, nil
	}
	if msg == nil {
		<-c.quit
		return 0, io.EOF
	}
	return copy(p, msg), nil
}

func (c *chatterRW) Write(p []byte) (int, error) { return len(p), nil }
func (c *chatterRW) Close() error                { close(c.quit); return nil }

// partingRW hands its payload back together with io.EOF, the way a
// socket-backed device reports the final segment at hangup.
type partingRW struct {
	data []byte
}

func (p *partingRW) Read(b []byte) (int, error) {
	if len(p.data) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, io.EOF
}

func (p *partingRW) Write(b []byte) (int, error) { return len(b), nil }

func runBridge(ch device.Channel, in io.Reader, out io.Writer, opts ...comproxy.Option) <-chan bridge.ExitCode {
	done := make(chan bridge.ExitCode, 1)
	go func() {
		done <- comproxy.New(ch, in, out, opts...).Run()
	}()
	return done
}

func awaitCode(done <-chan bridge.ExitCode, want bridge.ExitCode) error {
	select {
	case code := <-done:
		if code != want {
			return fmt.Errorf("exit code %v, want %v", code, want)
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("session did not terminate")
	}
}

func waitOutput(out *syncBuffer, n int) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if out.Len() >= n {
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for output: have %d bytes, want %d", out.Len(), n)
}

func echoRoundtrip() error {
	inR, inW := io.Pipe()
	out := &syncBuffer{}
	done := runBridge(device.NewStream(newEchoRW()), inR, out,
		comproxy.WithWaitTimeout(100*time.Millisecond))

	msg := []byte("comproxy self test: the quick brown fox jumps over the lazy dog")
	if _, err := inW.Write(msg); err != nil {
		return fmt.Errorf("input write: %w", err)
	}
	if err := waitOutput(out, len(msg)); err != nil {
		return err
	}
	inW.Close()
	if err := awaitCode(done, bridge.ExitOK); err != nil {
		return err
	}
	if !bytes.Equal(out.Bytes(), msg) {
		return fmt.Errorf("output %q, want %q", out.Bytes(), msg)
	}
	return nil
}

func tinyQueues() error {
	const total = 8192
	payload := make([]byte, total)
	rand.New(rand.NewSource(1)).Read(payload)

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	done := runBridge(device.NewStream(newEchoRW()), inR, out,
		comproxy.WithCapacity(4),
		comproxy.WithWaitTimeout(100*time.Millisecond))

	go inW.Write(payload)
	if err := waitOutput(out, total); err != nil {
		return err
	}
	inW.Close()
	if err := awaitCode(done, bridge.ExitOK); err != nil {
		return err
	}
	if !bytes.Equal(out.Bytes(), payload) {
		return fmt.Errorf("stream corrupted after %d bytes", total)
	}
	return nil
}

func deviceDisconnect() error {
	echo := newEchoRW()
	inR, inW := io.Pipe()
	defer inW.Close()
	out := &syncBuffer{}
	done := runBridge(device.NewStream(echo), inR, out,
		comproxy.WithWaitTimeout(100*time.Millisecond))

	msg := []byte("hello before the unplug")
	if _, err := inW.Write(msg); err != nil {
		return fmt.Errorf("input write: %w", err)
	}
	if err := waitOutput(out, len(msg)); err != nil {
		return err
	}

	echo.Close()
	if err := awaitCode(done, bridge.ExitDeviceGone); err != nil {
		return err
	}
	if !bytes.Equal(out.Bytes(), msg) {
		return fmt.Errorf("output %q, want %q", out.Bytes(), msg)
	}
	return nil
}

func silentDevice() error {
	inR, inW := io.Pipe()
	out := &syncBuffer{}
	done := runBridge(device.NewStream(newSinkRW()), inR, out,
		comproxy.WithWaitTimeout(100*time.Millisecond))

	if _, err := inW.Write([]byte("ping")); err != nil {
		return fmt.Errorf("input write: %w", err)
	}
	inW.Close()
	if err := awaitCode(done, bridge.ExitOK); err != nil {
		return err
	}
	if out.Len() != 0 {
		return fmt.Errorf("silent device produced %d bytes of output", out.Len())
	}
	return nil
}

func zeroLengthChatter() error {
	msgs := [][]byte{
		[]byte("tick-1 "), []byte("tick-2 "), []byte("tick-3 "),
		[]byte("tick-4 "), []byte("tick-5 "),
	}
	var want []byte
	for _, m := range msgs {
		want = append(want, m...)
	}

	inR, inW := io.Pipe()
	defer inW.Close()
	out := &syncBuffer{}
	done := runBridge(device.NewStream(newChatterRW(msgs)), inR, out,
		comproxy.WithWaitTimeout(50*time.Millisecond))

	// Every payload is preceded by a zero-length completion, so all the
	// data arrives through the timeout retry path.
	if err := waitOutput(out, len(want)); err != nil {
		return err
	}
	inW.Close()
	if err := awaitCode(done, bridge.ExitOK); err != nil {
		return err
	}
	if !bytes.Equal(out.Bytes(), want) {
		return fmt.Errorf("output %q, want %q", out.Bytes(), want)
	}
	return nil
}

func finalChunk() error {
	msg := []byte("farewell and thanks for all the bytes")
	inR, inW := io.Pipe()
	defer inW.Close()
	out := &syncBuffer{}
	done := runBridge(device.NewStream(&partingRW{data: msg}), inR, out,
		comproxy.WithWaitTimeout(100*time.Millisecond))

	if err := awaitCode(done, bridge.ExitDeviceGone); err != nil {
		return err
	}
	if !bytes.Equal(out.Bytes(), msg) {
		return fmt.Errorf("output %q, want %q", out.Bytes(), msg)
	}
	return nil
}

func main() {
	log.Println("Starting comproxy self test...")

	scenarios := []scenario{
		{
			name:        "Echo Roundtrip",
			description: "One message through an echo device and back",
			run:         echoRoundtrip,
		},
		{
			name:        "Tiny Queues",
			description: "8 KiB streamed through 4-byte queues without loss",
			run:         tinyQueues,
		},
		{
			name:        "Device Disconnect",
			description: "Device failure mid-session drains output and exits 6",
			run:         deviceDisconnect,
		},
		{
			name:        "Silent Device",
			description: "Input flushes to a device that never answers",
			run:         silentDevice,
		},
		{
			name:        "Zero-Length Chatter",
			description: "Idle read completions recover via the wait timeout",
			run:         zeroLengthChatter,
		},
		{
			name:        "Final Chunk",
			description: "Payload arriving together with EOF drains before exit",
			run:         finalChunk,
		},
	}

	passed := 0
	failed := 0
	for _, sc := range scenarios {
		fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Printf("TEST: %s\n", sc.name)
		fmt.Printf("DESC: %s\n", sc.description)
		fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		start := time.Now()
		if err := sc.run(); err != nil {
			fmt.Printf("❌ FAILED: %v\n", err)
			failed++
			continue
		}
		fmt.Printf("✅ PASSED (%s)\n", time.Since(start).Round(time.Millisecond))
		passed++
	}

	fmt.Println("\n═══════════════════════════════════════════════════════════════")
	fmt.Printf("   Total: %d   ✅ Passed: %d   ❌ Failed: %d\n", passed+failed, passed, failed)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	if failed > 0 {
		os.Exit(1)
	}
}
