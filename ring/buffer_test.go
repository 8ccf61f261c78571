package ring

import (
	"bytes"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func takeToken(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestNewPanicsOnBadCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New(0, nil) did not panic")
		}
	}()
	New(0, nil)
}

func TestCommitConsumeRoundtrip(t *testing.T) {
	for c := 1; c <= 8; c++ {
		for n := 0; n <= c; n++ {
			b := New(c, nil)
			if got := b.Commit(n); got != n {
				t.Fatalf("C=%d: Commit(%d) = %d, want %d", c, n, got, n)
			}
			if got := b.Consume(n); got != n {
				t.Fatalf("C=%d: Consume(%d) = %d, want %d", c, n, got, n)
			}
			if got := b.Buffered(); got != 0 {
				t.Errorf("C=%d n=%d: Buffered() = %d, want 0", c, n, got)
			}
			if got := b.Free(); got != c {
				t.Errorf("C=%d n=%d: Free() = %d, want %d", c, n, got, c)
			}
		}
	}
}

func TestOccupancyScenario(t *testing.T) {
	// Capacity 4: commit "a","b","c", then consume two.
	b := New(4, nil)

	sp := b.Space()
	if len(sp) != 4 {
		t.Fatalf("Space() run = %d, want 4", len(sp))
	}
	copy(sp, "abc")
	if got := b.Commit(3); got != 3 {
		t.Fatalf("Commit(3) = %d, want 3", got)
	}
	if got := b.Buffered(); got != 3 {
		t.Errorf("Buffered() = %d, want 3", got)
	}
	if got := b.Free(); got != 1 {
		t.Errorf("Free() = %d, want 1", got)
	}

	if got := string(b.Data()[:2]); got != "ab" {
		t.Errorf("Data()[:2] = %q, want %q", got, "ab")
	}
	if got := b.Consume(2); got != 2 {
		t.Fatalf("Consume(2) = %d, want 2", got)
	}
	if got := b.Buffered(); got != 1 {
		t.Errorf("Buffered() = %d, want 1", got)
	}
	if got := b.Free(); got != 3 {
		t.Errorf("Free() = %d, want 3", got)
	}
	if got := string(b.Data()); got != "c" {
		t.Errorf("Data() = %q, want %q", got, "c")
	}
}

func TestWraparound(t *testing.T) {
	b := New(4, nil)

	// Park the cursors near the wrap point.
	copy(b.Space(), "abc")
	b.Commit(3)
	if got := string(b.Data()); got != "abc" {
		t.Fatalf("Data() = %q, want %q", got, "abc")
	}
	b.Consume(3)

	// The writable run stops at the end of the backing slice.
	sp := b.Space()
	if len(sp) != 2 {
		t.Fatalf("Space() run before wrap = %d, want 2", len(sp))
	}
	copy(sp, "de")
	b.Commit(2)

	// The next run starts at slot 0 and must leave the reserve slot.
	sp = b.Space()
	if len(sp) != 2 {
		t.Fatalf("Space() run after wrap = %d, want 2", len(sp))
	}
	copy(sp, "fg")
	b.Commit(2)

	if got := b.Free(); got != 0 {
		t.Errorf("Free() = %d, want 0", got)
	}
	if got := string(b.Data()); got != "de" {
		t.Errorf("Data() = %q, want %q", got, "de")
	}
	b.Consume(2)
	if got := string(b.Data()); got != "fg" {
		t.Errorf("Data() after wrap = %q, want %q", got, "fg")
	}
	b.Consume(2)
	if got := b.Buffered(); got != 0 {
		t.Errorf("Buffered() = %d, want 0", got)
	}
}

func TestOverrunClamps(t *testing.T) {
	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))
	b := New(4, log)

	if got := b.Commit(10); got != 4 {
		t.Fatalf("Commit(10) = %d, want 4", got)
	}
	if got := b.Buffered(); got != 4 {
		t.Errorf("Buffered() = %d, want 4", got)
	}
	if got := b.Free(); got != 0 {
		t.Errorf("Free() = %d, want 0", got)
	}
	if !strings.Contains(logBuf.String(), "exceeds writable run") {
		t.Errorf("overrun anomaly not logged: %q", logBuf.String())
	}

	// Cursors stay valid: a full drain restores the empty state.
	if got := b.Consume(4); got != 4 {
		t.Fatalf("Consume(4) = %d, want 4", got)
	}
	if b.Buffered() != 0 || b.Free() != 4 {
		t.Errorf("after drain: Buffered() = %d, Free() = %d, want 0, 4", b.Buffered(), b.Free())
	}
}

func TestUnderrunClamps(t *testing.T) {
	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))
	b := New(4, log)

	b.Commit(2)
	if got := b.Consume(3); got != 2 {
		t.Fatalf("Consume(3) = %d, want 2", got)
	}
	if !strings.Contains(logBuf.String(), "exceeds readable run") {
		t.Errorf("underrun anomaly not logged: %q", logBuf.String())
	}
	if b.Buffered() != 0 || b.Free() != 4 {
		t.Errorf("Buffered() = %d, Free() = %d, want 0, 4", b.Buffered(), b.Free())
	}
}

func TestNegativeCountsIgnored(t *testing.T) {
	b := New(4, nil)
	if got := b.Commit(-1); got != 0 {
		t.Errorf("Commit(-1) = %d, want 0", got)
	}
	b.Commit(2)
	if got := b.Consume(-1); got != 0 {
		t.Errorf("Consume(-1) = %d, want 0", got)
	}
	if got := b.Buffered(); got != 2 {
		t.Errorf("Buffered() = %d, want 2", got)
	}
}

func TestSignalLifecycle(t *testing.T) {
	b := New(2, nil)

	if !takeToken(b.HasSpace()) {
		t.Error("empty buffer: has-space token absent")
	}
	if takeToken(b.HasData()) {
		t.Error("empty buffer: has-data token present")
	}

	b.Commit(1)
	if !takeToken(b.HasData()) {
		t.Error("after commit: has-data token absent")
	}
	if !takeToken(b.HasSpace()) {
		t.Error("after partial fill: has-space token absent")
	}

	b.Commit(1) // full
	if takeToken(b.HasSpace()) {
		t.Error("full buffer: has-space token present")
	}
	if !takeToken(b.HasData()) {
		t.Error("full buffer: has-data token absent")
	}

	b.Consume(2) // empty again
	if !takeToken(b.HasSpace()) {
		t.Error("after drain: has-space token absent")
	}
	if takeToken(b.HasData()) {
		t.Error("after drain: has-data token present")
	}
}

// TestConcurrentStream drives one producer and one consumer goroutine
// through a deliberately tiny buffer and verifies the consumed byte
// sequence matches the committed one exactly.
func TestConcurrentStream(t *testing.T) {
	const total = 64 * 1024
	b := New(7, nil)

	src := make([]byte, total)
	rng := rand.New(rand.NewSource(1))
	rng.Read(src)

	got := make([]byte, 0, total)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(got) < total {
			data := b.Data()
			if len(data) == 0 {
				<-b.HasData()
				continue
			}
			got = append(got, data...)
			b.Consume(len(data))
		}
	}()

	for off := 0; off < total; {
		space := b.Space()
		if len(space) == 0 {
			<-b.HasSpace()
			continue
		}
		n := copy(space, src[off:])
		b.Commit(n)
		off += n
	}
	<-done

	if diff := cmp.Diff(src, got); diff != "" {
		t.Errorf("consumed stream mismatch (-want +got):\n%s", diff)
	}
}
