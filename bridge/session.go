// Package bridge pumps bytes between a pair of byte streams and an
// asynchronous device channel.
//
// A Session owns two bounded byte queues and four actors:
//
//	input pump    reads the external input stream into the transmit queue
//	output pump   drains the receive queue into the external output stream
//	driver        issues and resolves asynchronous device operations
//	coordinator   multiplexes completions, queue signals, and the timeout
//
// Data flow:
//
//	input  ──pump──▶ txq ──driver──▶ device
//	output ◀──pump── rxq ◀──driver── device
//
// The pumps run on their own goroutines and block on stream I/O. The
// driver and the coordinator share the session goroutine: every device
// operation is issued and resolved there, so driver state needs no lock.
//
// # Termination
//
// The coordinator checks a termination predicate before each wait and
// stops once both directions are finished:
//
//	(output done OR rxq empty) AND (device done OR (input done AND txq empty))
//
// The output pump has no termination signal of its own. It blocks on an
// empty receive queue indefinitely and is abandoned when the session
// exits. Sessions are built for process-lifetime use, where exit tears
// the goroutine down with the process.
//
// # Usage
//
//	ch, err := device.OpenSerial("/dev/ttyUSB0", device.DefaultPortConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sess := bridge.NewSession(ch, bridge.Config{
//	    Input:  os.Stdin,
//	    Output: os.Stdout,
//	})
//	os.Exit(int(sess.Run()))
package bridge

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-comproxy/device"
	"github.com/smnsjas/go-comproxy/logging"
	"github.com/smnsjas/go-comproxy/ring"
)

const (
	// DefaultCapacity is the usable capacity of each direction queue in
	// bytes. 128 keeps device writes small enough that a slow line never
	// holds a large flush hostage.
	DefaultCapacity = 128

	// DefaultWaitTimeout bounds every coordinator wait. A timeout wakeup
	// re-checks termination and retries device directions that went idle
	// without a signal.
	DefaultWaitTimeout = 2 * time.Second
)

// ExitCode is the session outcome, used verbatim as the process exit
// status by the comproxy command.
type ExitCode int

const (
	// ExitOK indicates a clean shutdown with all queued data flushed.
	ExitOK ExitCode = 0
	// ExitUsage indicates missing or malformed command arguments.
	ExitUsage ExitCode = 1
	// ExitLogFile indicates the log destination could not be opened.
	ExitLogFile ExitCode = 2
	// ExitDeviceOpen indicates the device could not be opened.
	ExitDeviceOpen ExitCode = 3
	// ExitWaitFailed indicates the coordinator wait itself failed.
	ExitWaitFailed ExitCode = 4
	// ExitBadWait indicates the coordinator wait produced an outcome it
	// does not recognize.
	ExitBadWait ExitCode = 5
	// ExitDeviceGone indicates the device failed or disconnected and the
	// session drained what it could.
	ExitDeviceGone ExitCode = 6
)

// String returns a string representation of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitOK:
		return "OK"
	case ExitUsage:
		return "Usage"
	case ExitLogFile:
		return "LogFile"
	case ExitDeviceOpen:
		return "DeviceOpen"
	case ExitWaitFailed:
		return "WaitFailed"
	case ExitBadWait:
		return "BadWait"
	case ExitDeviceGone:
		return "DeviceGone"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// Config carries the session collaborators and tunables. Zero values
// select the defaults documented on each field.
type Config struct {
	// Input is the external input stream, normally os.Stdin.
	Input io.Reader
	// Output is the external output stream, normally os.Stdout.
	Output io.Writer
	// Capacity is the usable size of each direction queue in bytes.
	// Zero or negative selects DefaultCapacity.
	Capacity int
	// WaitTimeout bounds each coordinator wait. Zero or negative selects
	// DefaultWaitTimeout.
	WaitTimeout time.Duration
	// Logger receives session diagnostics. Nil discards them.
	Logger *slog.Logger
	// SessionID tags every log record for this session. The zero UUID
	// selects a random one.
	SessionID uuid.UUID
}

// Session bridges one device channel to one input and one output stream.
// Create it with NewSession and drive it with Run.
type Session struct {
	id  uuid.UUID
	in  io.Reader
	out io.Writer
	ch  device.Channel
	rxq *ring.Buffer // device to output stream
	txq *ring.Buffer // input stream to device
	drv *driver
	log *slog.Logger

	waitTimeout time.Duration

	inputDone  atomic.Bool
	outputDone atomic.Bool
	deviceDone atomic.Bool

	rxBytes atomic.Uint64
	txBytes atomic.Uint64
}

// NewSession builds a session over ch. It panics when ch or either
// stream is nil; everything else in cfg has a usable default.
func NewSession(ch device.Channel, cfg Config) *Session {
	if ch == nil {
		panic("nil device channel")
	}
	if cfg.Input == nil || cfg.Output == nil {
		panic("nil session stream")
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	timeout := cfg.WaitTimeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	id := cfg.SessionID
	if id == uuid.Nil {
		id = uuid.New()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("session", id)

	s := &Session{
		id:          id,
		in:          cfg.Input,
		out:         cfg.Output,
		ch:          ch,
		rxq:         ring.New(capacity, log.With("queue", "rx")),
		txq:         ring.New(capacity, log.With("queue", "tx")),
		log:         log,
		waitTimeout: timeout,
	}
	s.drv = &driver{s: s}
	return s
}

// ID returns the session identifier used in log records.
func (s *Session) ID() uuid.UUID { return s.id }

// RxBytes returns the total bytes moved from the device to the output
// stream queue so far.
func (s *Session) RxBytes() uint64 { return s.rxBytes.Load() }

// TxBytes returns the total bytes moved from the transmit queue to the
// device so far.
func (s *Session) TxBytes() uint64 { return s.txBytes.Load() }
