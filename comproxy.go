package comproxy

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-comproxy/bridge"
	"github.com/smnsjas/go-comproxy/device"
)

// Bridge couples one device channel to an input and an output stream.
// It is a thin handle over a bridge.Session configured through options.
type Bridge struct {
	session *bridge.Session
}

// Option configures a Bridge.
type Option func(*bridge.Config)

// WithLogger directs session diagnostics to log. Without it the session
// is silent.
func WithLogger(log *slog.Logger) Option {
	return func(cfg *bridge.Config) {
		cfg.Logger = log
	}
}

// WithCapacity sets the usable size of each direction queue in bytes.
func WithCapacity(n int) Option {
	return func(cfg *bridge.Config) {
		cfg.Capacity = n
	}
}

// WithWaitTimeout bounds each coordinator wait. Shorter timeouts recover
// stalled directions faster at the cost of more idle wakeups.
func WithWaitTimeout(d time.Duration) Option {
	return func(cfg *bridge.Config) {
		cfg.WaitTimeout = d
	}
}

// WithSessionID fixes the session identifier used in log records.
func WithSessionID(id uuid.UUID) Option {
	return func(cfg *bridge.Config) {
		cfg.SessionID = id
	}
}

// New builds a bridge between ch and the in/out streams. The channel is
// owned by the bridge from here on and is closed when Run returns.
func New(ch device.Channel, in io.Reader, out io.Writer, opts ...Option) *Bridge {
	cfg := bridge.Config{
		Input:  in,
		Output: out,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Bridge{session: bridge.NewSession(ch, cfg)}
}

// ID returns the session identifier.
func (b *Bridge) ID() uuid.UUID {
	return b.session.ID()
}

// Run pumps bytes between the streams and the device until the session
// terminates, then returns its exit code. It blocks for the lifetime of
// the session and must be called at most once.
func (b *Bridge) Run() bridge.ExitCode {
	return b.session.Run()
}

// TxBytes returns the total bytes delivered to the device so far.
func (b *Bridge) TxBytes() uint64 {
	return b.session.TxBytes()
}

// RxBytes returns the total bytes received from the device so far.
func (b *Bridge) RxBytes() uint64 {
	return b.session.RxBytes()
}
