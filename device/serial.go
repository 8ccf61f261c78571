package device

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// PortConfig describes how to open the serial backend.
//
// ReadTimeout bounds each read slice: a read that expires without data
// completes with N == 0 and a nil error, the benign zero-length outcome the
// driver recovers from on its wait timeout. StatusPollInterval is the
// cadence at which modem control lines are sampled for event reporting.
type PortConfig struct {
	BaudRate int
	DataBits int
	Parity   string // none, odd, even
	StopBits int    // 1 or 2

	ReadTimeout        time.Duration
	StatusPollInterval time.Duration

	AssertDTR bool
	AssertRTS bool
}

// DefaultPortConfig returns the reference port setup: 9600 8N1 with DTR and
// RTS asserted, one-second read slices, and 250 ms status polling.
func DefaultPortConfig() PortConfig {
	return PortConfig{
		BaudRate:           9600,
		DataBits:           8,
		Parity:             "none",
		StopBits:           1,
		ReadTimeout:        time.Second,
		StatusPollInterval: 250 * time.Millisecond,
		AssertDTR:          true,
		AssertRTS:          true,
	}
}

func (c PortConfig) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}
	switch c.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unknown parity %q", c.Parity)
	}
	switch c.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", c.StopBits)
	}
	return mode, nil
}

// OpenSerial opens the serial port at path as a Channel.
//
// Reads use the configured timeout so the port produces genuine zero-length
// completions instead of blocking indefinitely; writes block in the port
// layer until accepted. Event waits report modem control-line transitions
// (CTS, DSR, Ring, Carrier) sampled at StatusPollInterval. The port cannot
// signal readable/writable readiness, so transfer scheduling falls to queue
// signals and timeout retries.
func OpenSerial(path string, cfg PortConfig) (Channel, error) {
	mode, err := cfg.mode()
	if err != nil {
		return nil, fmt.Errorf("port mode: %w", err)
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if cfg.AssertDTR {
		if err := port.SetDTR(true); err != nil {
			port.Close()
			return nil, fmt.Errorf("assert DTR: %w", err)
		}
	}
	if cfg.AssertRTS {
		if err := port.SetRTS(true); err != nil {
			port.Close()
			return nil, fmt.Errorf("assert RTS: %w", err)
		}
	}

	w := &statusWatcher{port: port, every: cfg.StatusPollInterval}
	return newStream(port, w.wait, port.Close), nil
}

// statusWatcher turns modem status polling into event-wait completions.
type statusWatcher struct {
	port  serial.Port
	every time.Duration
}

// wait blocks until a control line changes state, the port fails, or the
// channel closes.
func (w *statusWatcher) wait(quit <-chan struct{}) (Events, error) {
	last, err := w.port.GetModemStatusBits()
	if err != nil {
		return 0, fmt.Errorf("modem status: %w", err)
	}
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return 0, ErrClosed
		case <-ticker.C:
			cur, err := w.port.GetModemStatusBits()
			if err != nil {
				return 0, fmt.Errorf("modem status: %w", err)
			}
			if ev := diffStatus(last, cur); ev != 0 {
				return ev, nil
			}
			last = cur
		}
	}
}

// diffStatus reports an event for every control line that changed state,
// regardless of direction, mirroring how hardware event masks behave.
func diffStatus(prev, cur *serial.ModemStatusBits) Events {
	var ev Events
	if prev.CTS != cur.CTS {
		ev |= EventCTS
	}
	if prev.DSR != cur.DSR {
		ev |= EventDSR
	}
	if prev.RI != cur.RI {
		ev |= EventRing
	}
	if prev.DCD != cur.DCD {
		ev |= EventCarrier
	}
	return ev
}
