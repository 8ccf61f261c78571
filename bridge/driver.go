package bridge

import (
	"context"
	"log/slog"

	"github.com/smnsjas/go-comproxy/device"
	"github.com/smnsjas/go-comproxy/logging"
)

// opState tracks whether one asynchronous direction has an operation in
// flight.
type opState int

const (
	opIdle opState = iota
	opPending
)

// driver owns the device side of a session. Each of the three
// asynchronous directions (receive, transmit, event wait) is either idle
// or has exactly one operation pending. Every method runs on the session
// goroutine, so the state needs no lock.
type driver struct {
	s  *Session
	rx opState
	tx opState
	ev opState

	rxBuf []byte // slice handed to the pending read
	txBuf []byte // slice handed to the pending write
}

// pumpReceive drives the device-to-output direction. It resolves a
// finished read when one is ready and keeps issuing new reads until the
// direction goes pending, the receive queue fills, or the device fails.
func (d *driver) pumpReceive() {
	s := d.s
	for !s.deviceDone.Load() {
		if d.rx == opPending {
			var res device.Result
			select {
			case res = <-s.ch.ReadDone():
			default:
				return
			}
			if !d.resolveReceive(res) {
				return
			}
			continue
		}
		space := s.rxq.Space()
		if len(space) == 0 {
			return
		}
		s.log.Log(context.Background(), logging.LevelTrace, "issue device read", "max", len(space))
		if err := s.ch.BeginRead(space); err != nil {
			d.fail("read", err)
			return
		}
		d.rxBuf = space
		d.rx = opPending
	}
}

// resolveReceive applies one finished read and reports whether the
// direction may issue again. Bytes are committed before the error is
// looked at, since a conforming reader may deliver its final chunk
// together with the failure. A zero-length completion is benign: the
// direction stalls until the coordinator timeout retries it.
func (d *driver) resolveReceive(res device.Result) bool {
	s := d.s
	d.rx = opIdle
	if res.N > 0 {
		if s.log.Enabled(context.Background(), slog.LevelDebug) {
			s.log.Debug("device read", "n", res.N, "data", logging.Preview(d.rxBuf[:res.N]))
		}
		s.rxq.Commit(res.N)
		s.rxBytes.Add(uint64(res.N))
	}
	if res.Err != nil {
		d.fail("read", res.Err)
		return false
	}
	if res.N <= 0 {
		s.log.Log(context.Background(), logging.LevelTrace, "device read empty")
		return false
	}
	return true
}

// pumpTransmit drives the input-to-device direction, the mirror of
// pumpReceive over the transmit queue.
func (d *driver) pumpTransmit() {
	s := d.s
	for !s.deviceDone.Load() {
		if d.tx == opPending {
			var res device.Result
			select {
			case res = <-s.ch.WriteDone():
			default:
				return
			}
			if !d.resolveTransmit(res) {
				return
			}
			continue
		}
		data := s.txq.Data()
		if len(data) == 0 {
			return
		}
		s.log.Log(context.Background(), logging.LevelTrace, "issue device write", "n", len(data))
		if err := s.ch.BeginWrite(data); err != nil {
			d.fail("write", err)
			return
		}
		d.txBuf = data
		d.tx = opPending
	}
}

// resolveTransmit applies one finished write and reports whether the
// direction may issue again. Bytes the device accepted leave the queue
// before the error is looked at; only bytes it never took stay counted
// as leftovers.
func (d *driver) resolveTransmit(res device.Result) bool {
	s := d.s
	d.tx = opIdle
	if res.N > 0 {
		if s.log.Enabled(context.Background(), slog.LevelDebug) {
			s.log.Debug("device write", "n", res.N, "data", logging.Preview(d.txBuf[:res.N]))
		}
		s.txq.Consume(res.N)
		s.txBytes.Add(uint64(res.N))
	}
	if res.Err != nil {
		d.fail("write", res.Err)
		return false
	}
	if res.N <= 0 {
		s.log.Log(context.Background(), logging.LevelTrace, "device write empty")
		return false
	}
	return true
}

// pumpEvents keeps one event wait outstanding. A completed wait is
// resolved and immediately reissued.
func (d *driver) pumpEvents() {
	s := d.s
	for !s.deviceDone.Load() {
		if d.ev == opPending {
			var res device.EventResult
			select {
			case res = <-s.ch.WaitDone():
			default:
				return
			}
			if !d.resolveEvents(res) {
				return
			}
			continue
		}
		if err := s.ch.BeginWait(); err != nil {
			d.fail("event wait", err)
			return
		}
		d.ev = opPending
	}
}

// resolveEvents applies one finished event wait and chases the
// directions it reported ready.
func (d *driver) resolveEvents(res device.EventResult) bool {
	s := d.s
	d.ev = opIdle
	if res.Err != nil {
		d.fail("event wait", res.Err)
		return false
	}
	s.log.Log(context.Background(), logging.LevelTrace, "device events", "events", res.Events)
	if res.Events&device.EventReadable != 0 {
		d.pumpReceive()
	}
	if res.Events&device.EventWritable != 0 {
		d.pumpTransmit()
	}
	return true
}

// completeReceive resolves a read completion delivered by the
// coordinator and restarts the direction.
func (d *driver) completeReceive(res device.Result) {
	if d.resolveReceive(res) {
		d.pumpReceive()
	}
}

// completeTransmit resolves a write completion delivered by the
// coordinator and restarts the direction.
func (d *driver) completeTransmit(res device.Result) {
	if d.resolveTransmit(res) {
		d.pumpTransmit()
	}
}

// completeEvents resolves an event completion delivered by the
// coordinator and rearms the wait.
func (d *driver) completeEvents(res device.EventResult) {
	if d.resolveEvents(res) {
		d.pumpEvents()
	}
}

// retryIdle re-arms data directions that are idle with work available.
// The coordinator calls it on timeout to recover a direction stalled by
// a benign zero-length completion.
func (d *driver) retryIdle() {
	s := d.s
	if s.deviceDone.Load() {
		return
	}
	if d.rx == opIdle && s.rxq.Free() > 0 {
		s.log.Log(context.Background(), logging.LevelTrace, "retry idle receive")
		d.pumpReceive()
	}
	if d.tx == opIdle && s.txq.Buffered() > 0 {
		s.log.Log(context.Background(), logging.LevelTrace, "retry idle transmit")
		d.pumpTransmit()
	}
}

// fail records a device failure and marks the device done. The session
// keeps running to drain data already queued for the output stream.
func (d *driver) fail(op string, err error) {
	s := d.s
	s.log.Info("device failure", "op", op, "err", err)
	s.deviceDone.Store(true)
}
