package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/smnsjas/go-comproxy/device"
	"github.com/smnsjas/go-comproxy/logging"
)

// wakeKind identifies which coordinator wait source fired.
type wakeKind int

const (
	wakeEvents wakeKind = iota
	wakeReceiveDone
	wakeTransmitDone
	wakeReceiveSpace
	wakeTransmitData
	wakeTimeout
	wakeClosed
)

// String returns a string representation of the wake source.
func (k wakeKind) String() string {
	switch k {
	case wakeEvents:
		return "Events"
	case wakeReceiveDone:
		return "ReceiveDone"
	case wakeTransmitDone:
		return "TransmitDone"
	case wakeReceiveSpace:
		return "ReceiveSpace"
	case wakeTransmitData:
		return "TransmitData"
	case wakeTimeout:
		return "Timeout"
	case wakeClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// wake is one coordinator wakeup and the payload of the source that
// fired.
type wake struct {
	kind wakeKind
	io   device.Result
	ev   device.EventResult
}

// waitNext blocks until one of the five session signal sources fires or
// the wait times out: an event, read, or write completion from the
// device, space opening in the receive queue, or data arriving in the
// transmit queue.
func (s *Session) waitNext() wake {
	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()
	select {
	case res, ok := <-s.ch.WaitDone():
		if !ok {
			return wake{kind: wakeClosed}
		}
		return wake{kind: wakeEvents, ev: res}
	case res, ok := <-s.ch.ReadDone():
		if !ok {
			return wake{kind: wakeClosed}
		}
		return wake{kind: wakeReceiveDone, io: res}
	case res, ok := <-s.ch.WriteDone():
		if !ok {
			return wake{kind: wakeClosed}
		}
		return wake{kind: wakeTransmitDone, io: res}
	case <-s.rxq.HasSpace():
		return wake{kind: wakeReceiveSpace}
	case <-s.txq.HasData():
		return wake{kind: wakeTransmitData}
	case <-timer.C:
		return wake{kind: wakeTimeout}
	}
}

// shouldStop reports whether both directions are finished. The output
// side is done when the output stream failed or the receive queue is
// drained. The device side is done when the device failed, or the input
// stream ended and the transmit queue is drained.
func (s *Session) shouldStop() bool {
	return (s.outputDone.Load() || s.rxq.Buffered() == 0) &&
		(s.deviceDone.Load() || (s.inputDone.Load() && s.txq.Buffered() == 0))
}

// Run executes the session to completion and returns its exit code. It
// starts the pumps, primes the device event wait, then multiplexes
// completions, queue signals, and the timeout on the calling goroutine
// until the termination predicate holds or the wait machinery fails.
// The device channel is closed before Run returns.
func (s *Session) Run() ExitCode {
	s.log.Info("session start",
		"capacity", s.rxq.Capacity(),
		"waitTimeout", s.waitTimeout,
	)
	go s.runInputPump()
	go s.runOutputPump()
	s.drv.pumpEvents()

	status := s.loop()

	if err := s.ch.Close(); err != nil {
		s.log.Debug("device close", "err", err)
	}
	if status == ExitOK && s.deviceDone.Load() {
		status = ExitDeviceGone
	}
	s.log.Info("session exit",
		"code", int(status),
		"status", status,
		"txBytes", s.txBytes.Load(),
		"rxBytes", s.rxBytes.Load(),
		"inputDone", s.inputDone.Load(),
		"outputDone", s.outputDone.Load(),
		"deviceDone", s.deviceDone.Load(),
	)
	return status
}

// loop dispatches wakeups until the termination predicate holds. Only a
// failure of the wait machinery itself ends the session early.
func (s *Session) loop() ExitCode {
	for !s.shouldStop() {
		w := s.waitNext()
		s.log.Log(context.Background(), logging.LevelTrace, "wake", "source", w.kind)
		switch w.kind {
		case wakeEvents:
			s.drv.completeEvents(w.ev)
		case wakeReceiveDone:
			s.drv.completeReceive(w.io)
		case wakeTransmitDone:
			s.drv.completeTransmit(w.io)
		case wakeReceiveSpace:
			s.drv.pumpReceive()
		case wakeTransmitData:
			s.drv.pumpTransmit()
		case wakeTimeout:
			s.drv.retryIdle()
		case wakeClosed:
			s.log.Info("completion channel closed")
			return ExitWaitFailed
		default:
			s.log.Info("unrecognized wake", "source", w.kind)
			return ExitBadWait
		}
	}
	return ExitOK
}
