package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/smnsjas/go-comproxy/logging"
)

// runInputPump copies the external input stream into the transmit queue.
// It blocks in Read and on a full queue, and exits after marking the
// input done when the stream ends or fails.
func (s *Session) runInputPump() {
	for {
		space := s.txq.Space()
		if len(space) == 0 {
			<-s.txq.HasSpace()
			continue
		}
		n, err := s.in.Read(space)
		if n > 0 {
			if s.log.Enabled(context.Background(), slog.LevelDebug) {
				s.log.Debug("input read", "n", n, "data", logging.Preview(space[:n]))
			}
			s.txq.Commit(n)
		}
		switch {
		case err == nil && n > 0:
			continue
		case err == nil || errors.Is(err, io.EOF):
			s.log.Debug("input stream ended")
		default:
			s.log.Info("input stream failed", "err", err)
		}
		s.inputDone.Store(true)
		return
	}
}

// runOutputPump drains the receive queue into the external output
// stream. It has no exit on success: an empty queue parks it on the data
// signal until process teardown. A write failure marks the output done
// and exits so the coordinator stops feeding a dead stream.
func (s *Session) runOutputPump() {
	for {
		data := s.rxq.Data()
		if len(data) == 0 {
			<-s.rxq.HasData()
			continue
		}
		n, err := s.out.Write(data)
		if n > 0 {
			if s.log.Enabled(context.Background(), slog.LevelDebug) {
				s.log.Debug("output write", "n", n, "data", logging.Preview(data[:n]))
			}
			s.rxq.Consume(n)
		}
		if err != nil {
			s.log.Info("output stream failed", "err", err)
			s.outputDone.Store(true)
			return
		}
	}
}
