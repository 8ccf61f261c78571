// Package comproxy bridges a pair of byte streams to an asynchronous
// device channel.
//
// The comproxy command couples standard input and output to a serial
// port so that a terminal session, test harness, or pipeline can talk to
// a device without owning the port details. This package is the
// embeddable form of the same machinery: callers provide the streams and
// a device channel and get back the session exit code.
//
// # Architecture
//
// The library is organized into layers:
//
//   - Bridge: high-level API coupling two byte streams to a device
//   - bridge: session coordinator, stream pumps, and device driver
//   - device: asynchronous channel backends (serial, io_uring, streams)
//   - ring: bounded byte queues with data and space signals
//   - config: YAML configuration for the command line wrapper
//   - logging: slog helpers shared by the command and the library
//
// # Basic Usage
//
//	ch, err := device.OpenSerial("/dev/ttyUSB0", device.DefaultPortConfig())
//	if err != nil {
//	    return err
//	}
//	b := comproxy.New(ch, os.Stdin, os.Stdout)
//	os.Exit(int(b.Run()))
//
// # Exit Codes
//
// Run returns the session exit code, shaped to be handed to os.Exit:
//
//   - 0: clean shutdown, input ended and all queued data flushed
//   - 4: the wait machinery itself failed
//   - 5: a wait produced an outcome the coordinator does not recognize
//   - 6: the device failed or disconnected
//
// Codes 1 through 3 are reserved for the command line wrapper: usage
// errors, an unusable log destination, and a device that cannot be
// opened.
//
// # Data Integrity
//
// Bytes flow through bounded queues in order, one writer and one reader
// per queue. The session never drops or reorders bytes while both ends
// are healthy; data still queued for a dead end is discarded only at
// exit, after the live end has been drained.
package comproxy

// Version is the library version.
const Version = "0.1.0-dev"
