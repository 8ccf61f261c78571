// comproxy bridges standard input and output to an asynchronous device
// such as a serial port.
//
// Usage:
//
//	comproxy [flags] DEVICE [LOGFILE]
//
// The process exit code reports the outcome: 0 clean shutdown, 1 usage
// error, 2 unusable log destination, 3 device open failure, 4 wait
// machinery failure, 5 unrecognized wait outcome, 6 device failure or
// disconnect.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/smnsjas/go-comproxy"
	"github.com/smnsjas/go-comproxy/bridge"
	"github.com/smnsjas/go-comproxy/config"
	"github.com/smnsjas/go-comproxy/device"
	"github.com/smnsjas/go-comproxy/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("comproxy", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "load YAML configuration from `file`")
		level      = fs.String("level", "", "log `level`: info, debug, trace (default trace)")
		backend    = fs.String("backend", "", "device `backend`: serial, stream, uring")
		baud       = fs.Int("baud", 0, "serial baud `rate`")
		capacity   = fs.Int("capacity", 0, "queue capacity in `bytes`")
		waitMs     = fs.Int("wait-ms", 0, "coordinator wait timeout in `milliseconds`")
	)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: comproxy [flags] DEVICE [LOGFILE]\n\n")
		fmt.Fprintf(out, "Bridge standard input and output to an asynchronous device.\n\n")
		fmt.Fprintf(out, "Arguments:\n")
		fmt.Fprintf(out, "  DEVICE   device path, for example /dev/ttyUSB0\n")
		fmt.Fprintf(out, "  LOGFILE  write diagnostics to this file instead of stderr\n\n")
		fmt.Fprintf(out, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return int(bridge.ExitUsage)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "comproxy: %v\n", err)
			return int(bridge.ExitUsage)
		}
		cfg = loaded
	}
	if *level != "" {
		cfg.Log.Level = *level
	}
	if *backend != "" {
		cfg.Device.Backend = *backend
	}
	if *baud > 0 {
		cfg.Device.BaudRate = *baud
	}
	if *capacity > 0 {
		cfg.Bridge.Capacity = *capacity
	}
	if *waitMs > 0 {
		cfg.Bridge.WaitTimeoutMs = *waitMs
	}

	switch fs.NArg() {
	case 1:
	case 2:
		cfg.Log.File = fs.Arg(1)
	default:
		fs.Usage()
		return int(bridge.ExitUsage)
	}
	cfg.Device.Path = fs.Arg(0)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "comproxy: %v\n", err)
		return int(bridge.ExitUsage)
	}
	lvl, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comproxy: %v\n", err)
		return int(bridge.ExitUsage)
	}

	logDest := io.Writer(os.Stderr)
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "comproxy: open log file: %v\n", err)
			return int(bridge.ExitLogFile)
		}
		defer f.Close()
		logDest = f
	}
	log := logging.New(logDest, lvl)

	ch, err := openDevice(cfg.Device)
	if err != nil {
		log.Error("open device failed", "path", cfg.Device.Path, "backend", cfg.Device.Backend, "err", err)
		return int(bridge.ExitDeviceOpen)
	}

	log.Info("comproxy start",
		"version", comproxy.Version,
		"device", cfg.Device.Path,
		"backend", cfg.Device.Backend,
	)
	b := comproxy.New(ch, os.Stdin, os.Stdout,
		comproxy.WithLogger(log),
		comproxy.WithCapacity(cfg.Bridge.Capacity),
		comproxy.WithWaitTimeout(cfg.Bridge.WaitTimeout()),
	)
	return int(b.Run())
}

func openDevice(d config.DeviceConfig) (device.Channel, error) {
	switch d.Backend {
	case config.BackendStream:
		f, err := os.OpenFile(d.Path, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		return device.NewStream(f), nil
	case config.BackendURing:
		return device.OpenURing(d.Path)
	default:
		return device.OpenSerial(d.Path, d.PortConfig())
	}
}
