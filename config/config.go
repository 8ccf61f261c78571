// Package config loads comproxy settings from a YAML file.
//
// Every field is optional. Load starts from the defaults returned by
// Default and overlays the file on top, so a configuration file only
// names the settings it changes:
//
//	device:
//	  path: /dev/ttyUSB0
//	  backend: serial
//	  baud_rate: 115200
//	bridge:
//	  capacity: 256
//	  wait_timeout_ms: 2000
//	log:
//	  level: debug
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smnsjas/go-comproxy/bridge"
	"github.com/smnsjas/go-comproxy/device"
	"github.com/smnsjas/go-comproxy/logging"
)

// Backend names accepted by DeviceConfig.Backend.
const (
	BackendSerial = "serial"
	BackendStream = "stream"
	BackendURing  = "uring"
)

// Config is the root comproxy configuration.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Bridge BridgeConfig `yaml:"bridge"`
	Log    LogConfig    `yaml:"log"`
}

// DeviceConfig selects and tunes the device backend.
type DeviceConfig struct {
	Path          string `yaml:"path"`
	Backend       string `yaml:"backend"`         // serial, stream, uring
	BaudRate      int    `yaml:"baud_rate"`
	DataBits      int    `yaml:"data_bits"`
	Parity        string `yaml:"parity"`          // none, odd, even
	StopBits      int    `yaml:"stop_bits"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"` // serial read slice in milliseconds
	StatusPollMs  int    `yaml:"status_poll_ms"`  // modem line poll interval in milliseconds
	AssertDTR     bool   `yaml:"assert_dtr"`
	AssertRTS     bool   `yaml:"assert_rts"`
}

// BridgeConfig tunes the session queues and the coordinator.
type BridgeConfig struct {
	Capacity      int `yaml:"capacity"`        // usable bytes per direction queue
	WaitTimeoutMs int `yaml:"wait_timeout_ms"` // coordinator wait bound in milliseconds
}

// LogConfig tunes session diagnostics.
type LogConfig struct {
	Level string `yaml:"level"` // info, debug, trace
	File  string `yaml:"file"`  // empty logs to stderr
}

// Default returns the built-in configuration: a 9600 8N1 serial device
// bridged with the stock queue sizes and wait timeout, logging at trace.
func Default() Config {
	port := device.DefaultPortConfig()
	return Config{
		Device: DeviceConfig{
			Backend:       BackendSerial,
			BaudRate:      port.BaudRate,
			DataBits:      port.DataBits,
			Parity:        port.Parity,
			StopBits:      port.StopBits,
			ReadTimeoutMs: int(port.ReadTimeout / time.Millisecond),
			StatusPollMs:  int(port.StatusPollInterval / time.Millisecond),
			AssertDTR:     port.AssertDTR,
			AssertRTS:     port.AssertRTS,
		},
		Bridge: BridgeConfig{
			Capacity:      bridge.DefaultCapacity,
			WaitTimeoutMs: int(bridge.DefaultWaitTimeout / time.Millisecond),
		},
		Log: LogConfig{
			Level: "trace",
		},
	}
}

// Load reads and parses a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field consistency. The device path is not required
// here so callers can take it from the command line instead.
func (c Config) Validate() error {
	switch c.Device.Backend {
	case BackendSerial, BackendStream, BackendURing:
	default:
		return fmt.Errorf("unknown device backend %q", c.Device.Backend)
	}
	switch c.Device.Parity {
	case "", "none", "odd", "even":
	default:
		return fmt.Errorf("unknown parity %q", c.Device.Parity)
	}
	if c.Bridge.Capacity < 1 {
		return fmt.Errorf("bridge capacity must be positive, got %d", c.Bridge.Capacity)
	}
	if c.Bridge.WaitTimeoutMs < 1 {
		return fmt.Errorf("bridge wait timeout must be positive, got %dms", c.Bridge.WaitTimeoutMs)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// PortConfig converts the device section into the serial backend
// configuration.
func (d DeviceConfig) PortConfig() device.PortConfig {
	return device.PortConfig{
		BaudRate:           d.BaudRate,
		DataBits:           d.DataBits,
		Parity:             d.Parity,
		StopBits:           d.StopBits,
		ReadTimeout:        time.Duration(d.ReadTimeoutMs) * time.Millisecond,
		StatusPollInterval: time.Duration(d.StatusPollMs) * time.Millisecond,
		AssertDTR:          d.AssertDTR,
		AssertRTS:          d.AssertRTS,
	}
}

// WaitTimeout returns the coordinator wait bound as a duration.
func (b BridgeConfig) WaitTimeout() time.Duration {
	return time.Duration(b.WaitTimeoutMs) * time.Millisecond
}
