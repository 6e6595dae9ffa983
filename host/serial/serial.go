// Package serial opens the UART link to the bridge firmware.
package serial

import (
	"io"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - In-process pipes to a simulated bridge (for testing and --sim)
type Port interface {
	io.ReadWriteCloser

	// Flush discards any unread input
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string `yaml:"device" json:"device"`

	// Baud rate of the bridge UART
	Baud int `yaml:"baud" json:"baud"`

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int `yaml:"read_timeout_ms" json:"read_timeout_ms"`
}

// DefaultBaud is the firmware UART rate. 115200 divides cleanly from a
// 20 MHz core clock.
const DefaultBaud = 115200

// DefaultConfig returns a default configuration for the bridge firmware
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100, // 100ms read timeout
	}
}
