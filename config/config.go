// Package config loads host tool settings: which serial device carries
// the bridge, the bus speed to program, and the simulated peers used when
// no hardware is attached. Files are YAML; JSON is accepted too since it
// is valid YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"megatwi/core"
	"megatwi/host/serial"
)

// Config is the host tool configuration
type Config struct {
	Serial serial.Config `yaml:"serial" json:"serial"`
	Bus    BusConfig     `yaml:"bus" json:"bus"`
	Bridge BridgeConfig  `yaml:"bridge" json:"bridge"`
	EEPROM EEPROMConfig  `yaml:"eeprom" json:"eeprom"`

	// Sim lists the peers attached to the simulated bus (--sim)
	Sim []PeerConfig `yaml:"sim" json:"sim"`
}

// BusConfig selects the bus timing
type BusConfig struct {
	// Profile is "standard" (100 kHz), "fast" (400 kHz) or "fast-plus" (1 MHz)
	Profile string `yaml:"profile" json:"profile"`

	// FrequencyHz and RiseTimeNs override the profile when non-zero
	FrequencyHz uint32 `yaml:"frequency_hz" json:"frequency_hz"`
	RiseTimeNs  uint32 `yaml:"rise_time_ns" json:"rise_time_ns"`

	CoreClockHz uint32 `yaml:"core_clock_hz" json:"core_clock_hz"`
	PollLimit   int    `yaml:"poll_limit" json:"poll_limit"`
	SDA         uint8  `yaml:"sda" json:"sda"`
	SCL         uint8  `yaml:"scl" json:"scl"`
}

// BridgeConfig controls the host side of the bridge protocol
type BridgeConfig struct {
	TimeoutMs int `yaml:"timeout_ms" json:"timeout_ms"` // Per request
	Retries   int `yaml:"retries" json:"retries"`       // Retransmissions before giving up
}

// EEPROMConfig describes the AT24Cxx part used by the eeprom command
type EEPROMConfig struct {
	Address  uint8  `yaml:"address" json:"address"`
	PageSize uint16 `yaml:"page_size" json:"page_size"`
	Size     uint16 `yaml:"size" json:"size"`
}

// PeerConfig is one simulated device
type PeerConfig struct {
	Addr      uint8  `yaml:"addr" json:"addr"`
	Size      int    `yaml:"size" json:"size"`
	AddrWidth int    `yaml:"addr_width" json:"addr_width"`
	Fill      []byte `yaml:"fill" json:"fill"` // Initial memory contents
}

// Bus profile names
const (
	ProfileStandard = "standard"
	ProfileFast     = "fast"
	ProfileFastPlus = "fast-plus"
)

// LoadConfig parses a YAML (or JSON) configuration and returns it with
// defaults applied
func LoadConfig(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *Config) {
	// Serial link
	def := serial.DefaultConfig(config.Serial.Device)
	if config.Serial.Baud == 0 {
		config.Serial.Baud = def.Baud
	}
	if config.Serial.ReadTimeout == 0 {
		config.Serial.ReadTimeout = def.ReadTimeout
	}

	// Bus timing
	if config.Bus.Profile == "" {
		config.Bus.Profile = ProfileFast
	}
	config.Bus.Profile = strings.ToLower(config.Bus.Profile)
	if config.Bus.CoreClockHz == 0 {
		config.Bus.CoreClockHz = core.DefaultCoreClockHz
	}
	if config.Bus.PollLimit == 0 {
		config.Bus.PollLimit = core.DefaultPollLimit
	}

	// Bridge
	if config.Bridge.TimeoutMs == 0 {
		config.Bridge.TimeoutMs = 250
	}
	if config.Bridge.Retries == 0 {
		config.Bridge.Retries = 3
	}

	// EEPROM: AT24C32 at its usual module address
	if config.EEPROM.Address == 0 {
		config.EEPROM.Address = 0x57
	}
	if config.EEPROM.PageSize == 0 {
		config.EEPROM.PageSize = 32
	}
	if config.EEPROM.Size == 0 {
		config.EEPROM.Size = 4096
	}

	// Simulated peers
	for i := range config.Sim {
		p := &config.Sim[i]
		if p.Size == 0 {
			p.Size = 256
		}
		if p.AddrWidth == 0 {
			p.AddrWidth = 1
		}
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if _, err := c.Bus.BusProfile(); err != nil {
		return err
	}
	if c.Bridge.Retries < 0 {
		return fmt.Errorf("bridge.retries must not be negative")
	}
	if c.EEPROM.Address > 0x7F {
		return fmt.Errorf("eeprom.address %#x is not a 7-bit address", c.EEPROM.Address)
	}
	seen := make(map[uint8]bool)
	for _, p := range c.Sim {
		if p.Addr > 0x7F {
			return fmt.Errorf("sim peer %#x is not a 7-bit address", p.Addr)
		}
		if seen[p.Addr] {
			return fmt.Errorf("sim peer %#x listed twice", p.Addr)
		}
		seen[p.Addr] = true
		if p.AddrWidth != 1 && p.AddrWidth != 2 {
			return fmt.Errorf("sim peer %#x: addr_width must be 1 or 2", p.Addr)
		}
		if len(p.Fill) > p.Size {
			return fmt.Errorf("sim peer %#x: fill is larger than size", p.Addr)
		}
	}
	_, err := c.Bus.Core()
	return err
}

// BusProfile resolves the named profile and applies the overrides.
func (b BusConfig) BusProfile() (core.BusProfile, error) {
	var p core.BusProfile
	switch b.Profile {
	case ProfileStandard, "100k":
		p = core.Profile100kHz
	case ProfileFast, "400k", "":
		p = core.Profile400kHz
	case ProfileFastPlus, "1m":
		p = core.Profile1MHz
	default:
		return p, fmt.Errorf("unknown bus profile %q", b.Profile)
	}
	if b.FrequencyHz != 0 {
		p.FrequencyHz = b.FrequencyHz
	}
	if b.RiseTimeNs != 0 {
		p.RiseTimeNs = b.RiseTimeNs
	}
	return p, nil
}

// Core returns the driver configuration. It fails when the divider for the
// requested speed does not fit the baud register.
func (b BusConfig) Core() (core.BusConfig, error) {
	p, err := b.BusProfile()
	if err != nil {
		return core.BusConfig{}, err
	}
	cfg := core.BusConfig{
		BusProfile:  p,
		CoreClockHz: b.CoreClockHz,
		SDA:         core.GPIOPin(b.SDA),
		SCL:         core.GPIOPin(b.SCL),
		PollLimit:   b.PollLimit,
	}
	if _, err := cfg.BaudDivider(); err != nil {
		return core.BusConfig{}, fmt.Errorf("bus %d Hz at %d Hz core clock: %w", p.FrequencyHz, b.CoreClockHz, err)
	}
	return cfg, nil
}
