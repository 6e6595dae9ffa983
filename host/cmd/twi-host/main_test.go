package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"megatwi/core"
	"megatwi/host/serial"
)

const simConfig = `
bus:
  profile: fast
bridge:
  timeout_ms: 500
sim:
  - addr: 0x1d
    fill: [1, 2, 3]
  - addr: 0x50
    size: 4096
    addr_width: 2
    fill: [0x6d, 0x65, 0x67, 0x61]
eeprom:
  address: 0x50
`

// runCLI runs one command line against the simulated bus described by cfg
func runCLI(c *qt.C, cfg, stdin string, args ...string) (string, error) {
	path := filepath.Join(c.TempDir(), "twi-host.yaml")
	c.Assert(os.WriteFile(path, []byte(cfg), 0o644), qt.IsNil)

	var out, errOut bytes.Buffer
	err := run(append([]string{"--config", path, "--sim"}, args...), strings.NewReader(stdin), &out, &errOut)
	return out.String(), err
}

func TestScan(t *testing.T) {
	c := qt.New(t)

	out, err := runCLI(c, simConfig, "", "scan")
	c.Assert(err, qt.IsNil)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	c.Assert(lines, qt.HasLen, 9)
	c.Assert(lines[1], qt.Equals, "00:                         -- -- -- -- -- -- -- --")
	c.Assert(lines[2], qt.Equals, "10: -- -- -- -- -- -- -- -- -- -- -- -- -- 1d -- --")
	c.Assert(strings.HasPrefix(lines[6], "50: 50 -- --"), qt.IsTrue)
	c.Assert(lines[8], qt.Equals, "70: -- -- -- -- -- -- -- --")
}

func TestReadRegisters(t *testing.T) {
	c := qt.New(t)

	out, err := runCLI(c, simConfig, "", "read", "0x1d", "0", "3")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "0000: 01 02 03\n")

	out, err = runCLI(c, simConfig, "", "read", "0x1d", "1", "2")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "0001: 02 03\n")
}

func TestWriteWithTrace(t *testing.T) {
	c := qt.New(t)

	out, err := runCLI(c, simConfig, "", "--trace", "write", "0x1d", "0x05", "0xaa")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "wrote 2 byte(s)")
	c.Assert(out, qt.Contains, "tx 0x1d w=[05 aa] r=[]\n")
	c.Assert(out, qt.Contains, "[TWI] === Bus Event Dump ===")
}

func TestEEPROM(t *testing.T) {
	c := qt.New(t)

	out, err := runCLI(c, simConfig, "", "eeprom", "read", "--text", "0", "4")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "\"mega\"\n")

	out, err = runCLI(c, simConfig, "", "--trace", "eeprom", "write", "0x10", "0x01", "0x02")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "wrote 2 byte(s) at 0x0010\n")
	c.Assert(out, qt.Contains, "tx 0x50 w=[00 10 01 02] r=[]\n")

	_, err = runCLI(c, simConfig, "", "eeprom", "write", "4095", "1", "2")
	c.Assert(err, qt.ErrorMatches, `2 byte\(s\) at 0xfff run past the end of a 4096 byte EEPROM`)
}

func TestShell(t *testing.T) {
	c := qt.New(t)

	script := strings.Join([]string{
		"start 0x1d",
		"write 1 0x42",
		"stop",
		"start 0x1d",
		"w 1",
		"restart 0x1d 2",
		"read",
		"readlast",
		"stop",
		"status",
		"read",
		"bogus",
		"tx 0x1d 3 0",
		`start "0x1d`,
		"quit",
		"status",
	}, "\n")
	out, err := runCLI(c, simConfig, script, "shell")
	c.Assert(err, qt.IsNil)

	c.Assert(out, qt.Contains, "Connected to bridge(sim) (megatwi-1)")
	c.Assert(out, qt.Contains, "> 0x42\n")
	c.Assert(out, qt.Contains, "> 0x03\n")
	c.Assert(out, qt.Contains, "state=idle pending=0")
	c.Assert(out, qt.Contains, "error: bridge: twi_read: ")
	c.Assert(out, qt.Contains, `error: unknown command "bogus"`)
	c.Assert(out, qt.Contains, "0000: 01 42 03\n")
	// An unterminated quote is a parse error, not a command.
	c.Assert(strings.Count(out, "error: "), qt.Equals, 3)
	// Nothing runs after quit.
	c.Assert(strings.Count(out, "state="), qt.Equals, 1)
}

func TestDict(t *testing.T) {
	c := qt.New(t)

	out, err := runCLI(c, simConfig, "", "dict")
	c.Assert(err, qt.IsNil)
	c.Assert(strings.HasPrefix(out, "version megatwi-1\nidentify "), qt.IsTrue)
	c.Assert(out, qt.Contains, "\ntwi_scan\n")
}

func TestErrors(t *testing.T) {
	c := qt.New(t)

	_, err := runCLI(c, simConfig, "", "read", "0x33", "0", "1")
	c.Assert(err, qt.ErrorIs, core.ErrAddressNACK)

	_, err = runCLI(c, simConfig, "", "read", "0x80", "0", "1")
	c.Assert(err, qt.ErrorMatches, `bad address "0x80": want 0x00..0x7f`)

	_, err = runCLI(c, "bus:\n  profile: warp\n", "", "scan")
	c.Assert(err, qt.ErrorMatches, `.*: unknown bus profile "warp"`)

	var out bytes.Buffer
	err = run([]string{"scan"}, strings.NewReader(""), &out, &out)
	c.Assert(err, qt.ErrorIs, serial.ErrNoDevice)
}
