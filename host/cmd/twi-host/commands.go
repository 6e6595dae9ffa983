package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"
	"tinygo.org/x/drivers/at24cx"

	"megatwi/core"
)

func (a *app) scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List the addresses that acknowledge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := a.remote.Scan()
			if err != nil {
				return err
			}
			printScan(a.out, found)
			return nil
		},
	}
}

// printScan draws the address map the way i2cdetect does
func printScan(w io.Writer, found []core.I2CAddress) {
	present := make(map[core.I2CAddress]bool, len(found))
	for _, addr := range found {
		present[addr] = true
	}

	fmt.Fprintln(w, "     0  1  2  3  4  5  6  7  8  9  a  b  c  d  e  f")
	for row := 0; row < 0x80; row += 0x10 {
		var line strings.Builder
		fmt.Fprintf(&line, "%02x:", row)
		for col := 0; col < 0x10; col++ {
			addr := core.I2CAddress(row + col)
			switch {
			case addr < core.ScanFirst || addr > core.ScanLast:
				line.WriteString("   ")
			case present[addr]:
				fmt.Fprintf(&line, " %02x", uint8(addr))
			default:
				line.WriteString(" --")
			}
		}
		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}
}

func (a *app) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <addr> <reg> <count>",
		Short: "Write a register number, then read count bytes",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			reg, err := parseByte(args[1])
			if err != nil {
				return err
			}
			n, err := parseCount(args[2], 1<<16)
			if err != nil {
				return err
			}

			dev := &i2c.Dev{Bus: a.bus, Addr: uint16(addr)}
			r := make([]byte, n)
			if err := dev.Tx([]byte{reg}, r); err != nil {
				return err
			}
			printDump(a.out, int(reg), r)
			return nil
		},
	}
}

func (a *app) writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <addr> <byte>...",
		Short: "Write bytes in one transaction",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			data, err := parseBytes(args[1:])
			if err != nil {
				return err
			}

			dev := &i2c.Dev{Bus: a.bus, Addr: uint16(addr)}
			n, err := dev.Write(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %d byte(s) to %s\n", n, dev)
			return nil
		},
	}
}

func (a *app) eepromCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eeprom",
		Short: "Read and write an AT24Cxx EEPROM",
	}

	var text bool
	read := &cobra.Command{
		Use:   "read <offset> <count>",
		Short: "Read count bytes starting at offset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := parseCount(args[0], int(a.cfg.EEPROM.Size)-1)
			if err != nil {
				return err
			}
			n, err := parseCount(args[1], int(a.cfg.EEPROM.Size)-off)
			if err != nil {
				return err
			}

			dev := a.eeprom()
			buf := make([]byte, n)
			if _, err := dev.ReadAt(buf, int64(off)); err != nil {
				return err
			}
			if text {
				fmt.Fprintf(a.out, "%q\n", buf)
				return nil
			}
			printDump(a.out, off, buf)
			return nil
		},
	}
	read.Flags().BoolVar(&text, "text", false, "Print the contents as a quoted string")

	write := &cobra.Command{
		Use:   "write <offset> <byte>...",
		Short: "Write bytes starting at offset",
		Long:  "Write bytes starting at offset. With --text the remaining arguments are written as text, joined by spaces.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := parseCount(args[0], int(a.cfg.EEPROM.Size)-1)
			if err != nil {
				return err
			}
			var data []byte
			if text {
				data = []byte(strings.Join(args[1:], " "))
			} else if data, err = parseBytes(args[1:]); err != nil {
				return err
			}
			if off+len(data) > int(a.cfg.EEPROM.Size) {
				return fmt.Errorf("%d byte(s) at %#x run past the end of a %d byte EEPROM", len(data), off, a.cfg.EEPROM.Size)
			}

			dev := a.eeprom()
			n, err := dev.WriteAt(data, int64(off))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %d byte(s) at %#04x\n", n, off)
			return nil
		},
	}
	write.Flags().BoolVar(&text, "text", false, "Write the arguments as text")

	cmd.AddCommand(read, write)
	return cmd
}

// eeprom returns the configured part on the open bus. The i2c.Bus Tx
// method has the drivers.I2C signature, so the trace recorder sits in
// between unchanged.
func (a *app) eeprom() *at24cx.Device {
	dev := at24cx.New(a.bus)
	dev.Address = uint16(a.cfg.EEPROM.Address)
	dev.Configure(at24cx.Config{
		PageSize:      a.cfg.EEPROM.PageSize,
		EndRAMAddress: a.cfg.EEPROM.Size,
	})
	return &dev
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the firmware's master state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printStatus()
		},
	}
}

func (a *app) printStatus() error {
	st, err := a.remote.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "state=%s pending=%d status=%#02x bus=%s\n",
		st.State, st.PendingReads, uint8(st.Hardware), st.Hardware.BusState())
	return nil
}

func (a *app) dictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dict",
		Short: "Print the firmware command dictionary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(a.out, a.remote.Dictionary())
			return nil
		},
	}
}

// printDump prints data sixteen bytes per line, labelled from base
func printDump(w io.Writer, base int, data []byte) {
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(w, "%04x: % x\n", base+i, data[i:end])
	}
}

func parseAddr(s string) (core.I2CAddress, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || v > 0x7F {
		return 0, fmt.Errorf("bad address %q: want 0x00..0x7f", s)
	}
	return core.I2CAddress(v), nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad byte %q", s)
	}
	return byte(v), nil
}

func parseBytes(args []string) ([]byte, error) {
	out := make([]byte, 0, len(args))
	for _, s := range args {
		b, err := parseByte(s)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// parseCount parses a non-negative number no larger than max
func parseCount(s string, max int) (int, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil || int(v) > max {
		return 0, fmt.Errorf("bad count %q: want 0..%d", s, max)
	}
	return int(v), nil
}
