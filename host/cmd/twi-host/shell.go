package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
)

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Drive the master primitives interactively",
		Long:  "Read commands from standard input and run each as one bridge request. Type 'help' for the command list.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.shell(cmd.InOrStdin())
		},
	}
}

// shell runs the interactive loop until EOF or quit
func (a *app) shell(in io.Reader) error {
	fmt.Fprintf(a.out, "Connected to %s (%s). Type 'help' for commands.\n", a.remote, a.remote.Version())
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(a.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}

		parts, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(a.out, "error: %v\n", err)
			continue
		}
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			printShellHelp(a.out)
		default:
			if err := a.shellCommand(parts[0], parts[1:]); err != nil {
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
		}
	}
}

func (a *app) shellCommand(name string, args []string) error {
	switch name {
	case "start", "restart":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: %s <addr> [read_count]", name)
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		count := 0
		if len(args) == 2 {
			if count, err = parseCount(args[1], 0xFFFF); err != nil {
				return err
			}
		}
		if name == "restart" {
			return a.remote.Restart(addr, count)
		}
		return a.remote.Start(addr, count)

	case "write", "w":
		data, err := parseBytes(args)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return fmt.Errorf("usage: write <byte>...")
		}
		for _, b := range data {
			if err := a.remote.WriteByte(b); err != nil {
				return err
			}
		}
		return nil

	case "read", "r":
		b, err := a.remote.ReadByte()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%#02x\n", b)
		return nil

	case "readlast", "rl":
		b, err := a.remote.ReadLast()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%#02x\n", b)
		return nil

	case "stop":
		return a.remote.Stop()

	case "status":
		return a.printStatus()

	case "speed":
		if len(args) != 1 {
			return fmt.Errorf("usage: speed <hz>")
		}
		hz, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return fmt.Errorf("bad frequency %q", args[0])
		}
		return a.remote.SetSpeed(physic.Frequency(hz) * physic.Hertz)

	case "tx":
		if len(args) < 2 {
			return fmt.Errorf("usage: tx <addr> <read_len> [byte]...")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		n, err := parseCount(args[1], 0xFFFF)
		if err != nil {
			return err
		}
		w, err := parseBytes(args[2:])
		if err != nil {
			return err
		}
		r := make([]byte, n)
		if err := a.bus.Tx(uint16(addr), w, r); err != nil {
			return err
		}
		if n > 0 {
			printDump(a.out, 0, r)
		}
		return nil

	case "scan":
		found, err := a.remote.Scan()
		if err != nil {
			return err
		}
		printScan(a.out, found)
		return nil

	case "dict":
		fmt.Fprint(a.out, a.remote.Dictionary())
		return nil
	}
	return fmt.Errorf("unknown command %q (try 'help')", name)
}

func printShellHelp(w io.Writer) {
	fmt.Fprint(w, `Bus primitives (one bridge request each):
  start <addr> [n]     START, address for write, or for reading n bytes
  restart <addr> [n]   repeated START
  write <byte>...      send data bytes (w)
  read                 receive and ACK one byte (r)
  readlast             receive the final byte and NACK it (rl)
  stop                 STOP and release the bus
Transactions:
  tx <addr> <n> [byte]...  write bytes, then read n bytes
  scan                 probe 0x08..0x77
Other:
  status               master state and raw status register
  speed <hz>           reprogram the SCL frequency
  dict                 firmware command dictionary
  help                 this list
  quit                 leave the shell
`)
}
