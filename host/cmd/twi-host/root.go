package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"megatwi/config"
	"megatwi/core"
	"megatwi/host/bridge"
	"megatwi/host/serial"
	"megatwi/targets/sim"
)

// busName is the name the open bus is registered under in i2creg
const busName = "twi-host"

// app is the state shared by the subcommands of one invocation
type app struct {
	configPath string
	device     string
	baud       int
	simulate   bool
	trace      bool
	verbose    bool

	cfg    *config.Config
	remote *bridge.Bus
	bus    i2c.Bus         // What device commands talk to
	rec    *i2ctest.Record // Non-nil with --trace
	master *core.Master    // Simulated firmware's master, --sim only

	out    io.Writer
	errOut io.Writer
}

// run executes one command line
func run(args []string, in io.Reader, out, errOut io.Writer) error {
	a := &app{out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.Execute()
	if cerr := a.shutdown(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "twi-host",
		Short:         "Drive a TWI bus through the bridge firmware",
		Long:          "Drive a TWI bus attached to a microcontroller running the bridge firmware, or a simulated bus with --sim.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&a.device, "device", "d", "", "Serial device of the bridge (overrides serial.device)")
	flags.IntVarP(&a.baud, "baud", "b", 0, "Serial baud rate (overrides serial.baud)")
	flags.BoolVar(&a.simulate, "sim", false, "Run against a simulated bus instead of a serial device")
	flags.BoolVarP(&a.trace, "trace", "t", false, "Print every transaction after the command")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Print firmware debug output (--sim only)")

	root.AddCommand(
		a.scanCmd(),
		a.readCmd(),
		a.writeCmd(),
		a.eepromCmd(),
		a.statusCmd(),
		a.dictCmd(),
		a.shellCmd(),
	)
	return root
}

// open loads the configuration and connects to the bus
func (a *app) open() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
	} else {
		a.cfg = config.Default()
	}
	if err != nil {
		return err
	}
	if a.device != "" {
		a.cfg.Serial.Device = a.device
	}
	if a.baud != 0 {
		a.cfg.Serial.Baud = a.baud
	}

	bcfg := bridge.Config{
		Timeout: time.Duration(a.cfg.Bridge.TimeoutMs) * time.Millisecond,
		Retries: a.cfg.Bridge.Retries,
	}
	if a.simulate {
		err = a.openSim(bcfg)
	} else {
		err = a.openSerial(bcfg)
	}
	if err != nil {
		return err
	}

	if err := i2creg.Register(busName, nil, -1, func() (i2c.BusCloser, error) { return a.remote, nil }); err != nil {
		return err
	}
	bc, err := i2creg.Open(busName)
	if err != nil {
		return err
	}
	a.bus = bc
	if a.trace {
		a.rec = &i2ctest.Record{Bus: bc}
		a.bus = a.rec
	}
	return nil
}

func (a *app) openSerial(bcfg bridge.Config) error {
	port, err := serial.Open(&a.cfg.Serial)
	if err != nil {
		return err
	}
	a.remote, err = bridge.Open(port, a.cfg.Serial.Device, bcfg)
	if err != nil {
		return err
	}

	p, err := a.cfg.Bus.BusProfile()
	if err != nil {
		return err
	}
	return a.remote.SetSpeed(physic.Frequency(p.FrequencyHz) * physic.Hertz)
}

// openSim builds the configured peers, runs the firmware bridge over them
// and connects to it through an in-memory link. Without configured peers
// the EEPROM from the eeprom section is attached.
func (a *app) openSim(bcfg bridge.Config) error {
	busCfg, err := a.cfg.Bus.Core()
	if err != nil {
		return err
	}

	peers := a.cfg.Sim
	if len(peers) == 0 {
		peers = []config.PeerConfig{{
			Addr:      a.cfg.EEPROM.Address,
			Size:      int(a.cfg.EEPROM.Size),
			AddrWidth: 2,
		}}
	}
	wire := sim.NewBus()
	for _, p := range peers {
		mp := sim.NewMemoryPeer(p.Addr, p.Size, p.AddrWidth)
		copy(mp.Mem, p.Fill)
		wire.Attach(mp)
	}

	if a.verbose {
		core.SetDebugWriter(func(s string) { fmt.Fprintln(a.errOut, s) })
		core.SetDebugEnabled(true)
	}

	a.master = core.NewMaster(wire, &sim.Pins{}, busCfg)
	if err := a.master.Init(); err != nil {
		return err
	}
	a.remote, err = bridge.Loopback(core.NewBridge(core.NewTWIBus(a.master)), "sim", bcfg)
	return err
}

// shutdown closes the bus and prints the trace
func (a *app) shutdown() error {
	if a.remote == nil {
		return nil
	}
	_ = i2creg.Unregister(busName)
	err := a.remote.Close()
	a.remote = nil

	if a.rec != nil {
		for _, op := range a.rec.Ops {
			fmt.Fprintf(a.out, "tx %#02x w=[% x] r=[% x]\n", op.Addr, op.W, op.R)
		}
	}
	// Every bus operation finished before its response was read.
	if a.trace && a.master != nil {
		a.master.Events.Dump(func(s string) { fmt.Fprintln(a.out, s) })
	}
	if a.verbose {
		core.SetDebugEnabled(false)
	}
	return err
}
