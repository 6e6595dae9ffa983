package bridge

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/at24cx"

	"megatwi/core"
	"megatwi/targets/sim"
)

var (
	_ i2c.BusCloser  = (*Bus)(nil)
	_ drivers.I2C    = (*Bus)(nil)
	_ core.I2CDriver = (*Bus)(nil)
)

// newRemote returns a Bus talking to bridge firmware that drives a
// simulated bus.
func newRemote(c *qt.C, peers ...sim.Peer) (*Bus, *sim.Bus) {
	wire := sim.NewBus(peers...)
	m := core.NewMaster(wire, &sim.Pins{}, core.DefaultBusConfig(0, 1))
	c.Assert(m.Init(), qt.IsNil)

	b, err := Loopback(core.NewBridge(core.NewTWIBus(m)), "sim", DefaultConfig())
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { b.Close() })
	wire.Reset()
	return b, wire
}

func TestOpenIdentifies(t *testing.T) {
	c := qt.New(t)

	b, _ := newRemote(c)
	c.Assert(b.Version(), qt.Equals, "megatwi-1")
	c.Assert(b.commands, qt.HasLen, 11)
	c.Assert(b.commands["identify"], qt.Equals, uint16(0))
	c.Assert(b.String(), qt.Equals, "bridge(sim)")
}

func TestRemotePrimitives(t *testing.T) {
	c := qt.New(t)

	peer := sim.NewMemoryPeer(0x50, 256, 1)
	peer.Mem[0x10] = 0xAB
	peer.Mem[0x11] = 0xCD
	b, wire := newRemote(c, peer)

	c.Assert(b.Start(0x50, 0), qt.IsNil)
	c.Assert(b.WriteByte(0x10), qt.IsNil)
	c.Assert(b.Restart(0x50, 2), qt.IsNil)

	st, err := b.Status()
	c.Assert(err, qt.IsNil)
	c.Assert(st.State, qt.Equals, core.StateReading)
	c.Assert(st.PendingReads, qt.Equals, 2)
	c.Assert(st.Hardware.BusState(), qt.Equals, core.BusOwner)

	v, err := b.ReadByte()
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, byte(0xAB))
	v, err = b.ReadLast()
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, byte(0xCD))

	_, err = b.ReadByte()
	c.Assert(err, qt.ErrorIs, core.ErrReadOverrun)

	c.Assert(b.Stop(), qt.IsNil)
	c.Assert(wire.BusState(), qt.Equals, core.BusIdle)
}

func TestRemoteErrors(t *testing.T) {
	c := qt.New(t)

	b, _ := newRemote(c, sim.NewMemoryPeer(0x50, 16, 1))

	err := b.Start(0x42, 0)
	c.Assert(err, qt.ErrorIs, core.ErrAddressNACK)
	var cmdErr *CommandError
	c.Assert(errors.As(err, &cmdErr), qt.IsTrue)
	c.Assert(cmdErr.Command, qt.Equals, "twi_start")
	c.Assert(cmdErr.Status, qt.Equals, core.StatusAddressNACK)
	c.Assert(err.Error(), qt.Equals, "bridge: twi_start: twi: address not acknowledged")

	c.Assert(b.WriteByte(0x00), qt.ErrorIs, core.ErrWrongDirection)
	c.Assert(b.Start(0x80, 0), qt.Equals, core.ErrInvalidAddress)
	c.Assert(b.Restart(0x50, -1), qt.Equals, core.ErrInvalidReadCount)
	c.Assert(b.Tx(0x80, nil, nil), qt.Equals, core.ErrInvalidAddress)

	err = b.Tx(0x42, []byte{0x00}, nil)
	c.Assert(err, qt.ErrorIs, core.ErrAddressNACK)
}

func TestRemoteTx(t *testing.T) {
	c := qt.New(t)

	peer := sim.NewMemoryPeer(0x50, 256, 1)
	b, wire := newRemote(c, peer)

	c.Assert(b.Tx(0x50, []byte{0x20, 1, 2, 3}, nil), qt.IsNil)
	r := make([]byte, 3)
	c.Assert(b.Tx(0x50, []byte{0x20}, r), qt.IsNil)
	c.Assert(r, qt.DeepEquals, []byte{1, 2, 3})

	got, err := b.Read(0x50, []byte{0x21}, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []byte{2, 3})
	c.Assert(b.Write(0x50, []byte{0x00, 0xEE}), qt.IsNil)
	c.Assert(peer.Mem[0], qt.Equals, byte(0xEE))
	c.Assert(wire.BusState(), qt.Equals, core.BusIdle)
}

func TestRemoteTxLongTransfers(t *testing.T) {
	c := qt.New(t)

	peer := sim.NewMemoryPeer(0x50, 256, 1)
	b, wire := newRemote(c, peer)

	w := make([]byte, 1+TxWriteMax+10)
	for i := 1; i < len(w); i++ {
		w[i] = byte(i)
	}
	c.Assert(b.Tx(0x50, w, nil), qt.IsNil)
	c.Assert(peer.Mem[:len(w)-1], qt.DeepEquals, w[1:])

	r := make([]byte, core.TxReadMax+20)
	wire.Reset()
	c.Assert(b.Tx(0x50, []byte{0x00}, r), qt.IsNil)
	c.Assert(r[:len(w)-1], qt.DeepEquals, w[1:])
	c.Assert(wire.BusState(), qt.Equals, core.BusIdle)

	// One START, one repeated START, one STOP.
	var starts, stops int
	for _, op := range wire.Ops {
		switch op.Kind {
		case sim.OpStart:
			starts++
		case sim.OpStop:
			stops++
		}
	}
	c.Assert(starts, qt.Equals, 2)
	c.Assert(stops, qt.Equals, 1)

	// A NACK in the middle of a long write releases the bus.
	peer.NACKAfter = 5
	err := b.Tx(0x50, w, nil)
	c.Assert(err, qt.ErrorIs, core.ErrDataNACK)
	c.Assert(wire.BusState(), qt.Equals, core.BusIdle)
	st, err := b.Status()
	c.Assert(err, qt.IsNil)
	c.Assert(st.State, qt.Equals, core.StateIdle)
}

func TestRemoteScan(t *testing.T) {
	c := qt.New(t)

	b, _ := newRemote(c, sim.NewMemoryPeer(0x3C, 16, 1), sim.NewMemoryPeer(0x57, 16, 2))
	found, err := b.Scan()
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.DeepEquals, []core.I2CAddress{0x3C, 0x57})
}

func TestRemoteSetSpeed(t *testing.T) {
	c := qt.New(t)

	b, wire := newRemote(c)

	c.Assert(b.SetSpeed(physic.MegaHertz), qt.IsNil)
	c.Assert(wire.Baud(), qt.Equals, uint8(4))
	c.Assert(b.SetSpeed(100*physic.KiloHertz), qt.IsNil)
	c.Assert(wire.Baud(), qt.Equals, uint8(85))

	c.Assert(b.SetSpeed(0), qt.Equals, core.ErrInvalidBaud)
	c.Assert(b.SetSpeed(2*physic.MegaHertz), qt.Equals, core.ErrInvalidBaud)
	c.Assert(b.SetSpeed(10*physic.KiloHertz), qt.ErrorIs, core.ErrBadArgument)
}

func TestProfileFor(t *testing.T) {
	c := qt.New(t)

	c.Assert(ProfileFor(50000), qt.Equals, core.BusProfile{FrequencyHz: 50000, RiseTimeNs: 1000})
	c.Assert(ProfileFor(400000), qt.Equals, core.Profile400kHz)
	c.Assert(ProfileFor(800000), qt.Equals, core.BusProfile{FrequencyHz: 800000, RiseTimeNs: 120})
}

func TestPeriphDevOverBridge(t *testing.T) {
	c := qt.New(t)

	peer := sim.NewMemoryPeer(0x68, 128, 1)
	copy(peer.Mem[0x75:], []byte{0x71})
	b, _ := newRemote(c, peer)

	rec := &i2ctest.Record{Bus: b}
	dev := &i2c.Dev{Bus: rec, Addr: 0x68}

	who := make([]byte, 1)
	c.Assert(dev.Tx([]byte{0x75}, who), qt.IsNil)
	c.Assert(who[0], qt.Equals, byte(0x71))

	n, err := dev.Write([]byte{0x6B, 0x00})
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 2)

	c.Assert(rec.Ops, qt.DeepEquals, []i2ctest.IO{
		{Addr: 0x68, W: []byte{0x75}, R: []byte{0x71}},
		{Addr: 0x68, W: []byte{0x6B, 0x00}},
	})
}

func TestAT24CXOverBridge(t *testing.T) {
	c := qt.New(t)

	peer := sim.NewMemoryPeer(at24cx.Address, 4096, 2)
	b, _ := newRemote(c, peer)

	eeprom := at24cx.New(b)
	eeprom.Configure(at24cx.Config{})

	data := []byte("bridge eeprom test across a page boundary")
	_, err := eeprom.WriteAt(data, 0x1F0)
	c.Assert(err, qt.IsNil)
	c.Assert(peer.Mem[0x1F0:0x1F0+len(data)], qt.DeepEquals, data)

	out := make([]byte, len(data))
	_, err = eeprom.ReadAt(out, 0x1F0)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.DeepEquals, data)
}
