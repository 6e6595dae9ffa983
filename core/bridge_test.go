package core_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"megatwi/core"
	"megatwi/protocol"
	"megatwi/targets/sim"
)

type bridgeHarness struct {
	c      *qt.C
	bridge *core.Bridge
	bus    *sim.Bus
	seq    uint8
}

func newBridgeHarness(c *qt.C, peers ...sim.Peer) *bridgeHarness {
	tb, bus := newTWIBus(c, peers...)
	return &bridgeHarness{c: c, bridge: core.NewBridge(tb), bus: bus, seq: protocol.MessageDest}
}

func (h *bridgeHarness) request(name string, args ...uint32) []byte {
	id, ok := h.bridge.Registry().Lookup(name)
	h.c.Assert(ok, qt.IsTrue, qt.Commentf("command %s", name))
	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(id))
	for _, a := range args {
		protocol.EncodeVLQUint(out, a)
	}
	return append([]byte(nil), out.Result()...)
}

// call sends one request frame and returns the status and the remaining
// response fields.
func (h *bridgeHarness) call(payload []byte) (core.StatusCode, []byte) {
	h.seq = protocol.NextSeq(h.seq)
	return h.send(h.seq, payload)
}

func (h *bridgeHarness) send(seq uint8, payload []byte) (core.StatusCode, []byte) {
	resp := h.bridge.HandleFrame(protocol.Frame{Seq: seq, Payload: payload})

	d := protocol.NewDecoder()
	d.Write(resp)
	f, ok := d.Next()
	h.c.Assert(ok, qt.IsTrue)
	h.c.Assert(f.Seq, qt.Equals, seq)

	data := f.Payload
	st, err := protocol.DecodeVLQUint(&data)
	h.c.Assert(err, qt.IsNil)
	return core.StatusCode(st), data
}

func TestBridgePrimitives(t *testing.T) {
	c := qt.New(t)

	peer := sim.NewMemoryPeer(0x50, 256, 1)
	peer.Mem[0x10] = 0xAB
	peer.Mem[0x11] = 0xCD
	h := newBridgeHarness(c, peer)

	st, _ := h.call(h.request("twi_start", 0x50, 0))
	c.Assert(st, qt.Equals, core.StatusOK)
	st, _ = h.call(h.request("twi_write", 0x10))
	c.Assert(st, qt.Equals, core.StatusOK)
	st, _ = h.call(h.request("twi_restart", 0x50, 2))
	c.Assert(st, qt.Equals, core.StatusOK)

	st, data := h.call(h.request("twi_read"))
	c.Assert(st, qt.Equals, core.StatusOK)
	v, err := protocol.DecodeVLQUint(&data)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, uint32(0xAB))

	st, data = h.call(h.request("twi_status"))
	c.Assert(st, qt.Equals, core.StatusOK)
	state, _ := protocol.DecodeVLQUint(&data)
	pending, _ := protocol.DecodeVLQUint(&data)
	c.Assert(core.TransactionState(state), qt.Equals, core.StateReading)
	c.Assert(pending, qt.Equals, uint32(1))

	st, data = h.call(h.request("twi_read_last"))
	c.Assert(st, qt.Equals, core.StatusOK)
	v, _ = protocol.DecodeVLQUint(&data)
	c.Assert(v, qt.Equals, uint32(0xCD))

	st, _ = h.call(h.request("twi_read"))
	c.Assert(st, qt.Equals, core.StatusReadOverrun)

	st, _ = h.call(h.request("twi_stop"))
	c.Assert(st, qt.Equals, core.StatusOK)
	c.Assert(h.bus.BusState(), qt.Equals, core.BusIdle)
}

func TestBridgeErrorsAsStatus(t *testing.T) {
	c := qt.New(t)

	h := newBridgeHarness(c, sim.NewMemoryPeer(0x50, 16, 1))

	st, data := h.call(h.request("twi_start", 0x22, 0))
	c.Assert(st, qt.Equals, core.StatusAddressNACK)
	c.Assert(data, qt.HasLen, 0)
	c.Assert(st.Err(), qt.Equals, core.ErrAddressNACK)

	st, _ = h.call(h.request("twi_write", 0x01))
	c.Assert(st, qt.Equals, core.StatusWrongDirection)

	// Address 0x150 does not fit a byte.
	st, _ = h.call(h.request("twi_start", 0x150, 0))
	c.Assert(st, qt.Equals, core.StatusInvalidArgument)

	// Missing arguments.
	st, _ = h.call(h.request("twi_start"))
	c.Assert(st, qt.Equals, core.StatusInvalidArgument)

	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, 200)
	st, _ = h.call(out.Result())
	c.Assert(st, qt.Equals, core.StatusUnknownCommand)

	st, _ = h.call(nil)
	c.Assert(st, qt.Equals, core.StatusInvalidArgument)
}

func TestBridgeTx(t *testing.T) {
	c := qt.New(t)

	peer := sim.NewMemoryPeer(0x50, 256, 1)
	h := newBridgeHarness(c, peer)

	// twi_tx addr write read_len
	req := func(addr uint8, w []byte, readLen uint8) []byte {
		id, _ := h.bridge.Registry().Lookup("twi_tx")
		out := protocol.NewScratchOutput()
		protocol.EncodeVLQUint(out, uint32(id))
		protocol.EncodeVLQUint(out, uint32(addr))
		protocol.EncodeVLQBytes(out, w)
		protocol.EncodeVLQUint(out, uint32(readLen))
		return append([]byte(nil), out.Result()...)
	}

	st, data := h.call(req(0x50, []byte{0x40, 1, 2, 3, 4}, 0))
	c.Assert(st, qt.Equals, core.StatusOK)
	r, err := protocol.DecodeVLQBytes(&data)
	c.Assert(err, qt.IsNil)
	c.Assert(r, qt.HasLen, 0)
	c.Assert(peer.Mem[0x40:0x44], qt.DeepEquals, []byte{1, 2, 3, 4})

	st, data = h.call(req(0x50, []byte{0x41}, 3))
	c.Assert(st, qt.Equals, core.StatusOK)
	r, err = protocol.DecodeVLQBytes(&data)
	c.Assert(err, qt.IsNil)
	c.Assert(r, qt.DeepEquals, []byte{2, 3, 4})

	st, _ = h.call(req(0x50, []byte{0x00}, core.TxReadMax+1))
	c.Assert(st, qt.Equals, core.StatusInvalidArgument)

	st, data = h.call(req(0x50, []byte{0x00}, core.TxReadMax))
	c.Assert(st, qt.Equals, core.StatusOK)
	r, _ = protocol.DecodeVLQBytes(&data)
	c.Assert(r, qt.HasLen, core.TxReadMax)

	st, _ = h.call(req(0x33, nil, 1))
	c.Assert(st, qt.Equals, core.StatusAddressNACK)
	c.Assert(h.bus.BusState(), qt.Equals, core.BusIdle)
}

func TestBridgeScanAndSpeed(t *testing.T) {
	c := qt.New(t)

	h := newBridgeHarness(c, sim.NewMemoryPeer(0x3C, 16, 1), sim.NewMemoryPeer(0x50, 16, 1))

	st, data := h.call(h.request("twi_scan"))
	c.Assert(st, qt.Equals, core.StatusOK)
	addrs, err := protocol.DecodeVLQBytes(&data)
	c.Assert(err, qt.IsNil)
	c.Assert(addrs, qt.DeepEquals, []byte{0x3C, 0x50})

	st, _ = h.call(h.request("twi_set_speed", 1000000, 120))
	c.Assert(st, qt.Equals, core.StatusOK)
	c.Assert(h.bus.Baud(), qt.Equals, uint8(4))

	st, _ = h.call(h.request("twi_set_speed", 5000, 0))
	c.Assert(st, qt.Equals, core.StatusInvalidArgument)
	c.Assert(h.bus.Baud(), qt.Equals, uint8(4))
}

func TestBridgeRetransmitDoesNotRepeatBusOps(t *testing.T) {
	c := qt.New(t)

	h := newBridgeHarness(c, sim.NewMemoryPeer(0x50, 16, 1))

	st, _ := h.call(h.request("twi_start", 0x50, 0))
	c.Assert(st, qt.Equals, core.StatusOK)
	ops := len(h.bus.Ops)

	// Same sequence number again: the cached answer, no second START.
	st, _ = h.send(h.seq, h.request("twi_start", 0x50, 0))
	c.Assert(st, qt.Equals, core.StatusOK)
	c.Assert(h.bus.Ops, qt.HasLen, ops)

	st, _ = h.call(h.request("twi_stop"))
	c.Assert(st, qt.Equals, core.StatusOK)
}

func TestBridgeIdentify(t *testing.T) {
	c := qt.New(t)

	h := newBridgeHarness(c)
	want := h.bridge.Dictionary()

	var got strings.Builder
	for {
		st, data := h.call(h.request("identify", uint32(got.Len()), core.IdentifyChunk))
		c.Assert(st, qt.Equals, core.StatusOK)
		offset, err := protocol.DecodeVLQUint(&data)
		c.Assert(err, qt.IsNil)
		c.Assert(int(offset), qt.Equals, got.Len())
		chunk, err := protocol.DecodeVLQString(&data)
		c.Assert(err, qt.IsNil)
		if chunk == "" {
			break
		}
		c.Assert(len(chunk) <= core.IdentifyChunk, qt.IsTrue)
		got.WriteString(chunk)
	}
	c.Assert(got.String(), qt.Equals, want)
	c.Assert(strings.HasPrefix(want, "version megatwi-1\n"), qt.IsTrue)
	c.Assert(strings.Contains(want, "twi_tx addr=%c write=%*s read_len=%c\n"), qt.IsTrue)
}

type pipeRW struct {
	in  io.Reader
	out bytes.Buffer
}

func (p *pipeRW) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipeRW) Write(b []byte) (int, error) { return p.out.Write(b) }

func TestBridgeServe(t *testing.T) {
	c := qt.New(t)

	peer := sim.NewMemoryPeer(0x50, 16, 1)
	h := newBridgeHarness(c, peer)

	var stream []byte
	seq := uint8(protocol.MessageDest)
	for _, req := range [][]byte{
		h.request("twi_start", 0x50, 0),
		h.request("twi_write", 0x05),
		h.request("twi_write", 0x77),
		h.request("twi_stop"),
	} {
		seq = protocol.NextSeq(seq)
		msg, err := protocol.EncodeFrame(seq, req)
		c.Assert(err, qt.IsNil)
		stream = append(stream, msg...)
	}
	// Line noise between frames is skipped.
	stream = append([]byte{0x00, 0x13, 0x7E}, stream...)

	rw := &pipeRW{in: bytes.NewReader(stream)}
	c.Assert(h.bridge.Serve(rw), qt.IsNil)
	c.Assert(peer.Mem[5], qt.Equals, byte(0x77))

	d := protocol.NewDecoder()
	d.Write(rw.out.Bytes())
	n := 0
	for {
		f, ok := d.Next()
		if !ok {
			break
		}
		n++
		c.Assert(f.Payload, qt.DeepEquals, []byte{byte(core.StatusOK)})
	}
	c.Assert(n, qt.Equals, 4)
}
