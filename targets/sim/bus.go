// Package sim is a software model of the TWI master peripheral and the
// devices wired to it. It implements core.TWIRegisters and core.PinDriver so
// the bus master, the bridge firmware and the host tools run without
// hardware.
package sim

import "megatwi/core"

// Fault is a bus failure the simulator can inject.
type Fault uint8

// Injectable faults
const (
	NoFault Fault = iota
	FaultArbitration
	FaultBusError
)

// Op is one recorded bus operation.
type Op struct {
	Kind OpKind
	Byte uint8 // Address byte for OpStart, data byte otherwise
	Ack  bool  // Acknowledge bit on the wire for this byte
}

// OpKind identifies an Op.
type OpKind uint8

// Operation kinds
const (
	OpStart OpKind = iota // START or repeated START with address byte
	OpWrite               // Master to peer data byte
	OpRead                // Peer to master data byte; Ack is the master's answer
	OpStop
	OpFault
)

// Bus models one TWI peripheral in master mode plus its peers.
type Bus struct {
	peers []Peer

	baud   uint8
	ctrlA  uint8
	status uint8
	data   uint8

	active  Peer
	reading bool
	holding bool // Peer is waiting for the master's ACK/NACK of a received byte

	// AddrFault and DataFault are fired once, on the next address phase or
	// the next written data byte respectively.
	AddrFault Fault
	DataFault Fault

	// BusyPolls is how many status reads the bus stays busy after an
	// injected fault before another master releases it.
	BusyPolls int
	busyLeft  int

	// Stuck freezes every flag, as a peer holding SCL low would.
	Stuck bool

	// StretchPolls is how many status reads the next address phase keeps
	// its completion flag hidden, as a peer stretching the clock would.
	StretchPolls int
	stretchLeft  int

	// Ops records every operation on the wire.
	Ops []Op

	// StatusReads counts polls of the status register.
	StatusReads int
}

// NewBus creates a simulated bus with the given peers attached.
func NewBus(peers ...Peer) *Bus {
	b := &Bus{}
	for _, p := range peers {
		b.Attach(p)
	}
	return b
}

// Attach wires another peer to the bus. It panics if the address is taken.
func (b *Bus) Attach(p Peer) {
	for _, q := range b.peers {
		if q.Addr() == p.Addr() {
			panic("sim: address " + hex(p.Addr()) + " already attached")
		}
	}
	b.peers = append(b.peers, p)
}

// Baud returns the last value written to MBAUD.
func (b *Bus) Baud() uint8 { return b.baud }

// Enabled reports whether the master is enabled.
func (b *Bus) Enabled() bool { return b.ctrlA&core.CtrlAEnable != 0 }

// BusState returns the BUSSTATE field.
func (b *Bus) BusState() core.BusState { return core.BusState(b.status & core.StatusBusStateMask) }

// Active returns the currently addressed peer, nil if none.
func (b *Bus) Active() Peer { return b.active }

// Reset forgets recorded operations.
func (b *Bus) Reset() {
	b.Ops = nil
	b.StatusReads = 0
}

// SetBaud implements core.TWIRegisters.
func (b *Bus) SetBaud(v uint8) { b.baud = v }

// SetCtrlA implements core.TWIRegisters.
func (b *Bus) SetCtrlA(v uint8) {
	b.ctrlA = v
	if !b.Enabled() {
		b.release()
		b.setBusState(core.BusUnknown)
	}
}

// SetStatus implements core.TWIRegisters. Flag bits are cleared by writing
// one; a non-zero BUSSTATE field overrides the bus state.
func (b *Bus) SetStatus(v uint8) {
	flags := uint8(core.StatusReadIF | core.StatusWriteIF | core.StatusArbLost | core.StatusBusErr)
	b.status &^= v & flags
	if s := v & core.StatusBusStateMask; s != 0 {
		b.setBusState(core.BusState(s))
	}
}

// Status implements core.TWIRegisters.
func (b *Bus) Status() uint8 {
	b.StatusReads++
	if b.busyLeft > 0 {
		b.busyLeft--
		if b.busyLeft == 0 {
			b.setBusState(core.BusIdle)
		}
	}
	if b.stretchLeft > 0 {
		b.stretchLeft--
		return b.status &^ (core.StatusReadIF | core.StatusWriteIF)
	}
	if b.Stuck {
		return b.status &^ (core.StatusReadIF | core.StatusWriteIF)
	}
	return b.status
}

// SetAddr implements core.TWIRegisters: START (or repeated START) plus the
// address byte.
func (b *Bus) SetAddr(v uint8) {
	if !b.Enabled() || b.Stuck {
		return
	}
	b.clearFlags()
	b.stretchLeft, b.StretchPolls = b.StretchPolls, 0

	if f := b.AddrFault; f != NoFault {
		b.AddrFault = NoFault
		b.fault(f, v)
		return
	}

	read := v&0x01 != 0
	addr := v >> 1

	prev := b.active
	b.active = nil
	b.holding = false
	b.setBusState(core.BusOwner)

	var peer Peer
	for _, p := range b.peers {
		if p.Addr() == addr {
			peer = p
			break
		}
	}
	if prev != nil && prev != peer {
		prev.Release()
	}

	if peer == nil || !peer.Select(read) {
		b.record(OpStart, v, false)
		b.status |= core.StatusRxNACK | core.StatusWriteIF
		return
	}

	b.record(OpStart, v, true)
	b.active = peer
	b.reading = read
	b.status &^= core.StatusRxNACK
	if read {
		b.receive()
	} else {
		b.status |= core.StatusWriteIF
	}
}

// SetCtrlB implements core.TWIRegisters.
func (b *Bus) SetCtrlB(v uint8) {
	if b.Stuck {
		return
	}
	nack := v&core.AckActNACK != 0

	switch v & core.CmdMask {
	case core.CmdRecvTrans:
		if b.active == nil || !b.reading || !b.holding {
			return
		}
		b.ackLast(!nack)
		b.status &^= core.StatusReadIF
		if nack {
			b.holding = false
			return
		}
		b.receive()

	case core.CmdStop:
		if b.BusState() != core.BusOwner {
			return
		}
		if b.holding {
			b.ackLast(!nack)
		}
		b.release()
		b.clearFlags()
		b.stretchLeft = 0
		b.record(OpStop, 0, false)
		b.setBusState(core.BusIdle)

	case core.CmdRepStart:
		// Not used by the driver; a repeated START goes through MADDR.
	}
}

// Data implements core.TWIRegisters.
func (b *Bus) Data() uint8 { return b.data }

// SetData implements core.TWIRegisters: transmit one byte in write direction.
func (b *Bus) SetData(v uint8) {
	if b.Stuck || b.active == nil || b.reading {
		return
	}
	b.clearFlags()
	b.data = v

	if f := b.DataFault; f != NoFault {
		b.DataFault = NoFault
		b.fault(f, v)
		return
	}

	ack := b.active.WriteByte(v)
	b.record(OpWrite, v, ack)
	if ack {
		b.status &^= core.StatusRxNACK
	} else {
		b.status |= core.StatusRxNACK
	}
	b.status |= core.StatusWriteIF
}

// receive clocks one byte in from the active peer.
func (b *Bus) receive() {
	b.data = b.active.ReadByte()
	b.record(OpRead, b.data, false)
	b.holding = true
	b.status |= core.StatusReadIF
}

// ackLast stores the master's answer on the last received byte.
func (b *Bus) ackLast(ack bool) {
	for i := len(b.Ops) - 1; i >= 0; i-- {
		if b.Ops[i].Kind == OpRead {
			b.Ops[i].Ack = ack
			return
		}
	}
}

func (b *Bus) fault(f Fault, v uint8) {
	b.release()
	b.record(OpFault, v, false)
	switch f {
	case FaultArbitration:
		b.status |= core.StatusArbLost | core.StatusWriteIF
	case FaultBusError:
		b.status |= core.StatusBusErr | core.StatusWriteIF
	}
	if b.BusyPolls > 0 {
		b.setBusState(core.BusBusy)
		b.busyLeft = b.BusyPolls
	} else {
		b.setBusState(core.BusIdle)
	}
}

func (b *Bus) release() {
	if b.active != nil {
		b.active.Release()
	}
	b.active = nil
	b.reading = false
	b.holding = false
}

func (b *Bus) clearFlags() {
	b.status &^= core.StatusReadIF | core.StatusWriteIF | core.StatusArbLost | core.StatusBusErr
}

func (b *Bus) setBusState(s core.BusState) {
	b.status = b.status&^core.StatusBusStateMask | uint8(s)
}

func (b *Bus) record(kind OpKind, v uint8, ack bool) {
	b.Ops = append(b.Ops, Op{Kind: kind, Byte: v, Ack: ack})
}

// Pins records pull-up configuration requests.
type Pins struct {
	PullUps map[core.GPIOPin]bool
	Err     error
}

// ConfigureInputPullUp implements core.PinDriver.
func (p *Pins) ConfigureInputPullUp(pin core.GPIOPin) error {
	if p.Err != nil {
		return p.Err
	}
	if p.PullUps == nil {
		p.PullUps = make(map[core.GPIOPin]bool)
	}
	p.PullUps[pin] = true
	return nil
}

const hexDigits = "0123456789abcdef"

func hex(v uint8) string {
	return string([]byte{'0', 'x', hexDigits[v>>4], hexDigits[v&0x0F]})
}
