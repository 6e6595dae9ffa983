package sim

import "tinygo.org/x/drivers/tester"

// Peer is a target device on the simulated bus.
type Peer interface {
	// Addr returns the 7-bit address the peer answers to.
	Addr() uint8

	// Select is called when the peer's address is sent. It returns false to
	// NACK the address.
	Select(read bool) bool

	// WriteByte receives one data byte and returns the acknowledge bit.
	WriteByte(b byte) bool

	// ReadByte supplies the next data byte.
	ReadByte() byte

	// Release is called on STOP, or when a repeated START addresses another peer.
	Release()
}

// MemoryPeer is a register-file or EEPROM style peer. The first AddrWidth
// bytes of a write transaction set the memory pointer; later bytes are
// stored at the pointer. Reads return bytes from the pointer. The pointer
// wraps at the end of Mem and survives a repeated START.
type MemoryPeer struct {
	addr      uint8
	Mem       []byte
	AddrWidth int // 1 for register devices, 2 for 24C32 style EEPROMs

	// NACKAfter makes the peer NACK every data byte after the first
	// NACKAfter bytes of a write transaction. Negative disables it.
	NACKAfter int

	// Absent makes the peer NACK its address.
	Absent bool

	err *error // Err field of the backing tester device, if any

	ptr      int
	ptrBytes int // Pointer bytes still expected in this write transaction
	written  int
}

// NewMemoryPeer returns a peer with size bytes of memory.
func NewMemoryPeer(addr uint8, size, addrWidth int) *MemoryPeer {
	return &MemoryPeer{
		addr:      addr & 0x7F,
		Mem:       make([]byte, size),
		AddrWidth: addrWidth,
		NACKAfter: -1,
	}
}

// NewRegisterPeer wraps a mock device from tinygo.org/x/drivers/tester so
// that its register file is reachable byte by byte over the simulated bus.
// Setting dev.Err makes the peer stop answering.
func NewRegisterPeer(dev *tester.I2CDevice8) *MemoryPeer {
	p := &MemoryPeer{
		addr:      dev.Addr() & 0x7F,
		Mem:       dev.Registers[:],
		AddrWidth: 1,
		NACKAfter: -1,
		err:       &dev.Err,
	}
	return p
}

// Addr implements Peer.
func (p *MemoryPeer) Addr() uint8 { return p.addr }

// Pointer returns the current memory pointer.
func (p *MemoryPeer) Pointer() int { return p.ptr }

// Select implements Peer.
func (p *MemoryPeer) Select(read bool) bool {
	if p.Absent || (p.err != nil && *p.err != nil) {
		return false
	}
	p.written = 0
	if read {
		p.ptrBytes = 0
	} else {
		p.ptrBytes = p.AddrWidth
	}
	return true
}

// WriteByte implements Peer.
func (p *MemoryPeer) WriteByte(b byte) bool {
	if p.NACKAfter >= 0 && p.written >= p.NACKAfter {
		return false
	}
	p.written++

	if p.ptrBytes > 0 {
		if p.ptrBytes == p.AddrWidth {
			p.ptr = 0
		}
		p.ptr = p.ptr<<8 | int(b)
		p.ptrBytes--
		if p.ptrBytes == 0 && len(p.Mem) > 0 {
			p.ptr %= len(p.Mem)
		}
		return true
	}

	if len(p.Mem) == 0 {
		return false
	}
	p.Mem[p.ptr] = b
	p.ptr = (p.ptr + 1) % len(p.Mem)
	return true
}

// ReadByte implements Peer.
func (p *MemoryPeer) ReadByte() byte {
	if len(p.Mem) == 0 {
		return 0xFF
	}
	b := p.Mem[p.ptr]
	p.ptr = (p.ptr + 1) % len(p.Mem)
	return b
}

// Release implements Peer.
func (p *MemoryPeer) Release() {
	p.ptrBytes = 0
}
