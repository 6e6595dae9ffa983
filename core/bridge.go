// Bridge firmware command set
// Exposes the Master primitives and whole transactions over the framed
// serial protocol, so a host can drive the bus remotely.
package core

import (
	"bytes"
	"io"
	"megatwi/protocol"
)

const (
	// IdentifyChunk is the largest dictionary slice one identify response carries.
	IdentifyChunk = 40

	// TxReadMax is the largest read a single twi_tx can return: the
	// response also carries the status and the length prefix.
	TxReadMax = protocol.MessagePayloadMax - 2
)

// Bridge serves bridge commands for one bus.
type Bridge struct {
	bus      *TWIBus
	registry *CommandRegistry
	dec      *protocol.Decoder

	data protocol.ScratchOutput // Handler output
	out  protocol.ScratchOutput // Response payload

	haveLast bool
	lastSeq  uint8
	lastReq  []byte
	lastResp []byte
}

// NewBridge registers the bridge commands for bus.
func NewBridge(bus *TWIBus) *Bridge {
	b := &Bridge{
		bus:      bus,
		registry: NewCommandRegistry(),
		dec:      protocol.NewDecoder(),
	}

	r := b.registry
	r.Register("identify", "offset=%u count=%c", b.handleIdentify)
	r.Register("twi_start", "addr=%c read_count=%u", b.handleStart)
	r.Register("twi_restart", "addr=%c read_count=%u", b.handleRestart)
	r.Register("twi_write", "data=%c", b.handleWrite)
	r.Register("twi_read", "", b.handleRead)
	r.Register("twi_read_last", "", b.handleReadLast)
	r.Register("twi_stop", "", b.handleStop)
	r.Register("twi_tx", "addr=%c write=%*s read_len=%c", b.handleTx)
	r.Register("twi_scan", "", b.handleScan)
	r.Register("twi_status", "", b.handleStatus)
	r.Register("twi_set_speed", "hz=%u rise_ns=%u", b.handleSetSpeed)

	return b
}

// Registry returns the command registry.
func (b *Bridge) Registry() *CommandRegistry {
	return b.registry
}

// Dictionary returns the text served by identify: the protocol version
// line followed by one line per command in ID order.
func (b *Bridge) Dictionary() string {
	return "version " + protocol.Version + "\n" + b.registry.GetDictionary()
}

// Serve reads frames from rw and writes one response frame per request
// until rw returns an error. io.EOF ends Serve cleanly.
func (b *Bridge) Serve(rw io.ReadWriter) error {
	buf := make([]byte, protocol.MessageLengthMax)
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			b.dec.Write(buf[:n])
			for {
				f, ok := b.dec.Next()
				if !ok {
					break
				}
				if _, werr := rw.Write(b.HandleFrame(f)); werr != nil {
					return werr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// HandleFrame executes one request frame and returns the encoded response.
// A frame repeating the previous sequence number and payload is a host
// retransmission: the cached response is returned and the bus is not
// touched again.
func (b *Bridge) HandleFrame(f protocol.Frame) []byte {
	if b.haveLast && f.Seq == b.lastSeq && bytes.Equal(f.Payload, b.lastReq) {
		return b.lastResp
	}

	args := f.Payload
	b.data.Reset()
	b.out.Reset()

	status := StatusInvalidArgument
	if id, err := protocol.DecodeVLQUint(&args); err == nil {
		status = StatusOf(b.registry.Dispatch(uint16(id), &args, &b.data))
	}
	if status == StatusOK && (b.data.Overflow() || b.data.CurPosition() >= protocol.MessagePayloadMax) {
		status = StatusFailed
	}

	protocol.EncodeVLQUint(&b.out, uint32(status))
	if status == StatusOK {
		b.out.Output(b.data.Result())
	}

	resp, err := protocol.EncodeFrame(f.Seq, b.out.Result())
	if err != nil {
		b.out.Reset()
		protocol.EncodeVLQUint(&b.out, uint32(StatusFailed))
		resp, _ = protocol.EncodeFrame(f.Seq, b.out.Result())
	}

	b.haveLast = true
	b.lastSeq = f.Seq
	b.lastReq = append(b.lastReq[:0], f.Payload...)
	b.lastResp = resp
	return resp
}

// handleIdentify returns a slice of the command dictionary
// Format: identify offset=%u count=%c
func (b *Bridge) handleIdentify(args *[]byte, resp protocol.OutputBuffer) error {
	offset, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return ErrBadArgument
	}
	count, err := protocol.DecodeVLQByte(args)
	if err != nil {
		return ErrBadArgument
	}
	if count > IdentifyChunk {
		count = IdentifyChunk
	}

	dict := b.Dictionary()
	if int(offset) > len(dict) {
		offset = uint32(len(dict))
	}
	end := int(offset) + int(count)
	if end > len(dict) {
		end = len(dict)
	}

	protocol.EncodeVLQUint(resp, offset)
	protocol.EncodeVLQString(resp, dict[offset:end])
	return nil
}

// Format: twi_start addr=%c read_count=%u
func (b *Bridge) handleStart(args *[]byte, resp protocol.OutputBuffer) error {
	addr, count, err := decodeStartArgs(args)
	if err != nil {
		return err
	}
	return b.bus.Master().Start(addr, count)
}

// Format: twi_restart addr=%c read_count=%u
func (b *Bridge) handleRestart(args *[]byte, resp protocol.OutputBuffer) error {
	addr, count, err := decodeStartArgs(args)
	if err != nil {
		return err
	}
	return b.bus.Master().Restart(addr, count)
}

func decodeStartArgs(args *[]byte) (I2CAddress, int, error) {
	addr, err := protocol.DecodeVLQByte(args)
	if err != nil {
		return 0, 0, ErrBadArgument
	}
	count, err := protocol.DecodeVLQInt(args)
	if err != nil {
		return 0, 0, ErrBadArgument
	}
	return I2CAddress(addr), int(count), nil
}

// Format: twi_write data=%c
func (b *Bridge) handleWrite(args *[]byte, resp protocol.OutputBuffer) error {
	data, err := protocol.DecodeVLQByte(args)
	if err != nil {
		return ErrBadArgument
	}
	return b.bus.Master().Write(data)
}

// Response: data=%c
func (b *Bridge) handleRead(args *[]byte, resp protocol.OutputBuffer) error {
	data, err := b.bus.Master().Read()
	if err != nil {
		return err
	}
	protocol.EncodeVLQUint(resp, uint32(data))
	return nil
}

// Response: data=%c
func (b *Bridge) handleReadLast(args *[]byte, resp protocol.OutputBuffer) error {
	data, err := b.bus.Master().ReadLast()
	if err != nil {
		return err
	}
	protocol.EncodeVLQUint(resp, uint32(data))
	return nil
}

func (b *Bridge) handleStop(args *[]byte, resp protocol.OutputBuffer) error {
	return b.bus.Master().Stop()
}

// handleTx runs a complete write/restart/read transaction
// Format: twi_tx addr=%c write=%*s read_len=%c
// Response: data=%*s
func (b *Bridge) handleTx(args *[]byte, resp protocol.OutputBuffer) error {
	addr, err := protocol.DecodeVLQByte(args)
	if err != nil {
		return ErrBadArgument
	}
	w, err := protocol.DecodeVLQBytes(args)
	if err != nil {
		return ErrBadArgument
	}
	readLen, err := protocol.DecodeVLQByte(args)
	if err != nil {
		return ErrBadArgument
	}
	if int(readLen) > TxReadMax {
		return ErrBadArgument
	}

	var r []byte
	if readLen > 0 {
		r = make([]byte, readLen)
	}
	if err := b.bus.Tx(uint16(addr), w, r); err != nil {
		return err
	}
	protocol.EncodeVLQBytes(resp, r)
	return nil
}

// Response: addrs=%*s
func (b *Bridge) handleScan(args *[]byte, resp protocol.OutputBuffer) error {
	found, err := b.bus.Scan()
	if err != nil {
		return err
	}
	addrs := make([]byte, len(found))
	for i, a := range found {
		addrs[i] = uint8(a)
	}
	protocol.EncodeVLQBytes(resp, addrs)
	return nil
}

// Response: state=%c pending=%u mstatus=%c
func (b *Bridge) handleStatus(args *[]byte, resp protocol.OutputBuffer) error {
	m := b.bus.Master()
	protocol.EncodeVLQUint(resp, uint32(m.State()))
	protocol.EncodeVLQUint(resp, uint32(m.PendingReads()))
	protocol.EncodeVLQUint(resp, uint32(m.status()))
	return nil
}

// Format: twi_set_speed hz=%u rise_ns=%u
func (b *Bridge) handleSetSpeed(args *[]byte, resp protocol.OutputBuffer) error {
	hz, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return ErrBadArgument
	}
	rise, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return ErrBadArgument
	}
	return b.bus.Master().SetFrequency(BusProfile{FrequencyHz: hz, RiseTimeNs: rise})
}
