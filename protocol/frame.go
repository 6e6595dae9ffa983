package protocol

import "errors"

// ErrPayloadTooLarge is returned when a payload does not fit one frame.
var ErrPayloadTooLarge = errors.New("payload too large for frame")

// Frame is one validated message.
type Frame struct {
	Seq     uint8
	Payload []byte
}

// NextSeq returns the sequence number following seq in the host range.
func NextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// EncodeFrame wraps payload in a frame: length, sequence, payload, CRC16 of
// everything before it (big endian) and the sync byte.
func EncodeFrame(seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MessagePayloadMax {
		return nil, ErrPayloadTooLarge
	}
	n := len(payload) + MessageLengthMin
	msg := make([]byte, 0, n)
	msg = append(msg, byte(n), seq)
	msg = append(msg, payload...)
	crc := CRC16(msg)
	msg = append(msg, byte(crc>>8), byte(crc), MessageValueSync)
	return msg, nil
}

// Decoder reassembles frames from a byte stream. Garbage, truncated frames
// and CRC failures are skipped by resynchronizing on the next sync byte.
type Decoder struct {
	buf          []byte
	synchronized bool

	// Dropped counts bytes discarded while resynchronizing.
	Dropped int
}

// NewDecoder returns a decoder that starts synchronized.
func NewDecoder() *Decoder {
	return &Decoder{synchronized: true}
}

// Write appends received bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete, valid frame. It returns false when more
// input is needed.
func (d *Decoder) Next() (Frame, bool) {
	for len(d.buf) > 0 {
		if !d.synchronized {
			// Look for sync byte to resynchronize
			i := 0
			for i < len(d.buf) && d.buf[i] != MessageValueSync {
				i++
			}
			if i == len(d.buf) {
				d.drop(len(d.buf))
				return Frame{}, false
			}
			d.drop(i + 1)
			d.synchronized = true
			continue
		}

		// Skip leading sync bytes
		if d.buf[0] == MessageValueSync {
			d.consume(1)
			continue
		}

		msgLen := int(d.buf[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			d.synchronized = false
			continue
		}

		// Wait for full message
		if len(d.buf) < msgLen {
			return Frame{}, false
		}

		msg := d.buf[:msgLen]
		if msg[msgLen-MessageTrailerSync] != MessageValueSync {
			d.synchronized = false
			continue
		}

		frameCRC := uint16(msg[msgLen-MessageTrailerCRC])<<8 | uint16(msg[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(msg[:msgLen-MessageTrailerSize]) {
			d.synchronized = false
			continue
		}

		f := Frame{
			Seq:     msg[MessagePositionSeq],
			Payload: append([]byte(nil), msg[MessageHeaderSize:msgLen-MessageTrailerSize]...),
		}
		d.consume(msgLen)
		return f, true
	}
	return Frame{}, false
}

func (d *Decoder) drop(n int) {
	d.Dropped += n
	d.consume(n)
}

func (d *Decoder) consume(n int) {
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
}
