package protocol

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestEncodeFrameLayout(t *testing.T) {
	c := qt.New(t)

	msg, err := EncodeFrame(0x12, []byte{0xAA, 0xBB})
	c.Assert(err, qt.IsNil)
	c.Assert(msg, qt.HasLen, 7)
	c.Assert(msg[MessagePositionLen], qt.Equals, byte(7))
	c.Assert(msg[MessagePositionSeq], qt.Equals, byte(0x12))
	c.Assert(msg[2:4], qt.DeepEquals, []byte{0xAA, 0xBB})
	c.Assert(msg[6], qt.Equals, byte(MessageValueSync))

	crc := CRC16(msg[:4])
	c.Assert(msg[4:6], qt.DeepEquals, []byte{byte(crc >> 8), byte(crc)})
}

func TestEncodeFrameTooLarge(t *testing.T) {
	c := qt.New(t)

	_, err := EncodeFrame(MessageDest, make([]byte, MessagePayloadMax+1))
	c.Assert(err, qt.Equals, ErrPayloadTooLarge)

	_, err = EncodeFrame(MessageDest, make([]byte, MessagePayloadMax))
	c.Assert(err, qt.IsNil)
}

func TestDecoderRoundTrip(t *testing.T) {
	c := qt.New(t)

	d := NewDecoder()
	seq := uint8(MessageDest)
	var stream []byte
	for i := 0; i < 3; i++ {
		msg, err := EncodeFrame(seq, []byte{byte(i), 0x7E, byte(i * 2)})
		c.Assert(err, qt.IsNil)
		stream = append(stream, msg...)
		seq = NextSeq(seq)
	}

	// Feed one byte at a time to exercise partial frames.
	var frames []Frame
	for _, b := range stream {
		d.Write([]byte{b})
		for {
			f, ok := d.Next()
			if !ok {
				break
			}
			frames = append(frames, f)
		}
	}

	c.Assert(frames, qt.HasLen, 3)
	for i, f := range frames {
		c.Assert(f.Seq, qt.Equals, uint8(MessageDest+i))
		c.Assert(f.Payload, qt.DeepEquals, []byte{byte(i), 0x7E, byte(i * 2)})
	}
	c.Assert(d.Buffered(), qt.Equals, 0)
	c.Assert(d.Dropped, qt.Equals, 0)
}

func TestDecoderResync(t *testing.T) {
	c := qt.New(t)

	good, err := EncodeFrame(0x13, []byte{1, 2, 3})
	c.Assert(err, qt.IsNil)

	bad := append([]byte(nil), good...)
	bad[3] ^= 0xFF // Corrupt payload, CRC no longer matches

	d := NewDecoder()
	d.Write([]byte{0x01, 0x02})
	d.Write(bad)
	d.Write(good)

	f, ok := d.Next()
	c.Assert(ok, qt.IsTrue)
	c.Assert(f.Seq, qt.Equals, uint8(0x13))
	c.Assert(f.Payload, qt.DeepEquals, []byte{1, 2, 3})
	c.Assert(d.Dropped > 0, qt.IsTrue)

	_, ok = d.Next()
	c.Assert(ok, qt.IsFalse)
}

func TestNextSeqWraps(t *testing.T) {
	c := qt.New(t)
	c.Assert(NextSeq(0x1F), qt.Equals, uint8(0x10))
	c.Assert(NextSeq(0x10), qt.Equals, uint8(0x11))
}
