// Package protocol implements the framed serial link between the TWI
// bridge firmware and host tools: VLQ-coded command payloads inside
// length-prefixed, CRC16-checked frames.
package protocol

// Version is the bridge protocol version reported by identify.
const Version = "megatwi-1"

// Frame layout: len seq payload... crc_hi crc_lo sync
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	// Message sequence masks
	MessageSeqMask = 0x0F
)
