package core

// Master control A (MCTRLA) bits.
const (
	CtrlAEnable     = 0x01 // Enable TWI master
	CtrlASmartMode  = 0x02
	CtrlAQuickCmd   = 0x10
	CtrlAWriteIntEn = 0x40
	CtrlAReadIntEn  = 0x80
)

// Master control B (MCTRLB) bits.
const (
	CmdNoAction  = 0x00
	CmdRepStart  = 0x01
	CmdRecvTrans = 0x02 // Byte read (ACK/NACK per AckActNACK) or continue write
	CmdStop      = 0x03
	CmdMask      = 0x03
	AckActNACK   = 0x04 // Acknowledge action: 0 = ACK, 1 = NACK
	CtrlBFlush   = 0x08
)

// Master status (MSTATUS) bits.
const (
	StatusBusStateMask = 0x03
	StatusBusErr       = 0x04
	StatusArbLost      = 0x08
	StatusRxNACK       = 0x10 // RXACK: set when the peer did not acknowledge
	StatusClockHold    = 0x20
	StatusWriteIF      = 0x40 // Write complete
	StatusReadIF       = 0x80 // Read complete
)

// BusState is the value of the MSTATUS.BUSSTATE field.
type BusState uint8

// Bus states reported by the peripheral.
const (
	BusUnknown BusState = 0
	BusIdle    BusState = 1
	BusOwner   BusState = 2
	BusBusy    BusState = 3
)

// String returns the datasheet name of the bus state.
func (s BusState) String() string {
	switch s {
	case BusUnknown:
		return "unknown"
	case BusIdle:
		return "idle"
	case BusOwner:
		return "owner"
	case BusBusy:
		return "busy"
	default:
		return "invalid"
	}
}

// Status is one snapshot of the master status register.
type Status uint8

func (s Status) WriteComplete() bool   { return s&StatusWriteIF != 0 }
func (s Status) ReadComplete() bool    { return s&StatusReadIF != 0 }
func (s Status) ArbitrationLost() bool { return s&StatusArbLost != 0 }
func (s Status) BusError() bool        { return s&StatusBusErr != 0 }

// Acked reports whether the peer acknowledged the last address or data byte.
func (s Status) Acked() bool { return s&StatusRxNACK == 0 }

// BusState extracts the BUSSTATE field.
func (s Status) BusState() BusState { return BusState(s & StatusBusStateMask) }

// Idle reports whether the bus state field reads idle. The field is two bits
// wide, so busy (0b11) must not be taken for idle.
func (s Status) Idle() bool { return s.BusState() == BusIdle }
