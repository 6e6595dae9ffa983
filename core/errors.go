package core

import "errors"

// Bus conditions reported by the hardware.
var (
	// ErrArbitrationLost indicates another master won the bus.
	ErrArbitrationLost = errors.New("twi: arbitration lost")

	// ErrBusError indicates an illegal bus condition detected by the peripheral.
	ErrBusError = errors.New("twi: bus error")

	// ErrAddressNACK indicates no peer acknowledged the address byte.
	ErrAddressNACK = errors.New("twi: address not acknowledged")

	// ErrDataNACK indicates the peer rejected a data byte.
	ErrDataNACK = errors.New("twi: data byte not acknowledged")

	// ErrTimeout indicates a status flag did not appear within the poll limit.
	ErrTimeout = errors.New("twi: timeout")
)

// Caller errors. These are detected before the hardware is touched.
var (
	ErrNotInitialized   = errors.New("twi: master not initialized")
	ErrInvalidBaud      = errors.New("twi: bus frequency out of range for core clock")
	ErrInvalidAddress   = errors.New("twi: address is not 7-bit")
	ErrInvalidReadCount = errors.New("twi: negative read count")
	ErrWrongDirection   = errors.New("twi: transfer does not match transaction direction")
	ErrReadOverrun      = errors.New("twi: read after final byte was NACKed")
	ErrTransactionOpen  = errors.New("twi: transaction in progress")
	ErrBadArgument      = errors.New("twi: invalid argument")
	ErrUnknownCommand   = errors.New("twi: unknown command")
)

// StatusCode is the wire form of a bus result in the bridge protocol.
type StatusCode uint8

// Status codes sent in bridge responses.
const (
	StatusOK StatusCode = iota
	StatusArbitrationLost
	StatusBusError
	StatusAddressNACK
	StatusDataNACK
	StatusTimeout
	StatusInvalidArgument
	StatusWrongDirection
	StatusReadOverrun
	StatusNotInitialized
	StatusTransactionOpen
	StatusUnknownCommand
	StatusFailed
)

// String returns a short name for the status code.
func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusArbitrationLost:
		return "arblost"
	case StatusBusError:
		return "buserr"
	case StatusAddressNACK:
		return "addr-nack"
	case StatusDataNACK:
		return "data-nack"
	case StatusTimeout:
		return "timeout"
	case StatusInvalidArgument:
		return "invalid"
	case StatusWrongDirection:
		return "direction"
	case StatusReadOverrun:
		return "overrun"
	case StatusNotInitialized:
		return "uninit"
	case StatusTransactionOpen:
		return "busy"
	case StatusUnknownCommand:
		return "unknown-cmd"
	default:
		return "failed"
	}
}

// Err returns the error a status code stands for, nil for StatusOK.
func (s StatusCode) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusArbitrationLost:
		return ErrArbitrationLost
	case StatusBusError:
		return ErrBusError
	case StatusAddressNACK:
		return ErrAddressNACK
	case StatusDataNACK:
		return ErrDataNACK
	case StatusTimeout:
		return ErrTimeout
	case StatusInvalidArgument:
		return ErrBadArgument
	case StatusWrongDirection:
		return ErrWrongDirection
	case StatusReadOverrun:
		return ErrReadOverrun
	case StatusNotInitialized:
		return ErrNotInitialized
	case StatusTransactionOpen:
		return ErrTransactionOpen
	case StatusUnknownCommand:
		return ErrUnknownCommand
	default:
		return errors.New("twi: bridge command failed")
	}
}

// StatusOf maps an error returned by Master to its status code.
func StatusOf(err error) StatusCode {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrArbitrationLost):
		return StatusArbitrationLost
	case errors.Is(err, ErrBusError):
		return StatusBusError
	case errors.Is(err, ErrAddressNACK):
		return StatusAddressNACK
	case errors.Is(err, ErrDataNACK):
		return StatusDataNACK
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidReadCount),
		errors.Is(err, ErrInvalidBaud), errors.Is(err, ErrBadArgument):
		return StatusInvalidArgument
	case errors.Is(err, ErrWrongDirection):
		return StatusWrongDirection
	case errors.Is(err, ErrReadOverrun):
		return StatusReadOverrun
	case errors.Is(err, ErrNotInitialized):
		return StatusNotInitialized
	case errors.Is(err, ErrTransactionOpen):
		return StatusTransactionOpen
	case errors.Is(err, ErrUnknownCommand):
		return StatusUnknownCommand
	default:
		return StatusFailed
	}
}
