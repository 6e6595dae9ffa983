package core

// I2CDriver is the transaction-level bus interface used above the byte
// primitives. TWIBus implements it on top of a Master; the host bridge
// client implements it over the serial link.
type I2CDriver interface {
	// Write transmits data to a device at the given address.
	Write(addr I2CAddress, data []byte) error

	// Read reads data from a device, optionally writing a register address first.
	// If regData is non-empty, it's transmitted before the read (restart in between).
	Read(addr I2CAddress, regData []byte, readLen uint8) ([]byte, error)

	// Scan returns the addresses that acknowledge on the bus.
	Scan() ([]I2CAddress, error)
}

// Scan range: 0x00-0x07 and 0x78-0x7F are reserved addresses.
const (
	ScanFirst I2CAddress = 0x08
	ScanLast  I2CAddress = 0x77
)
