package core

// I2CAddress is a 7-bit I2C device address.
type I2CAddress uint8

// TWIRegisters is the register surface of one TWI peripheral in master mode.
// Target code maps each method onto the memory-mapped register of the same
// name (MBAUD, MCTRLA, MCTRLB, MSTATUS, MADDR, MDATA). Status must read the
// hardware on every call; the driver polls it.
type TWIRegisters interface {
	// SetBaud writes the clock divider register (MBAUD).
	SetBaud(v uint8)

	// SetCtrlA writes the master control A register (enable, interrupts).
	SetCtrlA(v uint8)

	// SetCtrlB writes the master control B register (acknowledge action and command).
	SetCtrlB(v uint8)

	// Status reads the master status register.
	Status() uint8

	// SetStatus writes the master status register (flag clear, bus state override).
	SetStatus(v uint8)

	// SetAddr writes the address register. Hardware emits START (or repeated
	// START) followed by the address byte.
	SetAddr(v uint8)

	// Data reads the data register.
	Data() uint8

	// SetData writes the data register.
	SetData(v uint8)
}
