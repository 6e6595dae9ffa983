package core

import (
	"sync"
)

// TxError reports which phase of a transaction failed.
type TxError struct {
	Addr  I2CAddress
	Phase string // "start", "write", "restart", "read" or "stop"
	Index int    // Byte index within the phase
	Err   error
}

func (e *TxError) Error() string {
	return "twi " + hex8(uint8(e.Addr)) + " " + e.Phase + "[" + itoa(e.Index) + "]: " + e.Err.Error()
}

func (e *TxError) Unwrap() error { return e.Err }

// TWIBus serializes complete transactions on one Master. It satisfies
// tinygo.org/x/drivers.I2C, so TinyGo device drivers can run on it.
type TWIBus struct {
	mu sync.Mutex
	m  *Master
}

// NewTWIBus wraps an initialized master.
func NewTWIBus(m *Master) *TWIBus {
	return &TWIBus{m: m}
}

// Master returns the underlying master. Callers using it directly must not
// overlap with TWIBus transactions.
func (b *TWIBus) Master() *Master {
	return b.m
}

// Tx writes w, then (after a repeated START) reads len(r) bytes into r, then
// sends STOP. Either slice may be empty; with both empty Tx probes the
// address with an empty write.
func (b *TWIBus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return ErrInvalidAddress
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx(I2CAddress(addr), w, r)
}

func (b *TWIBus) tx(addr I2CAddress, w, r []byte) error {
	m := b.m
	open := false

	if len(w) > 0 || len(r) == 0 {
		if err := m.Start(addr, 0); err != nil {
			return &TxError{Addr: addr, Phase: "start", Err: err}
		}
		open = true
		for i, c := range w {
			if err := m.Write(c); err != nil {
				return b.fail(&TxError{Addr: addr, Phase: "write", Index: i, Err: err})
			}
		}
	}

	if len(r) > 0 {
		phase := "start"
		if open {
			phase = "restart"
		}
		if err := m.Restart(addr, len(r)); err != nil {
			return &TxError{Addr: addr, Phase: phase, Err: err}
		}
		last := len(r) - 1
		for i := 0; i < last; i++ {
			c, err := m.Read()
			if err != nil {
				return b.fail(&TxError{Addr: addr, Phase: "read", Index: i, Err: err})
			}
			r[i] = c
		}
		c, err := m.ReadLast()
		if err != nil {
			return b.fail(&TxError{Addr: addr, Phase: "read", Index: last, Err: err})
		}
		r[last] = c
	}

	if err := m.Stop(); err != nil {
		return &TxError{Addr: addr, Phase: "stop", Err: err}
	}
	return nil
}

// fail releases the bus after a failed transfer if the master still holds it.
func (b *TWIBus) fail(err *TxError) error {
	if b.m.State() != StateIdle {
		_ = b.m.Stop()
	}
	return err
}

// Write implements I2CDriver.
func (b *TWIBus) Write(addr I2CAddress, data []byte) error {
	return b.Tx(uint16(addr), data, nil)
}

// Read implements I2CDriver.
func (b *TWIBus) Read(addr I2CAddress, regData []byte, readLen uint8) ([]byte, error) {
	buf := make([]byte, readLen)
	if err := b.Tx(uint16(addr), regData, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRegister transmits the register, restarts the connection as a read
// operation, and reads the response.
func (b *TWIBus) ReadRegister(addr uint8, reg uint8, data []byte) error {
	return b.Tx(uint16(addr), []byte{reg}, data)
}

// WriteRegister transmits first the register and then the data to the
// peripheral device.
func (b *TWIBus) WriteRegister(addr uint8, reg uint8, data []byte) error {
	buf := make([]byte, len(data)+1)
	buf[0] = reg
	copy(buf[1:], data)
	return b.Tx(uint16(addr), buf, nil)
}

// Scan implements I2CDriver: every non-reserved address is probed with an
// empty write. A NACKed address is skipped; any other failure ends the scan.
func (b *TWIBus) Scan() ([]I2CAddress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var found []I2CAddress
	for addr := ScanFirst; addr <= ScanLast; addr++ {
		err := b.m.Start(addr, 0)
		if err == ErrAddressNACK {
			continue
		}
		if err != nil {
			return found, &TxError{Addr: addr, Phase: "start", Err: err}
		}
		if err := b.m.Stop(); err != nil {
			return found, &TxError{Addr: addr, Phase: "stop", Err: err}
		}
		found = append(found, addr)
	}
	return found, nil
}
