// Package bridge drives a TWI bus remotely through the bridge firmware.
//
// Bus exposes the master primitives (Start, WriteByte, ReadByte, ReadLast,
// Stop) one round trip each, and whole transactions through Tx. It
// satisfies periph.io/x/conn/v3/i2c.BusCloser and tinygo.org/x/drivers.I2C,
// so device drivers from either ecosystem run unchanged against a
// microcontroller on the serial port.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"megatwi/core"
	"megatwi/protocol"
)

// TxWriteMax is the longest write a single twi_tx request can carry.
// Longer transfers are driven byte by byte.
const TxWriteMax = protocol.MessagePayloadMax - 8

// ErrNoCommand is returned when the firmware dictionary lacks a command.
var ErrNoCommand = errors.New("bridge: command not in firmware dictionary")

// CommandError is a failure reported by the firmware.
type CommandError struct {
	Command string
	Status  core.StatusCode
}

func (e *CommandError) Error() string {
	return "bridge: " + e.Command + ": " + e.Status.Err().Error()
}

// Unwrap returns the core sentinel the status stands for, so callers can
// test results with errors.Is(err, core.ErrAddressNACK) and friends.
func (e *CommandError) Unwrap() error { return e.Status.Err() }

// Config holds the request timing
type Config struct {
	Timeout time.Duration // Per attempt
	Retries int           // Retransmissions after the first attempt
}

// DefaultConfig returns the timing used by the host tools.
func DefaultConfig() Config {
	return Config{Timeout: 250 * time.Millisecond, Retries: 3}
}

// Status is the firmware's view of the master.
type Status struct {
	State        core.TransactionState
	PendingReads int
	Hardware     core.Status // Raw MSTATUS
}

// Bus is a TWI bus on the far side of a bridge link.
type Bus struct {
	mu   sync.Mutex
	tr   *protocol.HostTransport
	name string
	cfg  Config

	version    string
	dictionary string
	commands   map[string]uint16
}

// Open identifies the firmware on port and returns the remote bus. The
// port is owned by the returned Bus and closed with it.
func Open(port io.ReadWriteCloser, name string, cfg Config) (*Bus, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	b := &Bus{
		tr:   protocol.NewHostTransportSeq(port, uint8(time.Now().UnixNano())),
		name: name,
		cfg:  cfg,
	}
	if err := b.identify(); err != nil {
		b.tr.Close()
		return nil, fmt.Errorf("identify %s: %w", name, err)
	}
	return b, nil
}

// identify retrieves the dictionary in chunks
func (b *Bus) identify() error {
	var dict strings.Builder
	for {
		out := protocol.NewScratchOutput()
		protocol.EncodeVLQUint(out, 0) // identify is always command 0
		protocol.EncodeVLQUint(out, uint32(dict.Len()))
		protocol.EncodeVLQUint(out, core.IdentifyChunk)

		resp, err := b.tr.Call(out.Result(), b.cfg.Timeout, b.cfg.Retries)
		if err != nil {
			return err
		}
		status, err := protocol.DecodeVLQUint(&resp)
		if err != nil {
			return fmt.Errorf("failed to decode response status: %w", err)
		}
		if st := core.StatusCode(status); st != core.StatusOK {
			return &CommandError{Command: "identify", Status: st}
		}

		offset, err := protocol.DecodeVLQUint(&resp)
		if err != nil {
			return fmt.Errorf("failed to decode response offset: %w", err)
		}
		if int(offset) != dict.Len() {
			return fmt.Errorf("offset mismatch: expected %d, got %d", dict.Len(), offset)
		}
		chunk, err := protocol.DecodeVLQString(&resp)
		if err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
		if chunk == "" {
			break
		}
		dict.WriteString(chunk)
	}
	return b.parseDictionary(dict.String())
}

// parseDictionary reads "version X" followed by one "name format" line per
// command, in ID order.
func (b *Bus) parseDictionary(text string) error {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "version ") {
		return fmt.Errorf("dictionary has no version line")
	}
	b.version = strings.TrimPrefix(lines[0], "version ")
	if b.version != protocol.Version {
		return fmt.Errorf("firmware speaks %q, want %q", b.version, protocol.Version)
	}

	b.commands = make(map[string]uint16)
	for id, line := range lines[1:] {
		name, _, _ := strings.Cut(line, " ")
		b.commands[name] = uint16(id)
	}
	b.dictionary = text
	return nil
}

// Version returns the protocol version the firmware reported.
func (b *Bus) Version() string { return b.version }

// Dictionary returns the raw firmware dictionary.
func (b *Bus) Dictionary() string { return b.dictionary }

// call runs one command and returns its response fields.
func (b *Bus) call(name string, args func(out protocol.OutputBuffer)) ([]byte, error) {
	id, ok := b.commands[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNoCommand)
	}

	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(id))
	if args != nil {
		args(out)
	}
	if out.Overflow() {
		return nil, fmt.Errorf("%s: %w", name, protocol.ErrPayloadTooLarge)
	}

	resp, err := b.tr.Call(out.Result(), b.cfg.Timeout, b.cfg.Retries)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	status, err := protocol.DecodeVLQUint(&resp)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to decode response status: %w", name, err)
	}
	if st := core.StatusCode(status); st != core.StatusOK {
		return nil, &CommandError{Command: name, Status: st}
	}
	return resp, nil
}

func (b *Bus) callByte(name string) (byte, error) {
	resp, err := b.call(name, nil)
	if err != nil {
		return 0, err
	}
	v, err := protocol.DecodeVLQByte(&resp)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// Start opens a transaction on the remote bus. See core.Master.Start.
func (b *Bus) Start(addr core.I2CAddress, readCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start("twi_start", addr, readCount)
}

// Restart sends a repeated START. See core.Master.Restart.
func (b *Bus) Restart(addr core.I2CAddress, readCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start("twi_restart", addr, readCount)
}

func (b *Bus) start(cmd string, addr core.I2CAddress, readCount int) error {
	if addr > 0x7F {
		return core.ErrInvalidAddress
	}
	if readCount < 0 {
		return core.ErrInvalidReadCount
	}
	_, err := b.call(cmd, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(addr))
		protocol.EncodeVLQUint(out, uint32(readCount))
	})
	return err
}

// WriteByte sends one data byte. See core.Master.Write.
func (b *Bus) WriteByte(c byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeByte(c)
}

func (b *Bus) writeByte(c byte) error {
	_, err := b.call("twi_write", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(c))
	})
	return err
}

// ReadByte receives one data byte. See core.Master.Read.
func (b *Bus) ReadByte() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callByte("twi_read")
}

// ReadLast receives the final byte and NACKs it. See core.Master.ReadLast.
func (b *Bus) ReadLast() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callByte("twi_read_last")
}

// Stop ends the transaction. See core.Master.Stop.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.call("twi_stop", nil)
	return err
}

// Status returns the master state as the firmware sees it.
func (b *Bus) Status() (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.call("twi_status", nil)
	if err != nil {
		return Status{}, err
	}
	state, err := protocol.DecodeVLQUint(&resp)
	if err != nil {
		return Status{}, err
	}
	pending, err := protocol.DecodeVLQUint(&resp)
	if err != nil {
		return Status{}, err
	}
	hw, err := protocol.DecodeVLQByte(&resp)
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:        core.TransactionState(state),
		PendingReads: int(pending),
		Hardware:     core.Status(hw),
	}, nil
}

// Tx implements i2c.Bus and drivers.I2C: write w, repeated START, read
// into r, STOP. Short transfers take one round trip.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return core.ErrInvalidAddress
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(w) <= TxWriteMax && len(r) <= core.TxReadMax {
		return b.tx(uint8(addr), w, r)
	}
	return b.txBytewise(core.I2CAddress(addr), w, r)
}

func (b *Bus) tx(addr uint8, w, r []byte) error {
	resp, err := b.call("twi_tx", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(addr))
		protocol.EncodeVLQBytes(out, w)
		protocol.EncodeVLQUint(out, uint32(len(r)))
	})
	if err != nil {
		return err
	}
	data, err := protocol.DecodeVLQBytes(&resp)
	if err != nil {
		return fmt.Errorf("twi_tx: %w", err)
	}
	if len(data) != len(r) {
		return fmt.Errorf("twi_tx: got %d bytes, want %d", len(data), len(r))
	}
	copy(r, data)
	return nil
}

// txBytewise drives a long transfer with the primitives. Any failure after
// the address phase releases the bus before returning.
func (b *Bus) txBytewise(addr core.I2CAddress, w, r []byte) (err error) {
	open := false
	defer func() {
		if err != nil && open {
			_, _ = b.call("twi_stop", nil)
		}
	}()

	if len(w) > 0 || len(r) == 0 {
		if err := b.start("twi_start", addr, 0); err != nil {
			return err
		}
		open = true
		for _, c := range w {
			if err := b.writeByte(c); err != nil {
				return err
			}
		}
	}

	if len(r) > 0 {
		cmd := "twi_start"
		if open {
			cmd = "twi_restart"
		}
		if err := b.start(cmd, addr, len(r)); err != nil {
			open = false // Address failures leave the bus idle
			return err
		}
		open = true
		last := len(r) - 1
		for i := 0; i < last; i++ {
			if r[i], err = b.callByte("twi_read"); err != nil {
				return err
			}
		}
		if r[last], err = b.callByte("twi_read_last"); err != nil {
			return err
		}
	}

	open = false
	_, err = b.call("twi_stop", nil)
	return err
}

// Write implements core.I2CDriver.
func (b *Bus) Write(addr core.I2CAddress, data []byte) error {
	return b.Tx(uint16(addr), data, nil)
}

// Read implements core.I2CDriver.
func (b *Bus) Read(addr core.I2CAddress, regData []byte, readLen uint8) ([]byte, error) {
	buf := make([]byte, readLen)
	if err := b.Tx(uint16(addr), regData, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Scan implements core.I2CDriver.
func (b *Bus) Scan() ([]core.I2CAddress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.call("twi_scan", nil)
	if err != nil {
		return nil, err
	}
	raw, err := protocol.DecodeVLQBytes(&resp)
	if err != nil {
		return nil, fmt.Errorf("twi_scan: %w", err)
	}
	found := make([]core.I2CAddress, len(raw))
	for i, a := range raw {
		found[i] = core.I2CAddress(a)
	}
	return found, nil
}

// SetSpeed implements i2c.Bus. The rise time follows the standard profile
// for the requested mode.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return core.ErrInvalidBaud
	}
	hz := int64(f / physic.Hertz)
	if hz <= 0 || hz > int64(core.Profile1MHz.FrequencyHz) {
		return core.ErrInvalidBaud
	}
	profile := ProfileFor(uint32(hz))

	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.call("twi_set_speed", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, profile.FrequencyHz)
		protocol.EncodeVLQUint(out, profile.RiseTimeNs)
	})
	return err
}

// ProfileFor returns hz with the rise time of the slowest standard mode
// that covers it.
func ProfileFor(hz uint32) core.BusProfile {
	p := core.Profile1MHz
	switch {
	case hz <= core.Profile100kHz.FrequencyHz:
		p = core.Profile100kHz
	case hz <= core.Profile400kHz.FrequencyHz:
		p = core.Profile400kHz
	}
	p.FrequencyHz = hz
	return p
}

// String implements i2c.Bus.
func (b *Bus) String() string {
	return "bridge(" + b.name + ")"
}

// Close implements io.Closer. It closes the serial link.
func (b *Bus) Close() error {
	return b.tr.Close()
}
