// TWI master driver
// Drives one hardware TWI peripheral in master mode by polling its status
// register: no interrupts, one transaction at a time.
package core

// TransactionState is the phase of the transaction a Master is driving.
type TransactionState uint8

// Transaction states
const (
	StateIdle       TransactionState = iota // No transaction open (after Init or Stop)
	StateAddressing                         // START and address byte in flight
	StateWriting                            // Address acknowledged, write direction
	StateReading                            // Address acknowledged, read direction
)

// String returns the state name.
func (s TransactionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAddressing:
		return "addressing"
	case StateWriting:
		return "writing"
	case StateReading:
		return "reading"
	default:
		return "invalid"
	}
}

// Master is the bus master state machine for one TWI peripheral.
//
// A Master is not safe for concurrent use. Every call runs to completion on
// the calling goroutine; callers that share a bus serialize access (TWIBus
// does this with a mutex).
type Master struct {
	regs TWIRegisters
	pins PinDriver
	cfg  BusConfig

	initialized  bool
	state        TransactionState
	addr         uint8 // Address byte of the open transaction
	pendingReads int   // Bytes still to be ACKed in the open read transaction
	finalNACKed  bool  // The last received byte was NACKed

	// Events holds the most recent bus operations for post-mortem dumps.
	Events EventRing
}

// NewMaster creates a master over regs. pins may be nil when the target
// configures the bus lines itself.
func NewMaster(regs TWIRegisters, pins PinDriver, cfg BusConfig) *Master {
	return &Master{
		regs: regs,
		pins: pins,
		cfg:  cfg,
	}
}

// Config returns the bus configuration.
func (m *Master) Config() BusConfig {
	return m.cfg
}

// State returns the transaction state.
func (m *Master) State() TransactionState {
	return m.state
}

// PendingReads returns how many more bytes the open read transaction will ACK.
func (m *Master) PendingReads() int {
	return m.pendingReads
}

// Init configures SDA and SCL as pulled-up inputs, programs the clock
// divider, enables the peripheral as a polled master and forces the bus
// state to idle. It must be called before any other operation and must not
// be called while a transaction is open.
func (m *Master) Init() error {
	baud, err := m.cfg.BaudDivider()
	if err != nil {
		return err
	}

	if m.pins != nil {
		if err := m.pins.ConfigureInputPullUp(m.cfg.SDA); err != nil {
			return err
		}
		if err := m.pins.ConfigureInputPullUp(m.cfg.SCL); err != nil {
			return err
		}
	}

	m.regs.SetBaud(baud)
	m.regs.SetCtrlA(CtrlAEnable) // Enable as master, no interrupts
	m.regs.SetStatus(uint8(BusIdle))

	m.initialized = true
	m.state = StateIdle
	m.pendingReads = 0
	m.finalNACKed = false

	m.Events.Record(EvtInit, 0, baud, m.status())
	DebugPrintln("[TWI] init freq=" + itoa(int(m.cfg.FrequencyHz)) + " baud=" + itoa(int(baud)))
	return nil
}

// SetFrequency reprograms the bus for a new SCL frequency and rise time.
// The bus must be idle.
func (m *Master) SetFrequency(profile BusProfile) error {
	if m.state != StateIdle {
		return ErrTransactionOpen
	}
	cfg := m.cfg
	cfg.BusProfile = profile
	if _, err := cfg.BaudDivider(); err != nil {
		return err
	}
	m.cfg = cfg
	return m.Init()
}

// Start sends START followed by the address byte. readCount 0 opens a write
// transaction; a positive readCount opens a read transaction of that many
// bytes.
//
// On arbitration loss or bus error Start waits for the bus to go idle before
// returning. When the address is not acknowledged Start issues STOP itself
// and waits for idle. When the address phase times out Start issues STOP
// and returns ErrTimeout. In every case the master is back in StateIdle and
// the caller may retry with a fresh Start.
func (m *Master) Start(addr I2CAddress, readCount int) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if addr > 0x7F {
		return ErrInvalidAddress
	}
	if readCount < 0 {
		return ErrInvalidReadCount
	}

	var dir uint8
	m.pendingReads = 0
	if readCount > 0 {
		m.pendingReads = readCount
		dir = 1
	}
	m.finalNACKed = false
	m.addr = uint8(addr)<<1 | dir
	m.state = StateAddressing

	m.regs.SetAddr(m.addr) // Hardware sends START (or repeated START) and the address

	st, err := m.waitFor(StatusWriteIF | StatusReadIF | StatusArbLost | StatusBusErr)
	if err != nil {
		// The address phase never completed; release the bus if we hold it.
		m.regs.SetCtrlB(CmdStop)
		st, _ = m.waitIdle()
		m.state = StateIdle
		m.pendingReads = 0
		m.Events.Record(EvtFault, m.addr, 0, st)
		return err
	}

	if st.ArbitrationLost() || st.BusError() {
		return m.abandon(busFault(st), m.addr, 0, st)
	}

	if !st.Acked() {
		m.regs.SetCtrlB(CmdStop)
		st, err = m.waitIdle()
		m.state = StateIdle
		m.pendingReads = 0
		m.Events.Record(EvtFault, m.addr, 0, st)
		if err != nil {
			return err
		}
		DebugPrintln("[TWI] no ACK from " + hex8(uint8(addr)))
		return ErrAddressNACK
	}

	if dir == 1 {
		m.state = StateReading
	} else {
		m.state = StateWriting
	}
	m.Events.Record(EvtStart, m.addr, 0, st)
	return nil
}

// Restart sends a repeated START with a new address and direction without
// releasing the bus. The contract is that of Start.
func (m *Master) Restart(addr I2CAddress, readCount int) error {
	return m.Start(addr, readCount)
}

// Write transmits one byte in an open write transaction and waits for it to
// complete. It returns nil only if the peer acknowledged this byte. After
// ErrDataNACK the transaction stays open and nothing more is sent; the
// caller decides between Stop and Restart.
func (m *Master) Write(data byte) error {
	if m.state != StateWriting {
		return ErrWrongDirection
	}

	m.regs.SetCtrlB(CmdRecvTrans) // Prime transaction
	m.regs.SetData(data)

	st, err := m.waitFor(StatusWriteIF | StatusArbLost | StatusBusErr)
	if err != nil {
		m.Events.Record(EvtFault, m.addr, data, st)
		return err
	}

	if st.ArbitrationLost() || st.BusError() {
		return m.abandon(busFault(st), m.addr, data, st)
	}

	if !st.Acked() {
		m.Events.Record(EvtFault, m.addr, data, st)
		return ErrDataNACK
	}

	m.Events.Record(EvtWrite, m.addr, data, st)
	return nil
}

// Read receives one byte in an open read transaction. The byte is ACKed
// while more bytes remain of the count given to Start, and NACKed when it is
// the last one. Reading past the NACKed byte returns ErrReadOverrun.
func (m *Master) Read() (byte, error) {
	if m.state != StateReading {
		return 0, ErrWrongDirection
	}
	if m.finalNACKed {
		return 0, ErrReadOverrun
	}

	st, err := m.waitFor(StatusReadIF | StatusArbLost | StatusBusErr)
	if err != nil {
		m.Events.Record(EvtFault, m.addr, 0, st)
		return 0, err
	}

	if st.ArbitrationLost() || st.BusError() {
		return 0, m.abandon(busFault(st), m.addr, 0, st)
	}

	if m.pendingReads != 0 {
		m.pendingReads--
	}
	data := m.regs.Data()

	if m.pendingReads != 0 {
		m.regs.SetCtrlB(CmdRecvTrans) // ACK: more bytes to read
		m.Events.Record(EvtRead, m.addr, data, st)
	} else {
		m.regs.SetCtrlB(AckActNACK | CmdRecvTrans) // NACK: final byte
		m.finalNACKed = true
		m.Events.Record(EvtReadLast, m.addr, data, st)
	}

	return data, nil
}

// ReadLast receives the final byte of a read transaction and NACKs it,
// whatever count was passed to Start.
func (m *Master) ReadLast() (byte, error) {
	if m.state != StateReading {
		return 0, ErrWrongDirection
	}
	if m.finalNACKed {
		return 0, ErrReadOverrun
	}
	m.pendingReads = 0
	return m.Read()
}

// Stop sends STOP and waits until the bus reports idle, so a new Start can
// follow immediately. Stop on an idle bus leaves it idle.
func (m *Master) Stop() error {
	if !m.initialized {
		return ErrNotInitialized
	}

	if m.state == StateReading && !m.finalNACKed {
		DebugPrintln("[TWI] stop with " + itoa(m.pendingReads) + " reads pending; peer was ACKed")
	}

	m.regs.SetCtrlB(AckActNACK | CmdStop)
	st, err := m.waitIdle()

	m.state = StateIdle
	m.pendingReads = 0
	m.finalNACKed = false

	if err != nil {
		m.Events.Record(EvtFault, m.addr, 0, st)
		return err
	}
	m.Events.Record(EvtStop, m.addr, 0, st)
	return nil
}

// abandon handles arbitration loss and bus errors: the peripheral has
// already released the bus, so wait for it to settle and drop the
// transaction.
func (m *Master) abandon(cause error, addr, data uint8, st Status) error {
	m.Events.Record(EvtFault, addr, data, st)
	DebugPrintln("[TWI] " + cause.Error() + " at " + hex8(addr))

	_, err := m.waitIdle()
	m.state = StateIdle
	m.pendingReads = 0
	m.finalNACKed = false
	if err != nil {
		return err
	}
	return cause
}

func (m *Master) status() Status {
	return Status(m.regs.Status())
}

// waitFor polls MSTATUS until one of the mask bits is set.
func (m *Master) waitFor(mask uint8) (Status, error) {
	var st Status
	for i := m.cfg.pollLimit(); i > 0; i-- {
		st = m.status()
		if uint8(st)&mask != 0 {
			return st, nil
		}
	}
	return st, ErrTimeout
}

// waitIdle polls MSTATUS until the bus state field reads idle.
func (m *Master) waitIdle() (Status, error) {
	var st Status
	for i := m.cfg.pollLimit(); i > 0; i-- {
		st = m.status()
		if st.Idle() {
			return st, nil
		}
	}
	return st, ErrTimeout
}

func busFault(st Status) error {
	if st.ArbitrationLost() {
		return ErrArbitrationLost
	}
	return ErrBusError
}
