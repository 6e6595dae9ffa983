package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// BusEvent captures one bus operation for post-mortem analysis
type BusEvent struct {
	Kind   EventKind
	Addr   uint8  // Address byte as written to MADDR (address<<1 | dir)
	Value  uint8  // Data byte, when the event moved one
	Status Status // MSTATUS snapshot when the operation finished
}

// EventKind identifies the operation recorded in a BusEvent.
type EventKind uint8

// Event kinds
const (
	EvtNone     EventKind = iota
	EvtInit               // Init programmed the peripheral
	EvtStart              // Address phase finished
	EvtWrite              // Data byte transmitted
	EvtRead               // Data byte received and ACKed
	EvtReadLast           // Data byte received and NACKed
	EvtStop               // STOP issued and bus idle
	EvtFault              // Arbitration lost, bus error or timeout
)

// String returns the name used in event dumps.
func (k EventKind) String() string {
	switch k {
	case EvtInit:
		return "INIT"
	case EvtStart:
		return "START"
	case EvtWrite:
		return "WRITE"
	case EvtRead:
		return "READ"
	case EvtReadLast:
		return "READ_NACK"
	case EvtStop:
		return "STOP"
	case EvtFault:
		return "FAULT!"
	default:
		return "UNKNOWN"
	}
}

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// EventRing is a fixed-size ring of the most recent bus events.
// Recording never allocates.
type EventRing struct {
	events [EventRingSize]BusEvent
	head   uint8 // Next write position
	count  uint8
}

// Record appends an event, overwriting the oldest when full.
func (r *EventRing) Record(kind EventKind, addr, value uint8, status Status) {
	idx := r.head
	r.events[idx] = BusEvent{Kind: kind, Addr: addr, Value: value, Status: status}
	r.head = (idx + 1) % EventRingSize
	if r.count < EventRingSize {
		r.count++
	}
}

// Events returns the recorded events, oldest first.
func (r *EventRing) Events() []BusEvent {
	out := make([]BusEvent, 0, r.count)
	start := (r.head + EventRingSize - r.count) % EventRingSize
	for i := uint8(0); i < r.count; i++ {
		out = append(out, r.events[(start+i)%EventRingSize])
	}
	return out
}

// Clear drops all recorded events.
func (r *EventRing) Clear() {
	*r = EventRing{}
}

// Dump writes the ring through w, oldest first. A nil writer uses the
// platform debug writer.
func (r *EventRing) Dump(w DebugWriter) {
	if w == nil {
		w = debugPrintln
	}
	if w == nil {
		return
	}

	w("[TWI] === Bus Event Dump ===")
	for _, evt := range r.Events() {
		w("[TWI] " + evt.Kind.String() +
			" addr=" + hex8(evt.Addr) +
			" value=" + hex8(evt.Value) +
			" status=" + hex8(uint8(evt.Status)) +
			" bus=" + evt.Status.BusState().String())
	}
	w("[TWI] === End Dump ===")
}
