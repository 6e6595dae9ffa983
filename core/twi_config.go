package core

// Bus speed profiles. Rise time depends on bus capacitance and pull-up
// strength; pick the profile that matches the board.
var (
	Profile100kHz = BusProfile{FrequencyHz: 100000, RiseTimeNs: 1000}
	Profile400kHz = BusProfile{FrequencyHz: 400000, RiseTimeNs: 300}
	Profile1MHz   = BusProfile{FrequencyHz: 1000000, RiseTimeNs: 120}
)

const (
	// DefaultCoreClockHz is the main clock with the prescaler disabled.
	DefaultCoreClockHz = 20000000

	// DefaultPollLimit bounds every status polling loop. At 400 kHz one byte
	// takes ~23 us; this is several milliseconds of spinning on any core clock.
	DefaultPollLimit = 100000
)

// BusProfile selects the SCL frequency and the expected rise time.
type BusProfile struct {
	FrequencyHz uint32 // Target SCL frequency in Hz
	RiseTimeNs  uint32 // Bus rise time in nanoseconds
}

// BusConfig is everything Master.Init needs to bring the peripheral up.
type BusConfig struct {
	BusProfile

	CoreClockHz uint32  // Peripheral clock (F_CPU) in Hz
	SDA         GPIOPin // Data line
	SCL         GPIOPin // Clock line

	// PollLimit is the number of status reads a wait loop may spend before
	// giving up with ErrTimeout. Zero selects DefaultPollLimit.
	PollLimit int
}

// DefaultBusConfig returns a 400 kHz configuration at the default core clock.
func DefaultBusConfig(sda, scl GPIOPin) BusConfig {
	return BusConfig{
		BusProfile:  Profile400kHz,
		CoreClockHz: DefaultCoreClockHz,
		SDA:         sda,
		SCL:         scl,
	}
}

// BaudDivider computes the MBAUD value:
//
//	(fCore/fSCL - fCore*tRise/1e9 - 10) / 2
//
// The product fCore*tRise is taken in 64 bits; it exceeds 32 bits for
// ordinary clocks. ErrInvalidBaud is returned when the result does not fit
// the 8-bit register.
func (c BusConfig) BaudDivider() (uint8, error) {
	if c.CoreClockHz == 0 || c.FrequencyHz == 0 {
		return 0, ErrInvalidBaud
	}
	core := int64(c.CoreClockHz)
	period := core / int64(c.FrequencyHz)
	rise := core * int64(c.RiseTimeNs) / 1000 / 1000 / 1000
	baud := (period - rise - 10) / 2
	if baud < 0 || baud > 0xFF {
		return 0, ErrInvalidBaud
	}
	return uint8(baud), nil
}

func (c BusConfig) pollLimit() int {
	if c.PollLimit <= 0 {
		return DefaultPollLimit
	}
	return c.PollLimit
}
