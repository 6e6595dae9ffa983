package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint8

// PinDriver is the abstract pin interface the bus driver uses to prepare the
// SDA and SCL lines. The bus is open-drain, so both lines idle high through
// the pull-ups configured here.
type PinDriver interface {
	// ConfigureInputPullUp configures a pin as a digital input with pull-up resistor
	ConfigureInputPullUp(pin GPIOPin) error
}
