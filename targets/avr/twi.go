//go:build avr

package main

import (
	"device/avr"
	"machine"

	"megatwi/core"
)

// twi0 maps core.TWIRegisters onto the TWI0 master registers.
// Every access goes straight to the volatile register.
type twi0 struct{}

func (twi0) SetBaud(v uint8)   { avr.TWI0.MBAUD.Set(v) }
func (twi0) SetCtrlA(v uint8)  { avr.TWI0.MCTRLA.Set(v) }
func (twi0) SetCtrlB(v uint8)  { avr.TWI0.MCTRLB.Set(v) }
func (twi0) Status() uint8     { return avr.TWI0.MSTATUS.Get() }
func (twi0) SetStatus(v uint8) { avr.TWI0.MSTATUS.Set(v) }
func (twi0) SetAddr(v uint8)   { avr.TWI0.MADDR.Set(v) }
func (twi0) Data() uint8       { return avr.TWI0.MDATA.Get() }
func (twi0) SetData(v uint8)   { avr.TWI0.MDATA.Set(v) }

// pins configures the bus lines through machine.Pin
type pins struct{}

// ConfigureInputPullUp implements core.PinDriver.
func (pins) ConfigureInputPullUp(pin core.GPIOPin) error {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return nil
}
