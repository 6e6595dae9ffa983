//go:build avr

// Bridge firmware: serves the TWI master primitives over the UART.
package main

import (
	"machine"
	"time"

	"megatwi/core"
)

const (
	// UART rate of the bridge link, matching the host default
	linkBaud = 115200

	// TWI0 default pin mapping (PA2/PA3)
	sdaPin core.GPIOPin = 2
	sclPin core.GPIOPin = 3
)

var (
	master *core.Master
	bridge *core.Bridge
)

func main() {
	uart := machine.DefaultUART
	uart.Configure(machine.UARTConfig{BaudRate: linkBaud})

	cfg := core.DefaultBusConfig(sdaPin, sclPin)
	cfg.CoreClockHz = machine.CPUFrequency()

	master = core.NewMaster(twi0{}, pins{}, cfg)
	// A failed init leaves the master unusable; every bus command then
	// answers with a status code the host can read.
	_ = master.Init()

	// Debug output would share the UART with the protocol and stays off.
	core.SetDebugEnabled(false)

	bridge = core.NewBridge(core.NewTWIBus(master))
	link := uartLink{uart: uart}
	for {
		if err := bridge.Serve(link); err != nil {
			time.Sleep(10 * time.Millisecond)
		}
	}
}
