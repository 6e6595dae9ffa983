//go:build avr

package main

import (
	"machine"
	"runtime"
)

// uartLink adapts machine.Serial to the io.ReadWriter Bridge.Serve expects.
// Read blocks until at least one byte has arrived.
type uartLink struct {
	uart *machine.UART
}

func (l uartLink) Read(b []byte) (int, error) {
	for l.uart.Buffered() == 0 {
		runtime.Gosched()
	}
	n := 0
	for n < len(b) && l.uart.Buffered() > 0 {
		c, err := l.uart.ReadByte()
		if err != nil {
			return n, err
		}
		b[n] = c
		n++
	}
	return n, nil
}

func (l uartLink) Write(b []byte) (int, error) {
	return l.uart.Write(b)
}
