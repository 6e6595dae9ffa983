package bridge

import (
	"net"

	"megatwi/core"
)

// Loopback serves fw on an in-memory link and opens a Bus on the other
// end. It lets host code run against a simulated bus with the real
// protocol in between.
func Loopback(fw *core.Bridge, name string, cfg Config) (*Bus, error) {
	host, dev := net.Pipe()
	go func() {
		_ = fw.Serve(dev)
		dev.Close()
	}()

	b, err := Open(host, name, cfg)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return b, nil
}
