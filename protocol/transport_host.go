package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrResponseTimeout is returned when no matching response arrived
	// after all retransmissions.
	ErrResponseTimeout = errors.New("response timeout")

	// ErrTransportClosed is returned by calls on a closed transport.
	ErrTransportClosed = errors.New("transport stopped")
)

// HostTransport handles the bridge protocol from the host side.
// Every request frame is answered by exactly one response frame carrying
// the same sequence number. A request that gets no answer in time is
// retransmitted unchanged; the firmware answers a retransmission from its
// cache instead of repeating the bus operation.
type HostTransport struct {
	// Serial I/O
	port io.ReadWriteCloser

	// Sequence tracking (0x10-0x1F for host messages)
	currentSeq uint8

	dec *Decoder

	// Channel for response messages
	responseChan chan Frame

	// callMutex serializes request/response exchanges
	callMutex sync.Mutex

	// Stop channel for graceful shutdown
	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once

	// Stale counts responses discarded because their sequence number did
	// not match the outstanding request.
	Stale int

	// Retransmits counts requests sent more than once.
	Retransmits int
}

// NewHostTransport creates a new host-side transport
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	return NewHostTransportSeq(port, MessageDest)
}

// NewHostTransportSeq creates a transport whose first request uses the
// sequence number following seq.
func NewHostTransportSeq(port io.ReadWriteCloser, seq uint8) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   (seq & MessageSeqMask) | MessageDest,
		dec:          NewDecoder(),
		responseChan: make(chan Frame, 16), // Buffered for responses
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	// Start background reader
	go t.readLoop()

	return t
}

// Call sends payload and waits for the response with the same sequence
// number, retransmitting up to retries times when timeout expires.
func (t *HostTransport) Call(payload []byte, timeout time.Duration, retries int) ([]byte, error) {
	t.callMutex.Lock()
	defer t.callMutex.Unlock()

	seq := NextSeq(t.currentSeq)
	t.currentSeq = seq

	msg, err := EncodeFrame(seq, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build command: %w", err)
	}

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			t.Retransmits++
		}
		if err := t.writeMessage(msg); err != nil {
			return nil, fmt.Errorf("failed to write message: %w", err)
		}

		resp, err := t.waitResponse(seq, timeout)
		if err == nil {
			return resp.Payload, nil
		}
		if err != ErrResponseTimeout {
			return nil, err
		}
	}
	return nil, fmt.Errorf("seq 0x%02x: %w after %d attempts", seq, ErrResponseTimeout, retries+1)
}

// writeMessage sends a message to the serial port
func (t *HostTransport) writeMessage(msg []byte) error {
	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// waitResponse waits for the response to seq, dropping stale ones
func (t *HostTransport) waitResponse(seq uint8, timeout time.Duration) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-t.responseChan:
			if resp.Seq != seq {
				t.Stale++
				continue
			}
			return resp, nil

		case <-timer.C:
			return Frame{}, ErrResponseTimeout

		case <-t.stopChan:
			return Frame{}, ErrTransportClosed
		}
	}
}

// readLoop continuously reads from serial port and queues complete frames
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		n, err := t.port.Read(buffer)
		if n > 0 {
			t.dec.Write(buffer[:n])
			for {
				f, ok := t.dec.Next()
				if !ok {
					break
				}
				t.dispatch(f)
			}
		}
		if err != nil {
			select {
			case <-t.stopChan:
				return
			default:
			}
			// Serial read timeouts surface as io.EOF; keep polling
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// dispatch queues a response, dropping the oldest when nobody is reading
func (t *HostTransport) dispatch(f Frame) {
	select {
	case t.responseChan <- f:
	default:
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- f
	}
}

// Close stops the transport and closes the serial port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close() // Unblocks the read loop
		}
		<-t.doneChan
	})
	return err
}

// Dropped returns the number of line bytes discarded while resynchronizing.
// It is only meaningful once the transport is closed.
func (t *HostTransport) Dropped() int {
	return t.dec.Dropped
}

// GetCurrentSequence returns the sequence number of the last request (for debugging)
func (t *HostTransport) GetCurrentSequence() uint8 {
	t.callMutex.Lock()
	defer t.callMutex.Unlock()
	return t.currentSeq
}
