package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakePort is an in-memory serial.Port. Reads are fed through readCh and
// unblock with an error once the port is closed, mirroring how the real
// driver interrupts pending reads.
type fakePort struct {
	readCh    chan []byte
	closedCh  chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	written    []byte
	writeErr   error
	writeLimit int
}

var _ serial.Port = (*fakePort)(nil)

func newFakePort() *fakePort {
	return &fakePort{
		readCh:   make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case chunk, ok := <-p.readCh:
		if !ok {
			return 0, errors.New("remote end hung up")
		}
		return copy(buf, chunk), nil
	case <-p.closedCh:
		return 0, errors.New("port closed")
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	n := len(data)
	if p.writeLimit > 0 && n > p.writeLimit {
		n = p.writeLimit
	}
	p.written = append(p.written, data[:n]...)
	return n, nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closedCh) })
	return nil
}

func (p *fakePort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.written))
	copy(out, p.written)
	return out
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closedCh:
		return true
	default:
		return false
	}
}

func (p *fakePort) SetMode(*serial.Mode) error                           { return nil }
func (p *fakePort) Drain() error                                         { return nil }
func (p *fakePort) ResetInputBuffer() error                              { return nil }
func (p *fakePort) ResetOutputBuffer() error                             { return nil }
func (p *fakePort) SetDTR(bool) error                                    { return nil }
func (p *fakePort) SetRTS(bool) error                                    { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (p *fakePort) SetReadTimeout(time.Duration) error                   { return nil }
func (p *fakePort) Break(time.Duration) error                            { return nil }

// collectEvents returns an emit func feeding a buffered channel.
func collectEvents() (EmitFunc, chan Event) {
	events := make(chan Event, 64)
	return func(ev Event) { events <- ev }, events
}

func waitEvent(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return nil
	}
}

func expectNoEvent(t *testing.T, events chan Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected transport event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// stubOpenPort reroutes port opening to fakes for the test's duration.
func stubOpenPort(t *testing.T, open func(name string, mode *serial.Mode) (serial.Port, error)) {
	t.Helper()
	previous := openSerialPort
	openSerialPort = open
	t.Cleanup(func() { openSerialPort = previous })
}
